package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/HizumeKazushi/pdftopng/database"
	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger = slog.Default()

// RetentionSweeper deletes jobs older than the retention window from the store and the ledger
type RetentionSweeper struct {
	store     storage.ArtifactStore
	ledger    database.Repository
	converter *Converter
	retention time.Duration
	now       func() time.Time
}

func NewRetentionSweeper(converter *Converter, ledger database.Repository, retention time.Duration) *RetentionSweeper {
	return &RetentionSweeper{
		store:     converter.Store(),
		ledger:    ledger,
		converter: converter,
		retention: retention,
		now:       time.Now,
	}
}

// Sweep removes expired jobs once and returns how many stored jobs it deleted.
// Job ids are ULIDs, so a job's age comes from its id.
func (s *RetentionSweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	jobs, err := s.store.Jobs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stored jobs: %w", err)
	}

	deleted := 0
	for _, jobID := range jobs {
		id, err := ulid.ParseStrict(jobID)
		if err != nil {
			continue
		}
		if !ulid.Time(id.Time()).Before(cutoff) || s.converter.InFlight(jobID) {
			continue
		}
		if err := s.store.Delete(ctx, jobID); err != nil {
			Logger.Warn("Failed to delete expired job", "jobID", jobID, "error", err)
			continue
		}
		deleted++
	}

	if s.ledger != nil {
		rows, err := s.ledger.DeleteJobsBefore(ctx, cutoff)
		if err != nil {
			return deleted, fmt.Errorf("prune job ledger: %w", err)
		}
		Logger.Debug("Pruned job ledger", "rows", rows)
	}
	return deleted, nil
}

func (s *RetentionSweeper) sweepJobFunc() {
	// a panic in a sweep must not take the server down
	defer func() {
		if r := recover(); r != nil {
			Logger.Error("Panic recovered in retention job", "panic", r)
		}
	}()

	deleted, err := s.Sweep(context.Background())
	if err != nil {
		Logger.Error("Retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		Logger.Info("Retention sweep removed expired jobs", "jobs", deleted, "retention", s.retention)
	}
}

// InitializeSchedules starts the retention sweeper; the returned cron must be stopped on shutdown
func (serverHandler *ServerHandler) InitializeSchedules(sweeper *RetentionSweeper) *cron.Cron {
	intervalMinutes := serverHandler.ServerConfig.RetentionInterval
	if intervalMinutes < 1 {
		intervalMinutes = 30
	}

	Logger.Info("Running retention sweep at startup")
	go sweeper.sweepJobFunc()

	c := cron.New()
	var sweepJob cron.Job
	sweepJob = cron.FuncJob(sweeper.sweepJobFunc)
	sweepJob = cron.NewChain(cron.SkipIfStillRunning(cron.DefaultLogger)).Then(sweepJob) //ensure we don't kick off another if old one is still running
	if _, err := c.AddJob(fmt.Sprintf("@every %dm", intervalMinutes), sweepJob); err != nil {
		Logger.Error("Unable to schedule retention sweep", "error", err)
	}
	Logger.Info("Adding retention job scheduler", "interval_minutes", intervalMinutes, "retention", serverHandler.ServerConfig.Retention)
	c.Start()
	return c
}
