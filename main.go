package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	config "github.com/HizumeKazushi/pdftopng/config"
	database "github.com/HizumeKazushi/pdftopng/database"
	engine "github.com/HizumeKazushi/pdftopng/engine"
	pdfrenderer "github.com/HizumeKazushi/pdftopng/engine/pdfrenderer"
	storage "github.com/HizumeKazushi/pdftopng/storage"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

// injectGlobals injects all of our globals into their packages
func injectGlobals(logger *slog.Logger) {
	Logger = logger
	database.Logger = Logger
	config.Logger = Logger
	engine.Logger = Logger
	pdfrenderer.Logger = Logger
	storage.Logger = Logger
}

func main() {
	serverConfig, logger := config.SetupServer()
	injectGlobals(logger) //inject the logger into all of the packages

	if serverConfig.DatabaseType == "ephemeral" {
		fmt.Println("\n" + strings.Repeat("=", 50))
		fmt.Println("🚀  EPHEMERAL LEDGER MODE")
		fmt.Println(strings.Repeat("=", 50))
		fmt.Println("• Job history is kept in memory only")
		fmt.Println("• Rendered pages still follow STORAGE_BACKEND")
		fmt.Println(strings.Repeat("=", 50) + "\n")
	}

	// The ledger is optional, conversions work without it
	var ledger database.Repository
	if serverConfig.DatabaseType != "none" {
		Logger.Info("Setting up database", "type", serverConfig.DatabaseType)
		db, err := database.NewRepository(serverConfig)
		if err != nil {
			Logger.Error("Failed to set up database", "type", serverConfig.DatabaseType, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		ledger = db
		Logger.Info("Database setup complete")
	} else {
		Logger.Warn("Job ledger disabled, /api/jobs will be unavailable")
	}

	store, err := storage.Open(context.Background(), serverConfig)
	if err != nil {
		Logger.Error("Failed to open artifact store", "backend", serverConfig.StorageBackend, "error", err)
		os.Exit(1)
	}
	if fsStore, ok := store.(*storage.FSStore); ok {
		Logger.Info("Artifact store ready", "backend", "fs", "root", fsStore.Root())
	} else {
		Logger.Info("Artifact store ready", "backend", serverConfig.StorageBackend, "bucket", serverConfig.S3Bucket)
	}

	chain := pdfrenderer.NewDefaultChain(filepath.Join(serverConfig.ScratchPath, "render"), pdfrenderer.Options{
		Scale:         serverConfig.RenderScale,
		PdftoppmPath:  serverConfig.PdftoppmPath,
		NativeTimeout: serverConfig.NativeTimeout,
		PDFiumWorkers: serverConfig.MaxConcurrentJobs,
	})
	defer chain.Close()

	converter, err := engine.NewConverter(store, chain, engine.ConverterOptions{
		ScratchPath:       serverConfig.ScratchPath,
		MaxConcurrentJobs: serverConfig.MaxConcurrentJobs,
		MaxUploadBytes:    int64(serverConfig.MaxUploadMB) << 20,
		Ledger:            ledger,
	})
	if err != nil {
		Logger.Error("Failed to create converter", "error", err)
		os.Exit(1)
	}

	e := echo.New()
	e.HideBanner = true
	Logger.Info("Echo created")

	// API clients always get JSON back
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
		}

		if code == http.StatusNotFound && strings.HasPrefix(c.Request().URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, map[string]interface{}{
				"success": false,
				"error":   "The requested API endpoint does not exist",
				"path":    c.Request().URL.Path,
			})
			return
		}

		e.DefaultHTTPErrorHandler(err, c)
	}

	serverHandler := engine.ServerHandler{
		Echo:         e,
		ServerConfig: serverConfig,
		Converter:    converter,
		Packager:     engine.NewPackager(store),
		DB:           ledger,
		Backends:     chain.Backends(),
	} //injecting the converter and ledger into the handler for routes

	Logger.Info("Running startup checks")
	if err := serverHandler.StartupChecks(); err != nil {
		Logger.Error("Startup checks failed", "error", err)
		os.Exit(1)
	}

	schedules := serverHandler.InitializeSchedules(engine.NewRetentionSweeper(converter, ledger, serverConfig.Retention))
	defer schedules.Stop()

	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.DefaultCORSConfig))
	// multipart framing needs a little headroom over the PDF itself
	e.Use(middleware.BodyLimit(fmt.Sprintf("%dM", serverConfig.MaxUploadMB+1)))

	serverHandler.AddRoutes()
	Logger.Info("Routes registered", "backends", strings.Join(serverHandler.Backends, ","))

	if serverConfig.ListenAddrIP == "" {
		Logger.Info("No Ip Addr set, binding on ALL addresses")
	}

	Logger.Info("Starting HTTP server")

	// Try to start server with automatic port increment if port is in use
	maxRetries := 5
	startPort := serverConfig.ListenAddrPort
	var startErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		addr := fmt.Sprintf("%s:%s", serverConfig.ListenAddrIP, serverConfig.ListenAddrPort)
		Logger.Info("Attempting to start server", "address", addr, "attempt", attempt+1)

		startErr = e.Start(addr)

		if startErr != nil && isAddressInUse(startErr) {
			Logger.Warn("Port already in use, trying next port",
				"port", serverConfig.ListenAddrPort,
				"attempt", attempt+1,
				"max_attempts", maxRetries)

			portNum := 0
			fmt.Sscanf(serverConfig.ListenAddrPort, "%d", &portNum)
			portNum++
			serverConfig.ListenAddrPort = fmt.Sprintf("%d", portNum)

			if attempt == maxRetries-1 {
				Logger.Error("Failed to find available port after maximum retries",
					"start_port", startPort,
					"end_port", serverConfig.ListenAddrPort,
					"max_retries", maxRetries)
				os.Exit(1)
			}
		} else if startErr != nil && startErr != http.ErrServerClosed {
			Logger.Error("Failed to start server", "error", startErr)
			os.Exit(1)
		} else {
			break
		}
	}

	if startErr == nil && serverConfig.ListenAddrPort != startPort {
		Logger.Warn("Server started on alternative port due to conflicts",
			"requested_port", startPort,
			"actual_port", serverConfig.ListenAddrPort)
	}
}

// isAddressInUse checks if the error is due to address already in use
func isAddressInUse(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "address already in use")
}
