package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// BulkArchiveName is the attachment name of a bulk download
const BulkArchiveName = "converted-images.zip"

// Packager bundles persisted pages into one zip archive
type Packager struct {
	store storage.ArtifactStore
}

func NewPackager(store storage.ArtifactStore) *Packager {
	return &Packager{store: store}
}

// Pack writes a flat zip of the referenced artifacts to w and returns the entry count.
// Missing artifacts are skipped; if none resolve, ErrEmptyArchive is returned before
// anything is written. A later reference with an already used file name is skipped.
func (p *Packager) Pack(ctx context.Context, refs []storage.Ref, w io.Writer) (int, error) {
	var resolved []storage.Ref
	seen := make(map[string]bool)
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := storage.ValidateRef(ref); err != nil {
			Logger.Info("Skipping invalid artifact reference", "ref", ref.String(), "error", err)
			continue
		}
		if seen[ref.Filename] {
			Logger.Warn("Skipping duplicate archive entry", "ref", ref.String())
			continue
		}
		ok, err := p.store.Exists(ctx, ref.JobID, ref.Filename)
		if err != nil {
			return 0, fmt.Errorf("resolve %s: %w", ref, err)
		}
		if !ok {
			Logger.Info("Skipping missing artifact", "ref", ref.String())
			continue
		}
		seen[ref.Filename] = true
		resolved = append(resolved, ref)
	}
	if len(resolved) == 0 {
		return 0, ErrEmptyArchive
	}

	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	written := 0
	for _, ref := range resolved {
		data, err := p.store.Get(ctx, ref.JobID, ref.Filename)
		if errors.Is(err, storage.ErrNotFound) {
			Logger.Warn("Artifact disappeared while packing", "ref", ref.String())
			continue
		}
		if err != nil {
			zw.Close()
			return written, fmt.Errorf("read %s: %w", ref, err)
		}
		entry, err := zw.CreateHeader(&zip.FileHeader{
			Name:     ref.Filename,
			Method:   zip.Deflate,
			Modified: time.Now(),
		})
		if err != nil {
			zw.Close()
			return written, fmt.Errorf("add %s: %w", ref.Filename, err)
		}
		if _, err := entry.Write(data); err != nil {
			zw.Close()
			return written, fmt.Errorf("write %s: %w", ref.Filename, err)
		}
		written++
	}

	if err := zw.Close(); err != nil {
		return written, fmt.Errorf("finish archive: %w", err)
	}
	return written, nil
}
