package engine

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/HizumeKazushi/pdftopng/storage"
	"github.com/klauspost/compress/zip"
	"github.com/oklog/ulid/v2"
)

func seedStore(t *testing.T, store storage.ArtifactStore, jobID string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := store.Put(context.Background(), jobID, name, strings.NewReader("png:"+jobID+"/"+name)); err != nil {
			t.Fatalf("Put %s failed: %v", name, err)
		}
	}
}

func readArchive(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Not a zip archive: %v", err)
	}
	entries := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open %s: %v", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read %s: %v", f.Name, err)
		}
		entries[f.Name] = string(content)
	}
	return entries
}

func TestPack_SkipsMissing(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	jobID := ulid.Make().String()
	seedStore(t, env.store, jobID, "doc-1.png", "doc-2.png")

	refs := []storage.Ref{
		{JobID: jobID, Filename: "doc-1.png"},
		{JobID: jobID, Filename: "doc-9.png"},
		{JobID: jobID, Filename: "doc-2.png"},
	}
	var buf bytes.Buffer
	count, err := NewPackager(env.store).Pack(context.Background(), refs, &buf)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 entries, got %d", count)
	}

	entries := readArchive(t, buf.Bytes())
	if len(entries) != 2 {
		t.Fatalf("Expected 2 archive entries, got %v", entries)
	}
	for _, name := range []string{"doc-1.png", "doc-2.png"} {
		if entries[name] != "png:"+jobID+"/"+name {
			t.Errorf("Entry %s has unexpected content %q", name, entries[name])
		}
	}
}

func TestPack_AllMissing(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	refs := []storage.Ref{
		{JobID: ulid.Make().String(), Filename: "doc-1.png"},
		{JobID: "../../etc", Filename: "passwd"},
	}
	var buf bytes.Buffer
	count, err := NewPackager(env.store).Pack(context.Background(), refs, &buf)
	if !errors.Is(err, ErrEmptyArchive) {
		t.Fatalf("Expected ErrEmptyArchive, got %v", err)
	}
	if count != 0 || buf.Len() != 0 {
		t.Errorf("Nothing should be written, got count=%d bytes=%d", count, buf.Len())
	}
}

func TestPack_DuplicateNamesKeepFirst(t *testing.T) {
	env := newTestEnv(t, nil, whiteBackend{})
	first, second := ulid.Make().String(), ulid.Make().String()
	seedStore(t, env.store, first, "doc-1.png")
	seedStore(t, env.store, second, "doc-1.png", "doc-2.png")

	refs := []storage.Ref{
		{JobID: first, Filename: "doc-1.png"},
		{JobID: second, Filename: "doc-1.png"},
		{JobID: second, Filename: "doc-2.png"},
	}
	var buf bytes.Buffer
	count, err := NewPackager(env.store).Pack(context.Background(), refs, &buf)
	if err != nil {
		t.Fatalf("Pack failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 entries, got %d", count)
	}
	entries := readArchive(t, buf.Bytes())
	if entries["doc-1.png"] != "png:"+first+"/doc-1.png" {
		t.Errorf("Expected the first doc-1.png to win, got %q", entries["doc-1.png"])
	}
}
