package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const sealMarker = ".sealed"

// FSStore keeps artifacts under <root>/<job id>/<filename>
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed
func NewFSStore(root string) (*FSStore, error) {
	if root == "" {
		return nil, errors.New("storage root not configured")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Root returns the directory the store writes to
func (s *FSStore) Root() string {
	return s.root
}

func (s *FSStore) jobDir(jobID string) (string, error) {
	if err := ValidateJobID(jobID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, jobID), nil
}

func (s *FSStore) artifactPath(jobID, filename string) (string, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return "", err
	}
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

func (s *FSStore) sealed(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, sealMarker))
	return err == nil
}

// Put writes to a temp file in the job directory and renames it into place
func (s *FSStore) Put(ctx context.Context, jobID, filename string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.artifactPath(jobID, filename)
	if err != nil {
		return err
	}
	dir := filepath.Dir(target)
	if s.sealed(dir) {
		return fmt.Errorf("%w: %s", ErrSealed, jobID)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create job directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".put-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close artifact %s: %w", filename, err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit artifact %s: %w", filename, err)
	}
	return nil
}

// Get reads an artifact; unknown jobs, unknown names and invalid names are all ErrNotFound
func (s *FSStore) Get(ctx context.Context, jobID, filename string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.artifactPath(jobID, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, filename)
		}
		return nil, err
	}
	return data, nil
}

// Exists reports whether the artifact is present
func (s *FSStore) Exists(ctx context.Context, jobID, filename string) (bool, error) {
	target, err := s.artifactPath(jobID, filename)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(target)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// List returns the job's PNG artifacts in page order
func (s *FSStore) List(ctx context.Context, jobID string) ([]string, error) {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() && isArtifact(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	SortPages(names)
	return names, nil
}

// Seal writes the terminal marker
func (s *FSStore) Seal(ctx context.Context, jobID string) error {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, sealMarker), nil, 0644)
}

// Discard drops an unsealed job; sealed jobs are left alone
func (s *FSStore) Discard(ctx context.Context, jobID string) error {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return err
	}
	if s.sealed(dir) {
		return fmt.Errorf("%w: %s", ErrSealed, jobID)
	}
	return os.RemoveAll(dir)
}

// Delete removes the whole job directory
func (s *FSStore) Delete(ctx context.Context, jobID string) error {
	dir, err := s.jobDir(jobID)
	if err != nil {
		return err
	}
	return os.RemoveAll(dir)
}

// Jobs returns the job directories under the root
func (s *FSStore) Jobs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, err
	}
	var jobs []string
	for _, entry := range entries {
		if entry.IsDir() && ValidateJobID(entry.Name()) == nil {
			jobs = append(jobs, entry.Name())
		}
	}
	return jobs, nil
}
