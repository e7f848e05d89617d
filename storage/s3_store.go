package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Options configures an S3Store
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
	// Prefix is prepended to every object key
	Prefix string
}

// S3Store keeps artifacts in an S3 compatible bucket under <prefix>/<job id>/<filename>
// Unit tests run against FSStore; S3Store shares its contract but needs a live endpoint to test.
type S3Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewS3Store connects and creates the bucket when it is missing
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Endpoint == "" || opts.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init S3 client: %w", err)
	}

	exists, err := client.BucketExists(ctx, opts.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		Logger.Info("Creating artifact bucket", "bucket", opts.Bucket)
		if err := client.MakeBucket(ctx, opts.Bucket, minio.MakeBucketOptions{Region: opts.Region}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %q: %w", opts.Bucket, err)
		}
	}

	return &S3Store{client: client, bucket: opts.Bucket, prefix: strings.Trim(opts.Prefix, "/")}, nil
}

func (s *S3Store) jobPrefix(jobID string) (string, error) {
	if err := ValidateJobID(jobID); err != nil {
		return "", err
	}
	return path.Join(s.prefix, jobID) + "/", nil
}

func (s *S3Store) key(jobID, filename string) (string, error) {
	prefix, err := s.jobPrefix(jobID)
	if err != nil {
		return "", err
	}
	if err := ValidateName(filename); err != nil {
		return "", err
	}
	return prefix + filename, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *S3Store) sealed(ctx context.Context, prefix string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, prefix+sealMarker, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNoSuchKey(err) {
		return false, nil
	}
	return false, err
}

// Put uploads one artifact unless the job is sealed
func (s *S3Store) Put(ctx context.Context, jobID, filename string, r io.Reader) error {
	key, err := s.key(jobID, filename)
	if err != nil {
		return err
	}
	prefix, _ := s.jobPrefix(jobID)
	sealed, err := s.sealed(ctx, prefix)
	if err != nil {
		return fmt.Errorf("check seal: %w", err)
	}
	if sealed {
		return fmt.Errorf("%w: %s", ErrSealed, jobID)
	}

	_, err = s.client.PutObject(ctx, s.bucket, key, r, -1, minio.PutObjectOptions{
		ContentType:  ContentType,
		UserMetadata: map[string]string{"uploaded-at": time.Now().Format(time.RFC3339)},
	})
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	return nil
}

// Get downloads one artifact
func (s *S3Store) Get(ctx context.Context, jobID, filename string) ([]byte, error) {
	key, err := s.key(jobID, filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, filename)
		}
		return nil, err
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, obj); err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, jobID, filename)
		}
		return nil, fmt.Errorf("download failed: %w", err)
	}
	return buf.Bytes(), nil
}

// Exists stats the object
func (s *S3Store) Exists(ctx context.Context, jobID, filename string) (bool, error) {
	key, err := s.key(jobID, filename)
	if err != nil {
		return false, nil
	}
	_, err = s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) keys(ctx context.Context, prefix string) ([]string, error) {
	// cancelling stops minio's lister goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}

// List returns the job's PNG artifacts in page order
func (s *S3Store) List(ctx context.Context, jobID string) ([]string, error) {
	prefix, err := s.jobPrefix(jobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	keys, err := s.keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name := path.Base(key)
		if isArtifact(name) {
			names = append(names, name)
		}
	}
	SortPages(names)
	return names, nil
}

// Seal writes the marker object
func (s *S3Store) Seal(ctx context.Context, jobID string) error {
	prefix, err := s.jobPrefix(jobID)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, s.bucket, prefix+sealMarker, bytes.NewReader(nil), 0, minio.PutObjectOptions{})
	return err
}

// Discard removes an unsealed job's objects
func (s *S3Store) Discard(ctx context.Context, jobID string) error {
	prefix, err := s.jobPrefix(jobID)
	if err != nil {
		return err
	}
	sealed, err := s.sealed(ctx, prefix)
	if err != nil {
		return err
	}
	if sealed {
		return fmt.Errorf("%w: %s", ErrSealed, jobID)
	}
	return s.removePrefix(ctx, prefix)
}

// Delete removes every object of the job
func (s *S3Store) Delete(ctx context.Context, jobID string) error {
	prefix, err := s.jobPrefix(jobID)
	if err != nil {
		return err
	}
	return s.removePrefix(ctx, prefix)
}

func (s *S3Store) removePrefix(ctx context.Context, prefix string) error {
	keys, err := s.keys(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}

// Jobs lists the job prefixes one level under the store prefix
func (s *S3Store) Jobs(ctx context.Context) ([]string, error) {
	// cancelling stops minio's lister goroutine when we return early
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	base := ""
	if s.prefix != "" {
		base = s.prefix + "/"
	}
	var jobs []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: base}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		jobID := strings.TrimSuffix(strings.TrimPrefix(obj.Key, base), "/")
		if ValidateJobID(jobID) == nil {
			jobs = append(jobs, jobID)
		}
	}
	return jobs, nil
}
