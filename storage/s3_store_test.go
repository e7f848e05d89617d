package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"
)

// newDenyingS3Store points an S3Store at a server that refuses every request
func newDenyingS3Store(t *testing.T) *S3Store {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>` +
			`<Error><Code>AccessDenied</Code><Message>Access Denied</Message>` +
			`<BucketName>pdftopng</BucketName><RequestId>test</RequestId></Error>`))
	}))
	t.Cleanup(server.Close)

	client, err := minio.New(strings.TrimPrefix(server.URL, "http://"), &minio.Options{
		Creds:  credentials.NewStaticV4("key", "secret", ""),
		Region: "us-east-1",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return &S3Store{client: client, bucket: "pdftopng", prefix: "output"}
}

func TestS3Store_ListingErrors(t *testing.T) {
	store := newDenyingS3Store(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := store.List(ctx, ulid.Make().String()); err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("Expected the listing error to surface, got %v", err)
	}
	if _, err := store.Jobs(ctx); err == nil {
		t.Error("Expected Jobs to report the listing error")
	}
	if ctx.Err() != nil {
		t.Error("Listing should return on the first error, not wait for the deadline")
	}
}
