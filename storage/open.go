package storage

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/HizumeKazushi/pdftopng/config"
)

// Open builds the artifact store selected by StorageBackend.
// The filesystem store lives under <StorageRoot>/output so scratch and the ledger can share the root.
func Open(ctx context.Context, serverConfig config.ServerConfig) (ArtifactStore, error) {
	switch serverConfig.StorageBackend {
	case "", "fs":
		store, err := NewFSStore(filepath.Join(serverConfig.StorageRoot, "output"))
		if err != nil {
			return nil, err
		}
		return store, nil
	case "s3":
		store, err := NewS3Store(ctx, S3Options{
			Endpoint:  serverConfig.S3Endpoint,
			AccessKey: serverConfig.S3AccessKey,
			SecretKey: serverConfig.S3SecretKey,
			Bucket:    serverConfig.S3Bucket,
			Region:    serverConfig.S3Region,
			UseSSL:    serverConfig.S3UseSSL,
			Prefix:    serverConfig.S3Prefix,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", serverConfig.StorageBackend)
	}
}
