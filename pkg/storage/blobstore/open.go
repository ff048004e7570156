// Package blobstore selects the configured storage backend.
package blobstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/edihub/edi-backend/pkg/config"
	"github.com/edihub/edi-backend/pkg/logger"
	"github.com/edihub/edi-backend/pkg/storage"
	"github.com/edihub/edi-backend/pkg/storage/gcs"
	"github.com/edihub/edi-backend/pkg/storage/memory"
	"github.com/edihub/edi-backend/pkg/storage/s3"
)

// Open builds the backend named by cfg.Blob.Provider.
func Open(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Blob.Provider)) {
	case config.BlobProviderGCS:
		return gcs.NewClient(ctx, cfg.Blob, cfg.GCP, logg)
	case config.BlobProviderS3:
		return s3.NewClient(ctx, cfg.Blob, cfg.S3, logg)
	case config.BlobProviderMemory:
		if cfg.App.IsProd() {
			return nil, fmt.Errorf("blob provider %q is not allowed in prod", cfg.Blob.Provider)
		}
		if logg != nil {
			logg.Warn(ctx, "using in-memory blob store; content is lost on restart")
		}
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported blob provider %q", cfg.Blob.Provider)
	}
}
