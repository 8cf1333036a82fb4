package provider

import (
	"context"
	"fmt"

	"github.com/angelmondragon/dropline-backend/pkg/config"
	"github.com/angelmondragon/dropline-backend/pkg/logger"
	"github.com/angelmondragon/dropline-backend/pkg/storage"
	"github.com/angelmondragon/dropline-backend/pkg/storage/gcs"
	"github.com/angelmondragon/dropline-backend/pkg/storage/s3"
)

// New builds the object store selected by DROPLINE_STORAGE_PROVIDER.
func New(ctx context.Context, cfg *config.Config, logg *logger.Logger) (storage.ObjectStore, error) {
	switch cfg.Storage.NormalizedProvider() {
	case config.StorageProviderGCS:
		return gcs.NewClient(ctx, cfg.Storage, cfg.GCP, logg)
	case config.StorageProviderS3:
		return s3.NewClient(ctx, cfg.Storage, cfg.AWS, logg)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
