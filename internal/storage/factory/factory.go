// Package factory selects and builds the storage.Engine named by configuration.
package factory

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/retry"
	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/storage/gcs"
	"github.com/JakeFAU/webarchiver/internal/storage/local"
	"github.com/JakeFAU/webarchiver/internal/storage/memory"
	"github.com/JakeFAU/webarchiver/internal/storage/s3"
)

// RetryPolicy converts the retry section of the config into a policy.
func RetryPolicy(cfg config.RetryConfig) retry.Policy {
	return retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Factor:       cfg.Factor,
	}
}

// New builds the engine for cfg.Engine. Initialize is left to the caller.
func New(ctx context.Context, cfg config.StorageConfig, policy retry.Policy, logger *zap.Logger) (storage.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Engine {
	case config.EngineFilesystem, "":
		logger.Info("using filesystem storage", zap.String("path", cfg.Filesystem.BasePath))
		engine, err := local.New(local.Config{BaseDir: cfg.Filesystem.BasePath})
		if err != nil {
			return nil, fmt.Errorf("filesystem storage: %w", err)
		}
		return engine, nil
	case config.EngineS3:
		logger.Info("using s3 storage",
			zap.String("endpoint", cfg.S3.Endpoint),
			zap.String("bucket", cfg.S3.Bucket))
		engine, err := s3.New(s3.Config{
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
			UseSSL:          cfg.S3.UseSSL,
		}, policy, logger)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return engine, nil
	case config.EngineGCS:
		logger.Info("using gcs storage", zap.String("bucket", cfg.GCS.Bucket))
		var opts []option.ClientOption
		if cfg.GCS.Endpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.GCS.Endpoint), option.WithoutAuthentication())
		}
		client, err := gcsclient.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: create gcs client: %w", storage.ErrUnavailable, err)
		}
		engine, err := gcs.New(client, gcs.Config{
			Bucket:    cfg.GCS.Bucket,
			ProjectID: cfg.GCS.ProjectID,
			Endpoint:  cfg.GCS.Endpoint,
		}, policy, logger)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs storage: %w", err)
		}
		return engine, nil
	case config.EngineMemory:
		logger.Info("using in-memory storage; archives are discarded on exit")
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", cfg.Engine)
	}
}
