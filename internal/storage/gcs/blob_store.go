// Package gcs provides a storage.Engine backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/retry"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket    string `mapstructure:"bucket"`
	ProjectID string `mapstructure:"project_id"`
	// Endpoint overrides the API endpoint, e.g. for the fake-gcs-server emulator.
	Endpoint string `mapstructure:"endpoint"`
}

// BlobStore writes archive objects to a configured GCS bucket.
type BlobStore struct {
	client    *gcs.Client
	bucket    string
	projectID string
	policy    retry.Policy
	logger    *zap.Logger
}

var _ storage.Engine = (*BlobStore)(nil)

// New creates a GCS-backed engine. The client's own retries are disabled so
// the policy decides.
func New(client *gcs.Client, cfg Config, policy retry.Policy, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client.SetRetry(gcs.WithPolicy(gcs.RetryNever))

	policy = policy.WithClassifier(retry.HTTPStatusClassifier(statusOf))
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("retrying gcs operation",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.ObserveStorageRetry("gcs")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	return &BlobStore{
		client:    client,
		bucket:    cfg.Bucket,
		projectID: cfg.ProjectID,
		policy:    policy,
		logger:    logger,
	}, nil
}

func statusOf(err error) (int, string, bool) {
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return http.StatusNotFound, "NotFound", true
	}
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return 0, "", false
	}
	code := ""
	if len(apiErr.Errors) > 0 {
		code = apiErr.Errors[0].Reason
	}
	if apiErr.Code == http.StatusUnauthorized {
		code = "AccessDenied"
	}
	return apiErr.Code, code, true
}

func isNotFound(err error) bool {
	status, _, ok := statusOf(err)
	return ok && status == http.StatusNotFound
}

// Name implements storage.Engine.
func (s *BlobStore) Name() string { return "gcs" }

// Initialize creates the bucket when it is missing and a project is configured.
func (s *BlobStore) Initialize(ctx context.Context) error {
	bkt := s.client.Bucket(s.bucket)
	_, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*gcs.BucketAttrs, error) {
		return bkt.Attrs(ctx)
	})
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, gcs.ErrBucketNotExist):
		return fmt.Errorf("%w: get bucket %s: %w", storage.ErrUnavailable, s.bucket, err)
	case s.projectID == "":
		return fmt.Errorf("%w: bucket %s does not exist and no project is configured", storage.ErrUnavailable, s.bucket)
	}
	err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return bkt.Create(ctx, s.projectID, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", storage.ErrUnavailable, s.bucket, err)
	}
	s.logger.Info("created bucket", zap.String("bucket", s.bucket))
	return nil
}

// Save uploads data in a single request.
func (s *BlobStore) Save(ctx context.Context, key string, data []byte) error {
	name := storage.SanitizeKey(key)
	if name == "" {
		return fmt.Errorf("%w: key is required", storage.ErrWrite)
	}
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		wc := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
		wc.ChunkSize = 0
		wc.ContentType = storage.ContentType(name)
		if _, err := wc.Write(data); err != nil {
			if closeErr := wc.Close(); closeErr != nil {
				return fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
			}
			return fmt.Errorf("write object: %w", err)
		}
		if err := wc.Close(); err != nil {
			return fmt.Errorf("close writer: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", storage.ErrWrite, name, err)
	}
	return nil
}

// Exists implements storage.Engine.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	name := storage.SanitizeKey(key)
	_, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) (*gcs.ObjectAttrs, error) {
		return s.client.Bucket(s.bucket).Object(name).Attrs(ctx)
	})
	switch {
	case err == nil:
		return true, nil
	case isNotFound(err):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat %s: %w", storage.ErrUnavailable, name, err)
	}
}

// Read implements storage.Engine.
func (s *BlobStore) Read(ctx context.Context, key string) ([]byte, error) {
	name := storage.SanitizeKey(key)
	data, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]byte, error) {
		r, err := s.client.Bucket(s.bucket).Object(name).NewReader(ctx)
		if err != nil {
			return nil, err
		}
		defer func() { _ = r.Close() }()
		return io.ReadAll(r)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: get %s: %w", storage.ErrUnavailable, name, err)
	}
	return data, nil
}

// Delete implements storage.Engine.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	name := storage.SanitizeKey(key)
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		return s.client.Bucket(s.bucket).Object(name).Delete(ctx)
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %w", storage.ErrUnavailable, name, err)
	}
	return nil
}

// List walks every result page until the iterator is exhausted.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	p := storage.SanitizeKey(prefix)
	if p != "" && strings.HasSuffix(prefix, "/") {
		p += "/"
	}
	keys, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([]string, error) {
		query := &gcs.Query{Prefix: p}
		if err := query.SetAttrSelection([]string{"Name"}); err != nil {
			return nil, retry.Permanent(err)
		}
		it := s.client.Bucket(s.bucket).Objects(ctx, query)
		var keys []string
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return keys, nil
			}
			if err != nil {
				return nil, err
			}
			keys = append(keys, attrs.Name)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", storage.ErrUnavailable, p, err)
	}
	return keys, nil
}

// CleanupIncomplete deletes every object below the archive prefix.
func (s *BlobStore) CleanupIncomplete(ctx context.Context, prefix string) error {
	dir := storage.SanitizeKey(prefix)
	if dir == "" {
		return fmt.Errorf("cleanup: refusing to empty the whole bucket")
	}
	keys, err := s.List(ctx, dir+"/")
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", dir, err)
	}
	var errs []error
	for _, k := range keys {
		if delErr := s.Delete(ctx, k); delErr != nil {
			errs = append(errs, delErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup %s: %w", dir, errors.Join(errs...))
	}
	return nil
}
