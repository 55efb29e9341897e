// Package s3 implements a storage.Engine over any S3-compatible object store
// (AWS S3, MinIO, R2) using the MinIO client. Every remote call is wrapped in
// the retry policy.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/retry"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Config captures the parameters required to reach an S3-compatible endpoint.
type Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// Engine stores archive objects in a single bucket.
type Engine struct {
	client *minio.Client
	bucket string
	region string
	policy retry.Policy
	logger *zap.Logger
}

var _ storage.Engine = (*Engine)(nil)

// New builds the MinIO client for cfg. No network traffic happens until Initialize.
func New(cfg Config, policy retry.Policy, logger *zap.Logger) (*Engine, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	host, secure, err := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	lookup := minio.BucketLookupAuto
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(host, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:       secure,
		Region:       cfg.Region,
		BucketLookup: lookup,
		// Retries are owned by our policy so classification stays in one place.
		MaxRetries: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	e := &Engine{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger,
	}
	policy = policy.WithClassifier(retry.HTTPStatusClassifier(statusOf))
	onRetry := policy.OnRetry
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		e.logger.Warn("retrying s3 operation",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err))
		metrics.ObserveStorageRetry("s3")
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
	}
	e.policy = policy
	return e, nil
}

// splitEndpoint accepts either a bare host:port or a URL. A URL scheme decides
// TLS unless useSSL forces it on.
func splitEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "s3.amazonaws.com", true, nil
	}
	if !strings.Contains(endpoint, "://") {
		return strings.TrimRight(endpoint, "/"), useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", endpoint)
	}
	return u.Host, useSSL || u.Scheme == "https", nil
}

func statusOf(err error) (int, string, bool) {
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 && resp.Code == "" {
		return 0, "", false
	}
	return resp.StatusCode, resp.Code, true
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound && resp.Code != "NoSuchBucket"
}

// Name implements storage.Engine.
func (e *Engine) Name() string { return "s3" }

// Initialize creates the bucket when it does not exist yet.
func (e *Engine) Initialize(ctx context.Context) error {
	exists, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) (bool, error) {
		return e.client.BucketExists(ctx, e.bucket)
	})
	if err != nil {
		return fmt.Errorf("%w: check bucket %s: %w", storage.ErrUnavailable, e.bucket, err)
	}
	if exists {
		return nil
	}
	err = retry.Do(ctx, e.policy, func(ctx context.Context) error {
		mkErr := e.client.MakeBucket(ctx, e.bucket, minio.MakeBucketOptions{Region: e.region})
		if code := minio.ToErrorResponse(mkErr).Code; code == "BucketAlreadyOwnedByYou" {
			return nil
		}
		return mkErr
	})
	if err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", storage.ErrUnavailable, e.bucket, err)
	}
	e.logger.Info("created bucket", zap.String("bucket", e.bucket))
	return nil
}

// Save uploads data under the sanitised key.
func (e *Engine) Save(ctx context.Context, key string, data []byte) error {
	name := storage.SanitizeKey(key)
	if name == "" {
		return fmt.Errorf("%w: key is required", storage.ErrWrite)
	}
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		_, putErr := e.client.PutObject(ctx, e.bucket, name, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: storage.ContentType(name)})
		return putErr
	})
	if err != nil {
		return fmt.Errorf("%w: put %s: %w", storage.ErrWrite, name, err)
	}
	return nil
}

// Exists implements storage.Engine.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	name := storage.SanitizeKey(key)
	_, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) (minio.ObjectInfo, error) {
		return e.client.StatObject(ctx, e.bucket, name, minio.StatObjectOptions{})
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
func (e *Engine) Read(ctx context.Context, key string) ([]byte, error) {
	name := storage.SanitizeKey(key)
	data, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) ([]byte, error) {
		obj, getErr := e.client.GetObject(ctx, e.bucket, name, minio.GetObjectOptions{})
		if getErr != nil {
			return nil, getErr
		}
		defer func() { _ = obj.Close() }()
		return io.ReadAll(obj)
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
func (e *Engine) Delete(ctx context.Context, key string) error {
	name := storage.SanitizeKey(key)
	err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
		return e.client.RemoveObject(ctx, e.bucket, name, minio.RemoveObjectOptions{})
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("%w: delete %s: %w", storage.ErrUnavailable, name, err)
	}
	return nil
}

// List returns every object key under prefix. The client follows continuation
// tokens internally; a failed page restarts the listing.
func (e *Engine) List(ctx context.Context, prefix string) ([]string, error) {
	p := listPrefix(prefix)
	keys, err := retry.DoValue(ctx, e.policy, func(ctx context.Context) ([]string, error) {
		var keys []string
		for obj := range e.client.ListObjects(ctx, e.bucket, minio.ListObjectsOptions{
			Prefix:    p,
			Recursive: true,
		}) {
			if obj.Err != nil {
				return nil, obj.Err
			}
			keys = append(keys, obj.Key)
		}
		return keys, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", storage.ErrUnavailable, p, err)
	}
	return keys, nil
}

// CleanupIncomplete deletes every object below the archive prefix.
func (e *Engine) CleanupIncomplete(ctx context.Context, prefix string) error {
	dir := storage.SanitizeKey(prefix)
	if dir == "" {
		return fmt.Errorf("cleanup: refusing to empty the whole bucket")
	}
	keys, err := e.List(ctx, dir+"/")
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", dir, err)
	}
	var errs []error
	for _, k := range keys {
		if delErr := e.Delete(ctx, k); delErr != nil {
			errs = append(errs, delErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("cleanup %s: %w", dir, errors.Join(errs...))
	}
	if len(keys) > 0 {
		e.logger.Info("removed incomplete archive", zap.String("archive", dir), zap.Int("objects", len(keys)))
	}
	return nil
}

// listPrefix sanitises prefix but keeps a trailing slash so "a/b/" does not match "a/bc".
func listPrefix(prefix string) string {
	p := storage.SanitizeKey(prefix)
	if p != "" && strings.HasSuffix(prefix, "/") && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}
