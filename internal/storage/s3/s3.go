// Package s3 provides an S3-compatible storage backend with metrics.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"

	"github.com/AbdurrudbA/snl-data-dictionaries/internal/logging"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/metrics"
	"github.com/AbdurrudbA/snl-data-dictionaries/internal/storage"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Prefix    string // optional key prefix inside the bucket
}

// Backend implements storage.Backend using S3/MinIO.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
}

var _ storage.Backend = (*Backend)(nil)

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	if endpoint == "" || strings.Contains(endpoint, "://") {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}

// New creates a new S3 backend and makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := endpointURL(cfg.Endpoint, cfg.UseSSL)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO
		}
	})

	b := &Backend{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}

	if err := b.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return b, nil
}

func (b *Backend) key(k string) string {
	k = storage.KeyFor(k)
	if b.prefix == "" {
		return k
	}
	return b.prefix + "/" + k
}

func record(op string, start time.Time, err error) {
	metrics.RecordStorageOperation("s3", op, time.Since(start), err == nil)
}

// notFound converts S3 missing-object errors into fs.ErrNotExist.
func notFound(key string, err error) error {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%s: %w", key, fs.ErrNotExist)
	}
	return err
}

func (b *Backend) ensureBucket(ctx context.Context) (err error) {
	start := time.Now()
	_, err = b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		record("head_bucket", start, nil)
		return nil
	}

	_, err = b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	record("create_bucket", start, err)
	if err != nil {
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, err)
	}
	logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	return nil
}

// GetObject retrieves an object from S3.
func (b *Backend) GetObject(ctx context.Context, key string) (rc io.ReadCloser, size int64, err error) {
	start := time.Now()
	defer func() { record("get_object", start, err) }()

	result, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, notFound(key, err))
	}
	return result.Body, aws.ToInt64(result.ContentLength), nil
}

// PutObject uploads content to S3.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { record("put_object", start, err) }()

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if strings.HasSuffix(key, ".json") {
		input.ContentType = aws.String("application/json")
		input.CacheControl = aws.String("no-store")
	}

	if _, err = b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	logging.Debug("S3 put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// StatObject reads object metadata with HeadObject.
func (b *Backend) StatObject(ctx context.Context, key string) (info storage.ObjectInfo, err error) {
	start := time.Now()
	defer func() { record("head_object", start, err) }()

	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("head object %s: %w", key, notFound(key, err))
	}
	return storage.ObjectInfo{
		Key:     storage.KeyFor(key),
		Size:    aws.ToInt64(out.ContentLength),
		ModTime: aws.ToTime(out.LastModified),
	}, nil
}

// DeleteObject removes an object from S3.
func (b *Backend) DeleteObject(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { record("delete_object", start, err) }()

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(b.key(key)),
	})
	if err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }
