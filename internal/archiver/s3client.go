// Package archiver implements periodic off-device upload of a compressed
// bundle containing the log ring buffer and the current GPIO snapshot, on
// a cron cadence distinct from the plain-ticker interval loops the rest of
// harvestd runs. It is adapted from the teacher's Cloudflare R2 backup
// client (internal/reliability/r2_client.go), pointed at a generic
// S3-compatible bucket instead of R2 specifically.
package archiver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Uploader is the narrow write surface Archiver needs; satisfied by
// *S3Client and swappable in tests for a fake that never touches the
// network.
type Uploader interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64) error
}

// S3Client wraps the AWS SDK's S3 manager, configured either against a
// region-standard S3 endpoint or a custom S3-compatible one (e.g. a NAS or
// self-hosted object store near the device), the same way the teacher's
// R2Client points the SDK at Cloudflare's endpoint.
type S3Client struct {
	uploader *manager.Uploader
	bucket   string
	log      zerolog.Logger
}

// NewS3Client builds a client. endpointURL may be empty to use the SDK's
// default region resolution; accessKeyID/secretAccessKey may be empty to
// fall back to the SDK's standard credential chain (env vars, shared
// config, instance role).
func NewS3Client(ctx context.Context, endpointURL, region, accessKeyID, secretAccessKey, bucket string, log zerolog.Logger) (*S3Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archiver: bucket is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if endpointURL != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{URL: endpointURL, HostnameImmutable: true, SigningRegion: region}, nil
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	if accessKeyID != "" && secretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, "")))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archiver: load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 5 * 1024 * 1024
		u.Concurrency = 2
	})

	return &S3Client{
		uploader: uploader,
		bucket:   bucket,
		log:      log.With().Str("component", "archiver_s3").Logger(),
	}, nil
}

// Upload puts body at key in the configured bucket.
func (c *S3Client) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	c.log.Info().Str("key", key).Int64("size", size).Msg("uploading diagnostics archive")
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("archiver: upload %s: %w", key, err)
	}
	c.log.Info().Str("key", key).Msg("diagnostics archive uploaded")
	return nil
}
