// Package upload copies written export files to S3 compatible storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/zdtools/zdexport/pkg/export"
	"github.com/zdtools/zdexport/pkg/logging"
)

// ErrNoBucket is returned when the configuration names no bucket.
var ErrNoBucket = errors.New("s3 bucket is required")

// Uploader is the part of manager.Uploader the S3 client uses.
type Uploader interface {
	Upload(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Config holds S3 destination settings.
type Config struct {
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to every object key.
	Prefix string `yaml:"prefix"`

	Region string `yaml:"region"`

	// Endpoint targets S3 compatible services (MinIO, LocalStack).
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	// UploadPartSize is the multipart chunk size in bytes. Zero uses the SDK default.
	UploadPartSize int64 `yaml:"upload_part_size"`
	Concurrency    int   `yaml:"concurrency"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Enabled reports whether uploads are configured.
func (c Config) Enabled() bool {
	return c.Bucket != ""
}

// S3Client uploads export files.
type S3Client struct {
	uploader Uploader
	config   Config
	logger   zerolog.Logger
}

// NewS3Client loads the default AWS credential chain and builds an uploader.
func NewS3Client(ctx context.Context, cfg Config) (*S3Client, error) {
	if cfg.Bucket == "" {
		return nil, ErrNoBucket
	}

	var options []func(*config.LoadOptions) error
	if cfg.Region != "" {
		options = append(options, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		if cfg.UploadPartSize > 0 {
			u.PartSize = cfg.UploadPartSize
		}
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})

	return NewWithUploader(uploader, cfg), nil
}

// NewWithUploader builds a client around an existing uploader.
func NewWithUploader(uploader Uploader, cfg Config) *S3Client {
	return &S3Client{
		uploader: uploader,
		config:   cfg,
		logger:   logging.NewLogger("upload"),
	}
}

// Key returns the object key for a local file.
func (c *S3Client) Key(localPath string) string {
	name := filepath.Base(localPath)
	prefix := strings.Trim(c.config.Prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}

// UploadFile streams a written export file to the bucket and returns its s3:// URI.
// The checksum and row count travel as object metadata.
func (c *S3Client) UploadFile(ctx context.Context, meta *export.FileMetadata) (string, error) {
	if meta == nil || meta.Path == "" {
		return "", fmt.Errorf("file metadata cannot be empty")
	}

	f, err := os.Open(meta.Path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", meta.Path, err)
	}
	defer f.Close()

	key := c.Key(meta.Path)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(c.config.Bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String(ContentType(meta.Path)),
		Metadata: map[string]string{
			"sha256": meta.Checksum,
			"rows":   strconv.FormatInt(meta.RowCount, 10),
		},
	}

	if c.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.RequestTimeout)
		defer cancel()
	}

	if _, err := c.uploader.Upload(ctx, input); err != nil {
		c.logger.Error().Err(err).Str("bucket", c.config.Bucket).Str("key", key).Msg("Upload failed")
		return "", fmt.Errorf("upload %s to s3://%s/%s: %w", meta.Path, c.config.Bucket, key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", c.config.Bucket, key)
	c.logger.Info().
		Str("file", meta.Path).
		Str("uri", uri).
		Int64("bytes", meta.Size).
		Msg("Uploaded export file")
	return uri, nil
}

// ContentType maps an export file extension to its MIME type.
func ContentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return "text/csv; charset=utf-8"
	case ".json":
		return "application/json"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
