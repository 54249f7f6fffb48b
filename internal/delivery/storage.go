package delivery

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// StorageWriter writes an artifact to a location and returns where it
// ended up.
type StorageWriter interface {
	Write(ctx context.Context, location string, data []byte, contentType string) (string, error)
}

// FileStorage writes to the local filesystem, creating parent directories.
type FileStorage struct{}

func (FileStorage) Write(ctx context.Context, location string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	location = filepath.Clean(location)
	if err := os.MkdirAll(filepath.Dir(location), 0o755); err != nil {
		return "", fmt.Errorf("create directory for %s: %w", location, err)
	}
	if err := os.WriteFile(location, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", location, err)
	}
	return location, nil
}

// S3API is the subset of the S3 client used here.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Storage writes to s3://bucket/key locations.
type S3Storage struct {
	Client S3API
}

// NewS3Storage builds a client from the default AWS credential chain.
func NewS3Storage(ctx context.Context, region string) (*S3Storage, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Storage{Client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3Storage) Write(ctx context.Context, location string, data []byte, contentType string) (string, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return "", err
	}
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", bucket, key, err)
	}
	return "s3://" + bucket + "/" + key, nil
}

// ParseS3URL splits "s3://bucket/key" into its parts.
func ParseS3URL(location string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 location: %q", location)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 location needs a bucket and key: %q", location)
	}
	return bucket, key, nil
}

// RoutedStorage sends s3:// locations to S3 and everything else to Files.
type RoutedStorage struct {
	Files StorageWriter
	S3    StorageWriter
}

func (r RoutedStorage) Write(ctx context.Context, location string, data []byte, contentType string) (string, error) {
	if strings.HasPrefix(location, "s3://") {
		if r.S3 == nil {
			return "", fmt.Errorf("%w: s3 storage", ErrChannelNotConfigured)
		}
		return r.S3.Write(ctx, location, data, contentType)
	}
	files := r.Files
	if files == nil {
		files = FileStorage{}
	}
	return files.Write(ctx, location, data, contentType)
}

// StorageLocation joins a configured storage path and a filename. A path
// ending in '/' or without an extension is treated as a directory.
func StorageLocation(storagePath, filename string) string {
	base := path.Base(storagePath)
	if strings.HasSuffix(storagePath, "/") || !strings.Contains(base, ".") {
		if strings.HasPrefix(storagePath, "s3://") {
			return strings.TrimSuffix(storagePath, "/") + "/" + filename
		}
		return filepath.Join(storagePath, filename)
	}
	return storagePath
}
