package exporter

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// Uploader stores a finished export and returns its location.
type Uploader interface {
	Upload(ctx context.Context, name string, body io.Reader) (string, error)
}

// S3Config configures S3Uploader.
type S3Config struct {
	Bucket string
	Region string
	Prefix string

	// Endpoint overrides the S3 endpoint (MinIO, localstack). Path-style
	// addressing is used when set.
	Endpoint string

	// Static credentials. When empty the SDK's default chain is used.
	AccessKeyID     string
	SecretAccessKey string
}

// S3Uploader uploads exports to an S3 bucket.
type S3Uploader struct {
	bucket   string
	prefix   string
	uploader *s3manager.Uploader
}

// NewS3Uploader creates an uploader from cfg.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}
	if cfg.AccessKeyID != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return &S3Uploader{
		bucket:   cfg.Bucket,
		prefix:   strings.Trim(cfg.Prefix, "/"),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

// Key returns the object key used for name.
func (u *S3Uploader) Key(name string) string {
	if u.prefix == "" {
		return name
	}
	return path.Join(u.prefix, name)
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, name string, body io.Reader) (string, error) {
	out, err := u.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(u.Key(name)),
		Body:        body,
		ContentType: aws.String("text/csv; charset=utf-8"),
	})
	if err != nil {
		return "", fmt.Errorf("upload s3://%s/%s: %w", u.bucket, u.Key(name), err)
	}
	return out.Location, nil
}
