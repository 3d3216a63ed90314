package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"alarm-pipeline/internal/domain"
	"alarm-pipeline/internal/infra/metrics"
)

// Config — параметры S3-совместимого хранилища.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	AccessKey     string
	SecretKey     string
	UsePathStyle  bool
}

// s3API — используемая часть *s3.Client.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3 хранит аудиофайлы в бакете и отдаёт их по публичному URL.
type S3 struct {
	client s3API
	bucket string
	base   string
}

var _ domain.BlobStorage = (*S3)(nil)

// NewS3 создаёт клиент по цепочке AWS-конфигурации; статические ключи и endpoint необязательны.
func NewS3(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3(client, cfg), nil
}

func newS3(client s3API, cfg Config) *S3 {
	return &S3{client: client, bucket: cfg.Bucket, base: publicBase(cfg)}
}

func publicBase(cfg Config) string {
	switch {
	case cfg.PublicBaseURL != "":
		return strings.TrimRight(cfg.PublicBaseURL, "/") + "/"
	case cfg.Endpoint != "":
		return strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.Bucket + "/"
	default:
		region := cfg.Region
		if region == "" {
			region = "us-east-1"
		}
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/", cfg.Bucket, region)
	}
}

// Upload реализует domain.BlobStorage.
func (s *S3) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	in := &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(path),
		Body:         bytes.NewReader(data),
		CacheControl: aws.String("public, max-age=86400"),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	start := time.Now()
	_, err := s.client.PutObject(ctx, in)
	metrics.ObserveNetworkRequest("s3", "put_object", s.bucket, start, err)
	if err != nil {
		return "", fmt.Errorf("blob: put %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// PublicURL реализует domain.BlobStorage.
func (s *S3) PublicURL(path string) string {
	return s.base + strings.TrimLeft(path, "/")
}

// Delete реализует domain.BlobStorage; отсутствующий объект не считается ошибкой.
func (s *S3) Delete(ctx context.Context, path string) error {
	start := time.Now()
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if isNotFound(err) {
		err = nil
	}
	metrics.ObserveNetworkRequest("s3", "delete_object", s.bucket, start, err)
	if err != nil {
		return fmt.Errorf("blob: delete %s: %w", path, err)
	}
	return nil
}

// PathFromURL реализует domain.BlobStorage: ключ объекта из публичного URL.
func (s *S3) PathFromURL(raw string) (string, error) {
	if strings.HasPrefix(raw, s.base) {
		path := strings.TrimPrefix(raw, s.base)
		if path == "" {
			return "", fmt.Errorf("blob: url %q has no object key", raw)
		}
		return path, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("blob: parse url: %w", err)
	}
	base, err := url.Parse(s.base)
	if err != nil || u.Host != base.Host {
		return "", fmt.Errorf("blob: url %q does not belong to bucket %s", raw, s.bucket)
	}
	path := strings.TrimPrefix(u.Path, base.Path)
	if path == "" || (path == u.Path && base.Path != "/") {
		return "", fmt.Errorf("blob: url %q does not belong to bucket %s", raw, s.bucket)
	}
	return path, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
