package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/person-registry/internal/types"
)

var _ PhotoStore = (*S3Store)(nil)

// S3API is the part of *s3.Client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // S3-compatible endpoint, empty for AWS
	PublicBaseURL   string
	Folder          string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// S3Store keeps photos in an S3-compatible bucket. Access tokens of the end
// user are not used; the store authenticates with its own credentials.
type S3Store struct {
	client        S3API
	bucket        string
	folder        string
	publicBaseURL string
	logger        *slog.Logger
	now           func() time.Time
}

// NewS3Client builds an S3 client from cfg. Static credentials are used when
// both keys are set, otherwise the default AWS chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func NewS3Store(client S3API, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" || cfg.PublicBaseURL == "" {
		return nil, errors.New("s3 store requires bucket and public base url")
	}
	return &S3Store{
		client:        client,
		bucket:        cfg.Bucket,
		folder:        strings.Trim(cfg.Folder, "/"),
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:        logger,
		now:           time.Now,
	}, nil
}

func (s *S3Store) key(name string) string {
	if s.folder == "" {
		return name
	}
	return s.folder + "/" + name
}

func (s *S3Store) Upload(ctx context.Context, _ string, personID string, file types.PhotoFile) (string, error) {
	ctx, span := otel.Tracer("S3Store").Start(ctx, "Upload")
	defer span.End()

	if err := validateUpload(personID, file); err != nil {
		return "", err
	}
	key := s.key(objectName(personID, file, s.now()))

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(file.Body),
		ContentType:  aws.String(contentType(file)),
		CacheControl: aws.String("max-age=3600"),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "S3 upload failed", slog.String("key", key), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Upload failed")
		return "", fmt.Errorf("%w: upload photo: %w", types.ErrStorage, err)
	}
	span.SetStatus(codes.Ok, "")
	return s.publicBaseURL + "/" + key, nil
}

func (s *S3Store) Delete(ctx context.Context, _ string, publicURL string) error {
	ctx, span := otel.Tracer("S3Store").Start(ctx, "Delete")
	defer span.End()

	key, ok := strings.CutPrefix(publicURL, s.publicBaseURL+"/")
	if !ok || key == "" {
		return fmt.Errorf("%w: %q is not a photo of this bucket", types.ErrInvalidReference, publicURL)
	}
	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Delete failed")
		return fmt.Errorf("%w: delete photo: %w", types.ErrStorage, err)
	}
	return nil
}
