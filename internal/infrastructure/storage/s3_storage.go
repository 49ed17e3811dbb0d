package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"lms-server/internal/config"
	"lms-server/internal/infrastructure/metrics"
)

var errStorageDisabled = errors.New("object store backend is not configured; set OBJECT_STORE_* to enable uploads")

// S3Storage is the object store gateway over S3-compatible storage.
type S3Storage struct {
	bucket   string
	client   *s3.Client
	presign  *s3.PresignClient
	retry    RetryPolicy
	log      zerolog.Logger
	disabled bool
}

func NewS3Storage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*S3Storage, error) {
	logger := log.With().Str("component", "s3-storage").Logger()
	storage := &S3Storage{
		bucket: strings.TrimSpace(cfg.S3Bucket),
		retry:  DefaultRetryPolicy(),
		log:    logger,
	}

	accessKey := strings.TrimSpace(cfg.S3AccessKeyID)
	secretKey := strings.TrimSpace(cfg.S3SecretKey)
	if storage.bucket == "" || accessKey == "" || secretKey == "" {
		logger.Warn().Msg("OBJECT_STORE_BUCKET or credentials are not set; video uploads will be disabled until configured")
		storage.disabled = true
		return storage, nil
	}

	resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
		if cfg.S3Endpoint != "" {
			return aws.Endpoint{
				URL:           cfg.S3Endpoint,
				PartitionID:   "aws",
				SigningRegion: cfg.S3Region,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretKey, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	// The gateway owns the backoff contract; the SDK's built-in retryer
	// would multiply attempts.
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		o.Retryer = aws.NopRetryer{}
	})

	storage.client = client
	storage.presign = s3.NewPresignClient(client)
	return storage, nil
}

func (s *S3Storage) ensureEnabled() error {
	if s.disabled {
		return errStorageDisabled
	}
	return nil
}

// Upload writes an object under a validated key. Transient failures are
// retried with exponential backoff when the body can be rewound; streaming
// bodies get a single attempt.
func (s *S3Storage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := s.ensureEnabled(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	started := time.Now()
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	}
	put := func(ctx context.Context) error {
		_, err := s.client.PutObject(ctx, input)
		return classify(err)
	}

	var err error
	if seeker, ok := body.(io.ReadSeeker); ok {
		attempt := 0
		err = s.retry.Do(ctx, func(ctx context.Context) error {
			attempt++
			if attempt > 1 {
				if _, serr := seeker.Seek(0, io.SeekStart); serr != nil {
					return fmt.Errorf("%w: rewind upload body: %v", ErrStoreUnavailable, serr)
				}
				s.log.Warn().Str("key", key).Int("attempt", attempt).Msg("retrying store put")
			}
			return put(ctx)
		})
	} else {
		err = put(ctx)
	}
	if err != nil {
		metrics.RecordStoreOperation("put", "error", time.Since(started).Seconds())
		return err
	}
	metrics.RecordStoreOperation("put", "success", time.Since(started).Seconds())
	return nil
}

// Download reads an object and its content type.
func (s *S3Storage) Download(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, "", err
	}
	if err := ValidateKey(key); err != nil {
		return nil, "", err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", classify(err)
	}
	mime := ""
	if out.ContentType != nil {
		mime = *out.ContentType
	}
	return out.Body, mime, nil
}

// PresignPut issues a time-limited URL for a direct client PUT.
func (s *S3Storage) PresignPut(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	if err := s.ensureEnabled(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err)
	}
	return req.URL, nil
}

// PresignGet issues a time-limited URL for direct reads.
func (s *S3Storage) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := s.ensureEnabled(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", classify(err)
	}
	return req.URL, nil
}

// Delete removes an object, retrying transient failures. Deleting a missing
// key is not an error.
func (s *S3Storage) Delete(ctx context.Context, key string) error {
	if err := s.ensureEnabled(); err != nil {
		return err
	}
	if err := ValidateKey(key); err != nil {
		return err
	}
	return s.retry.Do(ctx, func(ctx context.Context) error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		return classify(err)
	})
}

// Exists reports whether an object is present.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.ensureEnabled(); err != nil {
		return false, err
	}
	if err := ValidateKey(key); err != nil {
		return false, err
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if errors.Is(classify(err), ErrNotFound) {
			return false, nil
		}
		return false, classify(err)
	}
	return true, nil
}

// List enumerates keys under a prefix with their last-modified times.
func (s *S3Storage) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	if err := s.ensureEnabled(); err != nil {
		return nil, err
	}
	var infos []ObjectInfo
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(err)
		}
		for _, obj := range page.Contents {
			info := ObjectInfo{Key: aws.ToString(obj.Key)}
			if obj.LastModified != nil {
				info.LastModified = *obj.LastModified
			}
			if obj.Size != nil {
				info.Size = *obj.Size
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// SupportsPresignedUploads returns true; S3 serves direct-to-store PUTs.
func (s *S3Storage) SupportsPresignedUploads() bool {
	return !s.disabled
}

// Health performs a HeadBucket request.
func (s *S3Storage) Health(ctx context.Context) error {
	if s.disabled {
		return nil
	}
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// ObjectInfo describes one stored object for listing callers.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var invalid *ErrInvalidKey
	if errors.As(err, &invalid) {
		return err
	}
	var noKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if strings.Contains(err.Error(), "AccessDenied") || strings.Contains(err.Error(), "Forbidden") {
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
