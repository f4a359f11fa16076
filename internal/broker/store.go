package broker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/stashbox/stashbox/internal/config"
	"github.com/stashbox/stashbox/internal/models"
)

// ObjectStore signs transfers against the bucket and removes objects.
type ObjectStore interface {
	// PresignUpload returns a POST form that stores at most maxSize bytes
	// under key.
	PresignUpload(ctx context.Context, key, contentType string, maxSize int64, ttl time.Duration) (*models.UploadCredential, error)
	// PresignDownload returns a GET URL for key.
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (*models.DownloadCredential, error)
	// Delete removes key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	// ObjectURL is the unsigned location of key, stored in records.
	ObjectURL(key string) string
}

// S3Store is an ObjectStore backed by S3 or an S3-compatible service.
type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	region    string
	endpoint  string
	pathStyle bool
	now       func() time.Time
}

// NewS3Store builds the S3 client from the [storage] section. Static keys
// are used when configured; otherwise the default AWS credential chain
// applies.
func NewS3Store(ctx context.Context, cfg *config.BrokerConfig) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    cfg.Region,
		endpoint:  strings.TrimSuffix(cfg.Endpoint, "/"),
		pathStyle: cfg.PathStyle,
		now:       time.Now,
	}, nil
}

// PresignUpload implements ObjectStore.
func (s *S3Store) PresignUpload(ctx context.Context, key, contentType string, maxSize int64, ttl time.Duration) (*models.UploadCredential, error) {
	issued := s.now()
	post, err := s.presign.PresignPostObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignPostOptions) {
		o.Expires = ttl
		o.Conditions = []interface{}{
			[]interface{}{"content-length-range", 0, maxSize},
			map[string]string{"Content-Type": contentType},
		}
	})
	if err != nil {
		return nil, fmt.Errorf("presign post %s: %w", key, err)
	}

	values := make(map[string]string, len(post.Values)+1)
	for k, v := range post.Values {
		values[k] = v
	}
	values["Content-Type"] = contentType

	return &models.UploadCredential{
		TransferEndpoint: post.URL,
		ObjectKey:        key,
		FormFields:       orderedFields(values),
		ExpiresAt:        issued.Add(ttl),
	}, nil
}

// orderedFields puts "key" first and the rest in name order, so the form
// is stable for a given policy.
func orderedFields(values map[string]string) []models.FormField {
	names := make([]string, 0, len(values))
	for name := range values {
		if name != "key" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	fields := make([]models.FormField, 0, len(values))
	if v, ok := values["key"]; ok {
		fields = append(fields, models.FormField{Name: "key", Value: v})
	}
	for _, name := range names {
		fields = append(fields, models.FormField{Name: name, Value: values[name]})
	}
	return fields
}

// PresignDownload implements ObjectStore.
func (s *S3Store) PresignDownload(ctx context.Context, key string, ttl time.Duration) (*models.DownloadCredential, error) {
	issued := s.now()
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return nil, fmt.Errorf("presign get %s: %w", key, err)
	}
	return &models.DownloadCredential{SignedURL: req.URL, ExpiresAt: issued.Add(ttl)}, nil
}

// Delete implements ObjectStore.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// ObjectURL implements ObjectStore.
func (s *S3Store) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	switch {
	case s.endpoint != "" && s.pathStyle:
		return s.endpoint + "/" + s.bucket + "/" + escaped
	case s.endpoint != "":
		if u, err := url.Parse(s.endpoint); err == nil && u.Host != "" {
			return u.Scheme + "://" + s.bucket + "." + u.Host + "/" + escaped
		}
		return s.endpoint + "/" + s.bucket + "/" + escaped
	default:
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, escaped)
	}
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
