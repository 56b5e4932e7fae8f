// Package s3blob archives the settlement journal to S3 or an S3-compatible
// store (MinIO, R2, iDrive e2) using AWS SDK v2.
package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/escrowmarket/internal/domain"
)

// multipartThreshold is also the part size; it is the S3 minimum.
const multipartThreshold int64 = 5 * 1024 * 1024

// BucketConfig describes the archive bucket. Endpoint is empty for AWS S3.
type BucketConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// UseSSL picks the scheme when Endpoint has none.
	UseSSL         bool
	ForcePathStyle bool
}

// Bucket implements domain.BlobWriter and domain.BlobReader on one bucket.
type Bucket struct {
	client   *s3.Client
	uploader *manager.Uploader
	name     string
}

var (
	_ domain.BlobWriter = (*Bucket)(nil)
	_ domain.BlobReader = (*Bucket)(nil)
)

// New opens the bucket with static credentials.
func New(ctx context.Context, cfg BucketConfig) (*Bucket, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3blob: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, errors.New("s3blob: region is required")
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("s3blob: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint, cfg.UseSSL))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return &Bucket{
		client: client,
		uploader: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
		name: cfg.Bucket,
	}, nil
}

// Health checks that the bucket is reachable with the configured credentials.
func (b *Bucket) Health(ctx context.Context) error {
	if _, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.name)}); err != nil {
		return fmt.Errorf("s3blob: head bucket %s: %w", b.name, err)
	}
	return nil
}

// Put uploads blob. Bodies above the multipart threshold go through the
// upload manager. A Create upload is sent with If-None-Match; multipart
// creates check for the object first since not every S3-compatible store
// honours the condition on CompleteMultipartUpload.
func (b *Bucket) Put(ctx context.Context, blob domain.Blob) error {
	in := &s3.PutObjectInput{
		Bucket:      aws.String(b.name),
		Key:         aws.String(blob.Path),
		Body:        blob.Body,
		ContentType: aws.String(blob.ContentType),
		Metadata:    blob.Metadata,
	}

	if blob.Size > multipartThreshold {
		if blob.Create {
			exists, err := b.exists(ctx, blob.Path)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("s3blob: put %s: %w", blob.Path, domain.ErrAlreadyExists)
			}
		}
		if _, err := b.uploader.Upload(ctx, in); err != nil {
			return fmt.Errorf("s3blob: multipart upload %s: %w", blob.Path, err)
		}
		return nil
	}

	if blob.Create {
		in.IfNoneMatch = aws.String("*")
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		if statusOf(err) == http.StatusPreconditionFailed {
			return fmt.Errorf("s3blob: put %s: %w", blob.Path, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("s3blob: put %s: %w", blob.Path, err)
	}
	return nil
}

// Get returns the object body at path. The caller closes it.
func (b *Bucket) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("s3blob: get %s: %w", path, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("s3blob: get %s: %w", path, err)
	}
	return out.Body, nil
}

func (b *Bucket) exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.name),
		Key:    aws.String(path),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("s3blob: head %s: %w", path, err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf) || statusOf(err) == http.StatusNotFound
}

// statusOf extracts the HTTP status from an SDK response error, or 0.
func statusOf(err error) int {
	var re interface{ HTTPStatusCode() int }
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func normaliseEndpoint(endpoint string, useSSL bool) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" && u.Host != "" {
		return endpoint
	}
	if useSSL {
		return "https://" + endpoint
	}
	return "http://" + endpoint
}
