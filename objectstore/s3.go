package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Monadical-SAS/reflector/logger"
)

// S3Store is the S3-compatible Store implementation. It works
// equally against AWS S3 and any endpoint-compatible object store (minio,
// R2, ...) via a configured endpoint override.
type S3Store struct {
	client  *s3.Client
	presign *s3.PresignClient
}

// S3Config configures NewS3Store.
type S3Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// UsePathStyle is required by most non-AWS S3-compatible endpoints.
	UsePathStyle bool
}

// NewS3Store builds an S3Store from explicit credentials, constructing
// one client per process rather than relying on ambient global state.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &S3Store{
		client:  client,
		presign: s3.NewPresignClient(client),
	}, nil
}

// Presign implements Store.
func (s *S3Store) Presign(ctx context.Context, bucket, key string, op Op, ttl time.Duration) (string, error) {
	var req *v4.PresignedHTTPRequest
	var err error
	switch op {
	case OpGet:
		req, err = s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
	case OpPut:
		req, err = s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(ttl))
	default:
		return "", fmt.Errorf("objectstore: unknown presign op %q", op)
	}
	if err != nil {
		return "", classify("presign", err)
	}
	return req.URL, nil
}

// Put implements Store. The AWS SDK's PutObject requires a ReadSeeker for
// SigV4 streaming payload signing; callers that only have an io.Reader
// should wrap it in a temp file upstream (PaddingSubflow already streams
// through a local temp file for this reason).
func (s *S3Store) Put(ctx context.Context, bucket, key string, body io.Reader) error {
	rs, ok := body.(io.ReadSeeker)
	if !ok {
		return fmt.Errorf("objectstore: put %s/%s: body must be seekable", bucket, key)
	}
	logger.DebugContext(ctx, "objectstore put", "bucket", bucket, "key", key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   rs,
	})
	if err != nil {
		return classify("put", err)
	}
	return nil
}

// Get implements Store.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("get", err)
	}
	return out.Body, nil
}

// Delete implements Store. S3 DeleteObject succeeds on a missing key, so
// idempotency comes for free; a classified not-found from a non-S3
// endpoint is also swallowed.
func (s *S3Store) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		cerr := classify("delete", err)
		if errors.Is(cerr, ErrNotFound) {
			return nil
		}
		return cerr
	}
	return nil
}

// Head implements Store.
func (s *S3Store) Head(ctx context.Context, bucket, key string) (HeadResult, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return HeadResult{}, classify("head", err)
	}
	size := int64(0)
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return HeadResult{Size: size}, nil
}
