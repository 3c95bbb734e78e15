//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package s3 provides an S3 object store backend. It supports AWS S3 and
// S3-compatible services like MinIO, DigitalOcean Spaces, and Cloudflare R2.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"trpc.group/trpc-go/trpc-rag-go/objectstore"
)

// Default configuration values.
const (
	defaultRegion     = "us-east-1"
	defaultMaxRetries = 3
)

// ErrEmptyBucket is returned when no bucket name is configured.
var ErrEmptyBucket = errors.New("s3: bucket name is empty")

// s3API defines the subset of AWS S3 API operations used by the store.
// This interface allows mocking the AWS SDK in unit tests.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Store implements objectstore.Store using AWS SDK v2.
type Store struct {
	s3     s3API
	bucket string
}

var _ objectstore.Store = (*Store)(nil)

// Option is a functional option for configuring the S3 store.
type Option func(*options)

type options struct {
	endpoint        string
	region          string
	bucket          string
	accessKeyID     string
	secretAccessKey string
	sessionToken    string
	usePathStyle    bool
	maxRetries      int
	api             s3API
}

// WithEndpoint sets a custom endpoint URL for S3-compatible services.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithRegion sets the AWS region. Default is "us-east-1".
func WithRegion(region string) Option {
	return func(o *options) {
		o.region = region
	}
}

// WithBucket sets the bucket name. Required.
func WithBucket(bucket string) Option {
	return func(o *options) {
		o.bucket = bucket
	}
}

// WithCredentials sets static credentials. If not provided, the default
// AWS credential chain is used. Both values must be non-empty to take effect.
func WithCredentials(accessKeyID, secretAccessKey string) Option {
	return func(o *options) {
		if accessKeyID != "" && secretAccessKey != "" {
			o.accessKeyID = accessKeyID
			o.secretAccessKey = secretAccessKey
		}
	}
}

// WithSessionToken sets the session token for temporary credentials (STS).
func WithSessionToken(token string) Option {
	return func(o *options) {
		o.sessionToken = token
	}
}

// WithPathStyle enables path-style addressing, required for MinIO.
func WithPathStyle(enabled bool) Option {
	return func(o *options) {
		o.usePathStyle = enabled
	}
}

// WithRetries sets the maximum number of retries. Default is 3.
func WithRetries(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxRetries = n
		}
	}
}

// WithAPI injects a pre-built S3 API client, mainly for tests.
func WithAPI(api s3API) Option {
	return func(o *options) {
		o.api = api
	}
}

// New creates an S3 store with the given options.
func New(ctx context.Context, opts ...Option) (*Store, error) {
	cfg := &options{maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.bucket == "" {
		return nil, ErrEmptyBucket
	}
	if cfg.api != nil {
		return &Store{s3: cfg.api, bucket: cfg.bucket}, nil
	}

	var awsOpts []func(*config.LoadOptions) error
	if cfg.region != "" {
		awsOpts = append(awsOpts, config.WithRegion(cfg.region))
	} else if cfg.endpoint != "" {
		// Custom endpoints need a region, fall back to the default.
		awsOpts = append(awsOpts, config.WithRegion(defaultRegion))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return nil, err
	}

	var s3Opts []func(*s3.Options)
	if cfg.endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.endpoint)
		})
	}
	if cfg.usePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}
	if cfg.accessKeyID != "" && cfg.secretAccessKey != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.accessKeyID,
				cfg.secretAccessKey,
				cfg.sessionToken,
			)
		})
	}
	if cfg.maxRetries > 0 {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.RetryMaxAttempts = cfg.maxRetries
		})
	}

	return &Store{
		s3:     s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.bucket,
	}, nil
}

// Put uploads an object.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	_, err := s.s3.PutObject(ctx, input)
	return wrapError(err)
}

// Get downloads an object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, "", wrapError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return data, aws.ToString(resp.ContentType), nil
}

// Delete removes objects in batches of 1000.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	const maxBatchSize = 1000
	for i := 0; i < len(keys); i += maxBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := keys[i:min(i+maxBatchSize, len(keys))]
		objectIDs := make([]types.ObjectIdentifier, len(batch))
		for j, key := range batch {
			objectIDs[j] = types.ObjectIdentifier{Key: aws.String(key)}
		}

		output, err := s.s3.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{
				Objects: objectIDs,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return wrapError(err)
		}
		if len(output.Errors) > 0 {
			firstErr := output.Errors[0]
			return fmt.Errorf("failed to delete %d objects, first error: %s (key: %s)",
				len(output.Errors), aws.ToString(firstErr.Message), aws.ToString(firstErr.Key))
		}
	}
	return nil
}

// Close implements objectstore.Store (no-op for S3).
func (s *Store) Close() error {
	return nil
}

// wrapError converts AWS SDK errors to the package sentinel errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return errors.Join(objectstore.ErrNotFound, err)
	}

	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return errors.Join(objectstore.ErrBucketNotFound, err)
	}

	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException":
			return errors.Join(objectstore.ErrAccessDenied, err)
		case "NoSuchKey":
			return errors.Join(objectstore.ErrNotFound, err)
		case "NoSuchBucket":
			return errors.Join(objectstore.ErrBucketNotFound, err)
		}
	}
	return err
}
