//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package cos provides a Tencent Cloud Object Storage backend.
//
// Authentication credentials can be provided via the COS_SECRETID and
// COS_SECRETKEY environment variables or the WithSecretID/WithSecretKey
// options.
package cos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"

	"trpc.group/trpc-go/trpc-rag-go/objectstore"
)

const defaultTimeout = 60 * time.Second

// Store implements objectstore.Store using Tencent COS.
type Store struct {
	cosClient *cos.Client
}

var _ objectstore.Store = (*Store)(nil)

// Option configures the COS store.
type Option func(*options)

type options struct {
	secretID   string
	secretKey  string
	timeout    time.Duration
	httpClient *http.Client
	cosClient  *cos.Client
}

// WithSecretID sets the COS secret id.
func WithSecretID(secretID string) Option {
	return func(o *options) {
		o.secretID = secretID
	}
}

// WithSecretKey sets the COS secret key.
func WithSecretKey(secretKey string) Option {
	return func(o *options) {
		o.secretKey = secretKey
	}
}

// WithTimeout sets the HTTP client timeout. Default is 60s.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.timeout = timeout
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithClient sets a pre-configured COS client directly, bypassing the
// bucket URL and credential options.
func WithClient(client *cos.Client) Option {
	return func(o *options) {
		o.cosClient = client
	}
}

// New creates a COS store for the given bucket URL, e.g.
// "https://bucket.cos.ap-guangzhou.myqcloud.com".
func New(bucketURL string, opts ...Option) (*Store, error) {
	cfg := &options{
		timeout:   defaultTimeout,
		secretID:  os.Getenv("COS_SECRETID"),
		secretKey: os.Getenv("COS_SECRETKEY"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.cosClient != nil {
		return &Store{cosClient: cfg.cosClient}, nil
	}

	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("cos: parse bucket url %s: %w", bucketURL, err)
	}
	b := &cos.BaseURL{BucketURL: u}

	var httpClient *http.Client
	if cfg.httpClient != nil {
		httpClient = cfg.httpClient
		if cfg.timeout > 0 {
			httpClient.Timeout = cfg.timeout
		}
	} else {
		httpClient = &http.Client{
			Timeout: cfg.timeout,
			Transport: &cos.AuthorizationTransport{
				SecretID:  cfg.secretID,
				SecretKey: cfg.secretKey,
			},
		}
	}

	return &Store{cosClient: cos.NewClient(b, httpClient)}, nil
}

// Put uploads an object.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType: contentType,
		},
	}
	_, err := s.cosClient.Object.Put(ctx, key, bytes.NewReader(data), opt)
	if err != nil {
		return fmt.Errorf("cos: put object %s: %w", key, err)
	}
	return nil
}

// Get downloads an object.
func (s *Store) Get(ctx context.Context, key string) ([]byte, string, error) {
	resp, err := s.cosClient.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, "", errors.Join(objectstore.ErrNotFound, err)
		}
		return nil, "", fmt.Errorf("cos: get object %s: %w", key, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("cos: read object %s: %w", key, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// Delete removes objects, ignoring missing keys.
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		_, err := s.cosClient.Object.Delete(ctx, key)
		if err != nil && !cos.IsNotFoundError(err) {
			return fmt.Errorf("cos: delete object %s: %w", key, err)
		}
	}
	return nil
}

// Close implements objectstore.Store (no-op for COS).
func (s *Store) Close() error {
	return nil
}
