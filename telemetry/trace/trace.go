//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package trace holds the process-wide tracer handles. Both default to
// noop implementations, so instrumented code paths cost nothing until
// Start wires a real OTLP exporter.
package trace

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentName = "trpc.group/trpc-go/trpc-rag-go"

// defaultServiceName identifies this service in trace backends.
const defaultServiceName = "trpc-rag-go"

// Span attribute keys.
const (
	AttrUserID          = "rag.user_id"
	AttrKnowledgeBaseID = "rag.kb_id"
	AttrFileCount       = "rag.file_count"
	AttrChunkCount      = "rag.chunk_count"
	AttrTopK            = "rag.top_k"
	AttrConfidence      = "rag.confidence"
)

// Tracer and TracerProvider are the handles instrumented code uses.
var (
	Tracer         trace.Tracer         = noop.NewTracerProvider().Tracer(instrumentName)
	TracerProvider trace.TracerProvider = noop.NewTracerProvider()
)

type options struct {
	protocol    string
	endpoint    string
	endpointURL string
	serviceName string
	headers     map[string]string
}

// Option configures Start.
type Option func(*options)

// WithProtocol selects the OTLP transport, "grpc" (default) or "http".
func WithProtocol(protocol string) Option {
	return func(o *options) {
		o.protocol = protocol
	}
}

// WithEndpoint sets the collector host:port.
func WithEndpoint(endpoint string) Option {
	return func(o *options) {
		o.endpoint = endpoint
	}
}

// WithEndpointURL sets a full collector URL including path. It takes
// precedence over WithEndpoint.
func WithEndpointURL(endpointURL string) Option {
	return func(o *options) {
		o.endpointURL = endpointURL
	}
}

// WithServiceName overrides the service name reported on spans.
func WithServiceName(name string) Option {
	return func(o *options) {
		o.serviceName = name
	}
}

// WithHeaders adds headers to every export request, typically auth.
func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.headers = headers
	}
}

// Start installs a real tracer provider exporting OTLP spans. It returns
// a cleanup function that flushes and shuts the provider down.
func Start(ctx context.Context, opts ...Option) (func() error, error) {
	o := options{
		protocol:    "grpc",
		serviceName: defaultServiceName,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.endpoint == "" {
		o.endpoint = tracesEndpoint(o.protocol)
	}

	exporter, err := newExporter(ctx, &o)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(o.serviceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("trace: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	TracerProvider = tp
	Tracer = tp.Tracer(instrumentName)

	clean := func() error {
		return tp.Shutdown(context.Background())
	}
	return clean, nil
}

func newExporter(ctx context.Context, o *options) (sdktrace.SpanExporter, error) {
	switch o.protocol {
	case "http":
		httpOpts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(o.endpoint),
			otlptracehttp.WithInsecure(),
		}
		if o.endpointURL != "" {
			endpoint, urlPath, err := parseEndpointURL(o.endpointURL)
			if err != nil {
				return nil, err
			}
			httpOpts = append(httpOpts,
				otlptracehttp.WithEndpoint(endpoint),
				otlptracehttp.WithURLPath(urlPath),
			)
		}
		if len(o.headers) > 0 {
			httpOpts = append(httpOpts, otlptracehttp.WithHeaders(o.headers))
		}
		return otlptracehttp.New(ctx, httpOpts...)
	default:
		grpcOpts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(o.endpoint),
			otlptracegrpc.WithInsecure(),
		}
		if o.endpointURL != "" {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithEndpointURL(o.endpointURL))
		}
		if len(o.headers) > 0 {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithHeaders(o.headers))
		}
		return otlptracegrpc.New(ctx, grpcOpts...)
	}
}

// tracesEndpoint resolves the collector endpoint from the standard OTLP
// environment variables, falling back to the protocol's local default.
func tracesEndpoint(protocol string) string {
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT"); ep != "" {
		return ep
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		return ep
	}
	if protocol == "http" {
		return "localhost:4318"
	}
	return "localhost:4317"
}

// parseEndpointURL splits a collector URL into host:port and path. A
// missing scheme is tolerated; a missing path becomes "/".
func parseEndpointURL(raw string) (endpoint, urlPath string, err error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("trace: parse endpoint url: %w", err)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("trace: endpoint url %q has no host", raw)
	}
	urlPath = u.Path
	if urlPath == "" {
		urlPath = "/"
	}
	return u.Host, urlPath, nil
}
