//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package kafka provides Kafka writer and reader management for storage.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

var (
	kafkaRegistry map[string][]ClientBuilderOpt

	globalWriterBuilder WriterBuilder = DefaultWriterBuilder
	globalReaderBuilder ReaderBuilder = DefaultReaderBuilder
)

func init() {
	kafkaRegistry = make(map[string][]ClientBuilderOpt)
}

// Writer is the producer-side interface. *kafka.Writer satisfies it.
type Writer interface {
	// WriteMessages writes a batch of messages to the configured topic.
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	// Close flushes pending writes and releases resources.
	Close() error
}

// Reader is the consumer-side interface. *kafka.Reader satisfies it.
type Reader interface {
	// FetchMessage reads the next message without committing the offset.
	FetchMessage(ctx context.Context) (kafka.Message, error)
	// CommitMessages commits the offsets of the given messages.
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	// Close closes the reader stream.
	Close() error
}

// WriterBuilder is the function type for building a Kafka writer.
type WriterBuilder func(builderOpts ...ClientBuilderOpt) (Writer, error)

// ReaderBuilder is the function type for building a Kafka reader.
type ReaderBuilder func(builderOpts ...ClientBuilderOpt) (Reader, error)

// SetWriterBuilder sets the Kafka writer builder.
func SetWriterBuilder(builder WriterBuilder) {
	globalWriterBuilder = builder
}

// GetWriterBuilder returns the Kafka writer builder.
func GetWriterBuilder() WriterBuilder {
	return globalWriterBuilder
}

// SetReaderBuilder sets the Kafka reader builder.
func SetReaderBuilder(builder ReaderBuilder) {
	globalReaderBuilder = builder
}

// GetReaderBuilder returns the Kafka reader builder.
func GetReaderBuilder() ReaderBuilder {
	return globalReaderBuilder
}

// ClientBuilderOpts is the options for the Kafka builders.
type ClientBuilderOpts struct {
	// Brokers is the list of broker addresses, e.g. ["localhost:9092"].
	Brokers []string
	// Topic is the topic to produce to or consume from.
	Topic string
	// GroupID is the consumer group id, reader side only.
	GroupID string
	// BatchTimeout bounds how long the writer may buffer before flushing.
	BatchTimeout time.Duration

	// ExtraOptions is the extra options for the Kafka builders, it's used
	// for the custom builder.
	ExtraOptions []any
}

// ClientBuilderOpt is the option for the Kafka builders.
type ClientBuilderOpt func(*ClientBuilderOpts)

// WithBrokers sets the broker addresses.
func WithBrokers(brokers ...string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.Brokers = brokers
	}
}

// WithTopic sets the topic.
func WithTopic(topic string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.Topic = topic
	}
}

// WithGroupID sets the consumer group id.
func WithGroupID(groupID string) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.GroupID = groupID
	}
}

// WithBatchTimeout sets the writer batch timeout.
func WithBatchTimeout(d time.Duration) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.BatchTimeout = d
	}
}

// WithExtraOptions sets the extra options for the Kafka builders.
// It's used for the custom builder.
func WithExtraOptions(extraOptions ...any) ClientBuilderOpt {
	return func(opts *ClientBuilderOpts) {
		opts.ExtraOptions = append(opts.ExtraOptions, extraOptions...)
	}
}

// DefaultWriterBuilder is the default Kafka writer builder.
func DefaultWriterBuilder(builderOpts ...ClientBuilderOpt) (Writer, error) {
	opts := applyOpts(builderOpts)
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are empty")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka: topic is empty")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	if opts.BatchTimeout > 0 {
		w.BatchTimeout = opts.BatchTimeout
	}
	return w, nil
}

// DefaultReaderBuilder is the default Kafka reader builder.
func DefaultReaderBuilder(builderOpts ...ClientBuilderOpt) (Reader, error) {
	opts := applyOpts(builderOpts)
	if len(opts.Brokers) == 0 {
		return nil, errors.New("kafka: brokers are empty")
	}
	if opts.Topic == "" {
		return nil, errors.New("kafka: topic is empty")
	}
	if opts.GroupID == "" {
		return nil, errors.New("kafka: group id is empty")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  opts.Brokers,
		Topic:    opts.Topic,
		GroupID:  opts.GroupID,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	}), nil
}

// RegisterKafkaInstance registers a Kafka instance options to the registry.
// The options are appended, so repeated registration accumulates.
func RegisterKafkaInstance(name string, opts ...ClientBuilderOpt) {
	kafkaRegistry[name] = append(kafkaRegistry[name], opts...)
}

// GetKafkaInstance gets the Kafka instance options from the registry.
func GetKafkaInstance(name string) ([]ClientBuilderOpt, bool) {
	opts, ok := kafkaRegistry[name]
	return opts, ok
}

func applyOpts(builderOpts []ClientBuilderOpt) *ClientBuilderOpts {
	opts := &ClientBuilderOpts{}
	for _, opt := range builderOpts {
		opt(opts)
	}
	return opts
}
