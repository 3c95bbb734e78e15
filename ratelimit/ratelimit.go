//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package ratelimit enforces per-user quotas with short-lived redis
// counters. Redis failures fail open: quota enforcement is best effort
// and never takes the service down.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Default quotas.
const (
	DefaultUploadPerDay = 500
	DefaultChatPerDay   = 200
	DefaultSearchPerSec = 10
)

// Daily buckets outlive the day boundary so yesterday's counter is still
// readable for usage snapshots.
const dailyBucketTTL = 48 * time.Hour

const secondBucketTTL = 2 * time.Second

// Usage is a point-in-time snapshot of the user's consumption.
type Usage struct {
	UploadsToday    int64 `json:"uploads_today"`
	UploadLimit     int   `json:"upload_limit"`
	ChatsToday      int64 `json:"chats_today"`
	ChatLimit       int   `json:"chat_limit"`
	SearchesThisSec int64 `json:"searches_this_sec"`
	SearchLimit     int   `json:"search_limit"`
}

// Limiter enforces the three per-user quotas.
type Limiter struct {
	client       redis.UniversalClient
	uploadPerDay int
	chatPerDay   int
	searchPerSec int
}

// Option configures the limiter.
type Option func(*Limiter)

// WithUploadPerDay overrides the daily upload quota.
func WithUploadPerDay(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.uploadPerDay = n
		}
	}
}

// WithChatPerDay overrides the daily conversation quota.
func WithChatPerDay(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.chatPerDay = n
		}
	}
}

// WithSearchPerSec overrides the per-second search quota.
func WithSearchPerSec(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.searchPerSec = n
		}
	}
}

// New builds a limiter over the redis client.
func New(client redis.UniversalClient, opts ...Option) *Limiter {
	l := &Limiter{
		client:       client,
		uploadPerDay: DefaultUploadPerDay,
		chatPerDay:   DefaultChatPerDay,
		searchPerSec: DefaultSearchPerSec,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AllowUpload consumes one upload from the user's daily quota.
func (l *Limiter) AllowUpload(ctx context.Context, userID int64) error {
	return l.allow(ctx, uploadKey(userID, time.Now()), dailyBucketTTL,
		l.uploadPerDay, "今日上传次数已达上限")
}

// AllowChat consumes one conversation turn from the user's daily quota.
func (l *Limiter) AllowChat(ctx context.Context, userID int64) error {
	return l.allow(ctx, chatKey(userID, time.Now()), dailyBucketTTL,
		l.chatPerDay, "今日对话次数已达上限")
}

// AllowSearch consumes one search from the user's per-second quota.
func (l *Limiter) AllowSearch(ctx context.Context, userID int64) error {
	return l.allow(ctx, searchKey(userID, time.Now()), secondBucketTTL,
		l.searchPerSec, "检索过于频繁，请稍后再试")
}

func (l *Limiter) allow(ctx context.Context, key string, ttl time.Duration, limit int, msg string) error {
	n, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warnf("rate limit counter %s unavailable, allowing: %v", key, err)
		return nil
	}
	if n == 1 {
		if err := l.client.Expire(ctx, key, ttl).Err(); err != nil {
			log.Warnf("set ttl on %s: %v", key, err)
		}
	}
	if n > int64(limit) {
		return errs.New(errs.KindRateLimit, "%s", msg)
	}
	return nil
}

// Usage returns the user's current counters alongside the limits. Missing
// counters read as zero; redis errors fail open with zeros.
func (l *Limiter) Usage(ctx context.Context, userID int64) *Usage {
	now := time.Now()
	return &Usage{
		UploadsToday:    l.count(ctx, uploadKey(userID, now)),
		UploadLimit:     l.uploadPerDay,
		ChatsToday:      l.count(ctx, chatKey(userID, now)),
		ChatLimit:       l.chatPerDay,
		SearchesThisSec: l.count(ctx, searchKey(userID, now)),
		SearchLimit:     l.searchPerSec,
	}
}

func (l *Limiter) count(ctx context.Context, key string) int64 {
	n, err := l.client.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		log.Warnf("read counter %s: %v", key, err)
	}
	return n
}

func uploadKey(userID int64, now time.Time) string {
	return fmt.Sprintf("rate:upload:user:%d:day:%s", userID, now.Format("2006-01-02"))
}

func chatKey(userID int64, now time.Time) string {
	return fmt.Sprintf("rate:chat:user:%d:day:%s", userID, now.Format("2006-01-02"))
}

func searchKey(userID int64, now time.Time) string {
	return fmt.Sprintf("rate:search:user:%d:sec:%d", userID, now.Unix())
}
