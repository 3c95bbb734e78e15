//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package cache is a thin JSON read-through cache over redis for list and
// detail endpoints. Misses and redis failures are both reported as a miss
// so callers always fall back to the source of truth.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Default TTLs. Lists and aggregates tolerate a minute of staleness,
// conversation detail is refreshed more aggressively because new messages
// land there.
const (
	DefaultListTTL   = 60 * time.Second
	DefaultDetailTTL = 30 * time.Second
)

const keyPrefix = "cache:"

// Cache wraps a redis client with JSON serialization.
type Cache struct {
	client    redis.UniversalClient
	listTTL   time.Duration
	detailTTL time.Duration
}

// Option configures the cache.
type Option func(*Cache)

// WithListTTL overrides the list/aggregate TTL.
func WithListTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.listTTL = d
		}
	}
}

// WithDetailTTL overrides the conversation detail TTL.
func WithDetailTTL(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.detailTTL = d
		}
	}
}

// New builds a cache over the redis client.
func New(client redis.UniversalClient, opts ...Option) *Cache {
	c := &Cache{
		client:    client,
		listTTL:   DefaultListTTL,
		detailTTL: DefaultDetailTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListTTL is the configured TTL for list and aggregate entries.
func (c *Cache) ListTTL() time.Duration { return c.listTTL }

// DetailTTL is the configured TTL for conversation detail entries.
func (c *Cache) DetailTTL() time.Duration { return c.detailTTL }

// GetJSON decodes the cached entry into dest. The bool reports a hit;
// redis errors and decode failures read as a miss.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) bool {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Warnf("cache get %s: %v", key, err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		log.Warnf("cache entry %s undecodable, dropping: %v", key, err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON stores value under key. A non-positive ttl uses the list TTL.
// Failures are logged, never surfaced.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warnf("cache encode %s: %v", key, err)
		return
	}
	if ttl <= 0 {
		ttl = c.listTTL
	}
	if err := c.client.Set(ctx, keyPrefix+key, raw, ttl).Err(); err != nil {
		log.Warnf("cache set %s: %v", key, err)
	}
}

// Delete removes the named entries.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = keyPrefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		log.Warnf("cache delete: %v", err)
	}
}

// DeleteByPrefix removes every entry under the key prefix via SCAN.
func (c *Cache) DeleteByPrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, keyPrefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.Warnf("cache scan %s: %v", prefix, err)
	}
	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Warnf("cache delete by prefix %s: %v", prefix, err)
	}
}

// Key helpers. All entries are user scoped so invalidation can sweep a
// single user with DeleteByPrefix.

// StatsKey caches the user's aggregate statistics.
func StatsKey(userID int64) string {
	return fmt.Sprintf("stats:user:%d", userID)
}

// UsageKey caches the user's quota usage snapshot.
func UsageKey(userID int64) string {
	return fmt.Sprintf("usage:user:%d", userID)
}

// KBListKey caches the user's knowledge base listing.
func KBListKey(userID int64) string {
	return fmt.Sprintf("kb:list:user:%d", userID)
}

// KBDetailKey caches one knowledge base detail view.
func KBDetailKey(userID, kbID int64) string {
	return fmt.Sprintf("kb:detail:user:%d:kb:%d", userID, kbID)
}

// KBPrefix sweeps every knowledge base entry for the user.
func KBPrefix(userID int64) string {
	return fmt.Sprintf("kb:list:user:%d", userID)
}

// ConvListKey caches the user's conversation listing.
func ConvListKey(userID int64) string {
	return fmt.Sprintf("conv:list:user:%d", userID)
}

// ConvDetailKey caches one conversation with its messages.
func ConvDetailKey(userID, convID int64) string {
	return fmt.Sprintf("conv:detail:user:%d:conv:%d", userID, convID)
}

// FileListKey caches the user's file listing.
func FileListKey(userID int64) string {
	return fmt.Sprintf("file:list:user:%d", userID)
}

// UserPrefixes sweeps every cached entry for the user across namespaces.
// Keys embed "user:<id>" so a full sweep needs the per-namespace prefixes.
func UserPrefixes(userID int64) []string {
	return []string{
		StatsKey(userID),
		UsageKey(userID),
		fmt.Sprintf("kb:list:user:%d", userID),
		fmt.Sprintf("kb:detail:user:%d", userID),
		fmt.Sprintf("conv:list:user:%d", userID),
		fmt.Sprintf("conv:detail:user:%d", userID),
		fmt.Sprintf("file:list:user:%d", userID),
	}
}
