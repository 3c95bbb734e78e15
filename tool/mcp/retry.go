//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	mcp "trpc.group/trpc-go/trpc-mcp-go"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

// isRetryableError reports whether a tool call failure is worth retrying.
// Only transient network faults and retryable HTTP statuses qualify;
// unknown errors are not retried to avoid loops on semantic failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection timeout") ||
		strings.Contains(msg, "connection lost") ||
		strings.Contains(msg, "connection aborted") ||
		strings.Contains(msg, "i/o timeout") ||
		strings.Contains(msg, "read timeout") ||
		strings.Contains(msg, "write timeout") ||
		strings.Contains(msg, "dial timeout") ||
		msg == "eof" ||
		strings.HasSuffix(msg, ": eof") {
		return true
	}
	return hasRetryableStatus(msg)
}

// hasRetryableStatus matches 408/409/429 and 5xx status codes embedded in
// error text, with enough surrounding context to avoid matching port
// numbers and ids.
func hasRetryableStatus(msg string) bool {
	codes := []string{
		"408", "409", "429",
		"500", "501", "502", "503", "504", "505", "506", "507", "508", "509", "510", "511",
	}
	for _, code := range codes {
		if strings.Contains(msg, "http "+code) ||
			strings.Contains(msg, "status "+code) ||
			strings.Contains(msg, "status: "+code) ||
			strings.Contains(msg, "code "+code) ||
			strings.Contains(msg, "code: "+code) ||
			strings.Contains(msg, code+" ") {
			return true
		}
	}
	return false
}

// executeWithRetry runs a tool call with exponential backoff on retryable
// failures. The last error is returned unwrapped once attempts run out.
func executeWithRetry(
	ctx context.Context,
	cfg *RetryConfig,
	name string,
	operation func() (*mcp.CallToolResult, error),
) (*mcp.CallToolResult, error) {
	if cfg == nil || cfg.MaxRetries <= 0 {
		return operation()
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 0 {
				log.Debugf("tool %s succeeded on attempt %d", name, attempt+1)
			}
			return result, nil
		}
		if !isRetryableError(err) {
			return nil, err
		}
		lastErr = err
		if attempt >= cfg.MaxRetries {
			break
		}

		log.Debugf("tool %s attempt %d failed, retrying in %s: %v", name, attempt+1, backoff, err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("cancelled during retry backoff: %w", ctx.Err())
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}
	return nil, lastErr
}
