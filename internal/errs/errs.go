//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package errs classifies errors so transport layers can map them to
// status codes without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind labels the failure class of an error.
type Kind int

const (
	// KindUnknown is the zero value for unclassified errors.
	KindUnknown Kind = iota
	// KindValidation marks rejected input.
	KindValidation
	// KindNotFound marks a missing or unauthorized resource.
	KindNotFound
	// KindRateLimit marks a refused request due to quota exhaustion.
	KindRateLimit
	// KindDependency marks an upstream failure (model API, store, broker).
	KindDependency
	// KindDataIntegrity marks corrupt or inconsistent stored state.
	KindDataIntegrity
	// KindFatal marks a permanent failure that retrying cannot fix.
	KindFatal
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindDependency:
		return "dependency"
	case KindDataIntegrity:
		return "data_integrity"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	kind Kind
	err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the failure class.
func (e *Error) Kind() Kind {
	return e.kind
}

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: err}
}

// Wrapf classifies an error with additional context. The wrapped error
// remains reachable through errors.Is/As.
func Wrapf(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// KindOf extracts the failure class from an error chain.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindUnknown
}

// Is reports whether any error in the chain carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
