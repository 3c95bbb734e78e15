//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package extractor converts uploaded file bytes into plain text for
// chunking and embedding. Each supported format has its own extractor;
// a registry maps file extensions to them.
package extractor

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrUnsupportedType is returned when no extractor is registered for an
// extension. Ingestion records it as a skip, not a failure.
var ErrUnsupportedType = errors.New("unsupported file type")

// Extractor extracts plain text from raw file content.
type Extractor interface {
	// Extract returns the text content. Formats that cannot yield text
	// return an empty string rather than failing the whole file.
	Extract(ctx context.Context, content []byte) (string, error)

	// Extensions lists the extensions this extractor handles, lowercase
	// and without the dot.
	Extensions() []string
}

// Registry maps file extensions to extractors.
type Registry struct {
	mu    sync.RWMutex
	byExt map[string]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Register adds an extractor under each of its extensions. Later
// registrations overwrite earlier ones.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range e.Extensions() {
		r.byExt[NormalizeExtension(ext)] = e
	}
}

// Get returns the extractor for the extension.
func (r *Registry) Get(extension string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byExt[NormalizeExtension(extension)]
	return e, ok
}

// Extract runs the extractor registered for the extension.
func (r *Registry) Extract(ctx context.Context, extension string, content []byte) (string, error) {
	e, ok := r.Get(extension)
	if !ok {
		return "", ErrUnsupportedType
	}
	return e.Extract(ctx, content)
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	return exts
}

// NormalizeExtension lowercases, strips a leading dot and folds aliases.
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	switch ext {
	case "markdown":
		return "md"
	case "jpeg":
		return "jpg"
	case "htm":
		return "html"
	}
	return ext
}
