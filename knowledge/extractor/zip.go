//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package extractor

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*Zip)(nil)

// zipSupported lists the entry types extracted from an archive. Nested
// archives and images are not descended into.
var zipSupported = map[string]struct{}{
	"txt": {}, "pdf": {}, "md": {}, "html": {},
	"docx": {}, "pptx": {}, "xlsx": {},
}

// Zip extracts text from every supported file inside an archive. Each
// entry's text is prefixed with "[文件: <name>]" so retrieval can point back
// to the member file.
type Zip struct {
	registry *Registry
}

// NewZip creates an archive extractor that delegates entries to the
// registry.
func NewZip(registry *Registry) *Zip {
	return &Zip{registry: registry}
}

// Extensions implements the Extractor interface.
func (z *Zip) Extensions() []string {
	return []string{"zip"}
}

// Extract implements the Extractor interface.
func (z *Zip) Extract(ctx context.Context, content []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		log.Warnf("zip extraction failed: %v", err)
		return "", nil
	}

	var parts []string
	for _, f := range r.File {
		if skipZipEntry(f.Name) {
			continue
		}
		ext := entryExtension(f.Name)
		if _, ok := zipSupported[ext]; !ok {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			log.Warnf("zip entry %q open failed: %v", f.Name, err)
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warnf("zip entry %q read failed: %v", f.Name, err)
			continue
		}

		text, err := z.registry.Extract(ctx, ext, data)
		if err != nil {
			log.Warnf("zip entry %q extraction failed: %v", f.Name, err)
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, "[文件: "+f.Name+"]\n"+text)
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

// skipZipEntry filters macOS metadata and hidden files.
func skipZipEntry(name string) bool {
	return strings.HasPrefix(name, "__MACOSX") ||
		strings.HasPrefix(name, ".") ||
		strings.Contains(name, "/.")
}

func entryExtension(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return NormalizeExtension(name[idx+1:])
}
