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
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

var _ Extractor = (*Text)(nil)

// Text extracts plain text files. UTF-8 with or without BOM, UTF-16 with
// BOM and GB18030 are handled; anything else decodes lossily as UTF-8.
type Text struct{}

// NewText creates a plain text extractor.
func NewText() *Text {
	return &Text{}
}

// Extensions implements the Extractor interface.
func (t *Text) Extensions() []string {
	return []string{"txt"}
}

// Extract implements the Extractor interface.
func (t *Text) Extract(_ context.Context, content []byte) (string, error) {
	return strings.TrimSpace(DecodeText(content)), nil
}

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText decodes file bytes into a string, detecting the encoding from
// the BOM and falling back from UTF-8 to GB18030 for legacy Chinese files.
func DecodeText(content []byte) string {
	switch {
	case bytes.HasPrefix(content, bomUTF8):
		return string(content[len(bomUTF8):])
	case bytes.HasPrefix(content, bomUTF16LE):
		decoded, err := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder().Bytes(content[2:])
		if err == nil {
			return string(decoded)
		}
	case bytes.HasPrefix(content, bomUTF16BE):
		decoded, err := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder().Bytes(content[2:])
		if err == nil {
			return string(decoded)
		}
	}
	if utf8.Valid(content) {
		return string(content)
	}
	decoded, err := simplifiedchinese.GB18030.NewDecoder().Bytes(content)
	if err == nil {
		return string(decoded)
	}
	// Lossy fallback keeps whatever is readable.
	return strings.ToValidUTF8(string(content), "")
}
