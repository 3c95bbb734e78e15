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

	"trpc.group/trpc-go/trpc-rag-go/knowledge/ocr"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*Image)(nil)

// Image extracts text from image files through OCR. The original image
// stays in object storage; only the recognized text is indexed.
type Image struct {
	ocrExtractor ocr.Extractor
}

// NewImage creates an image extractor backed by the given OCR extractor.
func NewImage(e ocr.Extractor) *Image {
	return &Image{ocrExtractor: e}
}

// Extensions implements the Extractor interface.
func (i *Image) Extensions() []string {
	return []string{"png", "jpg", "jpeg"}
}

var pngMagic = []byte{0x89, 0x50, 0x4E, 0x47}

// Extract implements the Extractor interface. OCR failures degrade to an
// empty result so one bad image does not fail a batch.
func (i *Image) Extract(ctx context.Context, content []byte) (string, error) {
	if i.ocrExtractor == nil || len(content) == 0 {
		return "", nil
	}
	format := "jpeg"
	if bytes.HasPrefix(content, pngMagic) {
		format = "png"
	}
	text, err := i.ocrExtractor.ExtractText(ctx, content, format)
	if err != nil {
		log.Warnf("image ocr failed: %v", err)
		return "", nil
	}
	return text, nil
}
