//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package extractor

import "trpc.group/trpc-go/trpc-rag-go/knowledge/ocr"

// NewDefaultRegistry builds a registry covering every supported format.
// Image and scanned-PDF extraction are only wired when an OCR extractor is
// provided.
func NewDefaultRegistry(ocrExtractor ocr.Extractor, pdfOpts ...PDFOption) *Registry {
	registry := NewRegistry()
	registry.Register(NewText())
	registry.Register(NewMarkdown())
	registry.Register(NewHTML())
	registry.Register(NewXlsx())
	registry.Register(NewDocx())
	registry.Register(NewPptx())

	if ocrExtractor != nil {
		pdfOpts = append([]PDFOption{WithOCR(ocrExtractor)}, pdfOpts...)
		registry.Register(NewImage(ocrExtractor))
	}
	registry.Register(NewPDF(pdfOpts...))
	registry.Register(NewZip(registry))
	return registry
}
