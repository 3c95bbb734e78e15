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
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
	pdfcpuAPI "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/ocr"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*PDF)(nil)

// DefaultOCRMinChars is the text-layer length below which a PDF is treated
// as scanned and routed through OCR.
const DefaultOCRMinChars = 80

// DefaultOCRDPI sizes the decorative-image cutoff: embedded images with
// fewer than dpi*dpi pixels (under roughly one square inch of page) are
// skipped during OCR.
const DefaultOCRDPI = 150

// PDF extracts the text layer of PDF files. When the text layer is shorter
// than the OCR threshold and an OCR extractor is configured, page images
// are extracted and recognized instead, so scanned documents still index.
type PDF struct {
	ocrExtractor ocr.Extractor
	ocrMinChars  int
	ocrDPI       int
}

// PDFOption configures the PDF extractor.
type PDFOption func(*PDF)

// WithOCR sets the OCR extractor used for scanned pages.
func WithOCR(e ocr.Extractor) PDFOption {
	return func(p *PDF) {
		p.ocrExtractor = e
	}
}

// WithOCRMinChars sets the scanned-document threshold.
func WithOCRMinChars(n int) PDFOption {
	return func(p *PDF) {
		if n > 0 {
			p.ocrMinChars = n
		}
	}
}

// WithOCRDPI sets the DPI used for the decorative-image cutoff.
func WithOCRDPI(dpi int) PDFOption {
	return func(p *PDF) {
		if dpi > 0 {
			p.ocrDPI = dpi
		}
	}
}

// NewPDF creates a PDF extractor.
func NewPDF(opts ...PDFOption) *PDF {
	p := &PDF{ocrMinChars: DefaultOCRMinChars, ocrDPI: DefaultOCRDPI}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Extensions implements the Extractor interface.
func (p *PDF) Extensions() []string {
	return []string{"pdf"}
}

// Extract implements the Extractor interface.
func (p *PDF) Extract(ctx context.Context, content []byte) (string, error) {
	text := p.extractTextLayer(content)

	if p.ocrExtractor != nil && len([]rune(text)) < p.ocrMinChars {
		if ocrText := p.extractByOCR(ctx, content); ocrText != "" {
			return ocrText, nil
		}
	}
	return text, nil
}

func (p *PDF) extractTextLayer(content []byte) string {
	pages := p.pageTexts(content)

	var b strings.Builder
	for _, t := range pages {
		if t == "" {
			continue
		}
		b.WriteString(t)
		b.WriteString("\n")
	}
	text := strings.TrimSpace(b.String())

	if tables := tableBlocks(pages); tables != "" {
		if text != "" {
			text += "\n\n"
		}
		text += tables
	}
	return text
}

func (p *PDF) pageTexts(content []byte) []string {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		log.Warnf("pdf open failed: %v", err)
		return nil
	}

	pages := make([]string, reader.NumPage())
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages[pageIndex-1] = strings.TrimSpace(text)
	}
	return pages
}

var cellSeparator = regexp.MustCompile(`\t|\s{2,}`)

// tableBlocks detects lattice-like tables in the text layer: a run of two
// or more consecutive lines that split into the same number of cells (two
// or more, on tabs or runs of spaces) is treated as one table. Each run is
// rendered as a labelled block with tab-separated rows, appended after the
// page text so table questions stay answerable.
func tableBlocks(pages []string) string {
	var blocks []string
	for pageIdx, pageText := range pages {
		tableNum := 0
		var run [][]string

		flush := func() {
			if len(run) >= 2 {
				tableNum++
				rows := make([]string, len(run))
				for i, cells := range run {
					rows[i] = strings.Join(cells, "\t")
				}
				blocks = append(blocks, fmt.Sprintf("表：第%d页表格%d\n%s",
					pageIdx+1, tableNum, strings.Join(rows, "\n")))
			}
			run = nil
		}

		for _, line := range strings.Split(pageText, "\n") {
			cells := splitCells(line)
			if len(cells) < 2 {
				flush()
				continue
			}
			if len(run) > 0 && len(cells) != len(run[0]) {
				flush()
			}
			run = append(run, cells)
		}
		flush()
	}
	return strings.Join(blocks, "\n\n")
}

func splitCells(line string) []string {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	parts := cellSeparator.Split(line, -1)
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			cells = append(cells, p)
		}
	}
	return cells
}

// extractByOCR pulls embedded page images and runs them through OCR,
// keeping page order.
func (p *PDF) extractByOCR(ctx context.Context, content []byte) string {
	conf := model.NewDefaultConfiguration()
	conf.Cmd = model.EXTRACTIMAGES
	pdfcpuCtx, err := pdfcpuAPI.ReadValidateAndOptimize(bytes.NewReader(content), conf)
	if err != nil {
		log.Warnf("pdf ocr: read context failed: %v", err)
		return ""
	}

	var parts []string
	for pageIndex := 1; pageIndex <= pdfcpuCtx.PageCount; pageIndex++ {
		select {
		case <-ctx.Done():
			return strings.Join(parts, "\n\n")
		default:
		}

		pageImages, err := pdfcpu.ExtractPageImages(pdfcpuCtx, pageIndex, false)
		if err != nil {
			continue
		}
		for _, img := range pageImages {
			if img.Reader == nil {
				continue
			}
			data, err := io.ReadAll(img.Reader)
			if err != nil || len(data) == 0 {
				continue
			}
			if p.isDecorative(data) {
				continue
			}
			text, err := p.ocrExtractor.ExtractText(ctx, data, img.FileType)
			if err != nil {
				log.Warnf("pdf ocr: page %d image failed: %v", pageIndex, err)
				continue
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// isDecorative filters tiny embedded images (logos, rules) by pixel area.
// Undecodable images pass through so OCR gets a chance.
func (p *PDF) isDecorative(data []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return cfg.Width*cfg.Height < p.ocrDPI*p.ocrDPI
}
