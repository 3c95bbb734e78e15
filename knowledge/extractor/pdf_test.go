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
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPDF generates a small PDF with the given text. Generating keeps
// the fixture well-formed without handcrafted bytes.
func newTestPDF(t *testing.T, text string) []byte {
	t.Helper()
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	pdf.AddPage()
	pdf.Cell(40, 10, text)

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

type stubOCR struct {
	text  string
	calls int
}

func (s *stubOCR) ExtractText(ctx context.Context, image []byte, format string) (string, error) {
	s.calls++
	return s.text, nil
}

func TestPDFExtractTextLayer(t *testing.T) {
	content := newTestPDF(t, "Quarterly revenue report")

	e := NewPDF()
	text, err := e.Extract(context.Background(), content)
	require.NoError(t, err)
	assert.Contains(t, text, "Quarterly revenue report")
}

func TestPDFExtractBadContent(t *testing.T) {
	e := NewPDF()
	text, err := e.Extract(context.Background(), []byte("not a pdf"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestPDFSkipsOCRWhenTextSufficient(t *testing.T) {
	long := "This page carries a fully extractable text layer that easily " +
		"clears the scanned-document threshold for optical recognition."
	content := newTestPDF(t, long)

	stub := &stubOCR{text: "should not be used"}
	e := NewPDF(WithOCR(stub), WithOCRMinChars(40))
	text, err := e.Extract(context.Background(), content)
	require.NoError(t, err)
	assert.NotContains(t, text, "should not be used")
	assert.Zero(t, stub.calls)
}

func TestPDFTableBlocks(t *testing.T) {
	page := "Intro paragraph about revenue\n" +
		"Quarter\tRevenue\n" +
		"Q1\t100\n" +
		"Q2\t120\n" +
		"Closing prose"

	blocks := tableBlocks([]string{page})
	require.Contains(t, blocks, "表：第1页表格1")
	assert.Contains(t, blocks, "Quarter\tRevenue\nQ1\t100\nQ2\t120")
}

func TestPDFTableBlocksSpaceSeparatedAndPaged(t *testing.T) {
	first := "Name  Age\nAlice  30\nBob  25"
	second := "prose only page"
	third := "City  Head count\nShenzhen  1200\nChengdu  800"

	blocks := tableBlocks([]string{first, second, third})
	assert.Contains(t, blocks, "表：第1页表格1\nName\tAge\nAlice\t30\nBob\t25")
	assert.Contains(t, blocks, "表：第3页表格1\nCity\tHead count\nShenzhen\t1200\nChengdu\t800")
	assert.NotContains(t, blocks, "第2页")
}

func TestPDFTableBlocksIgnoresSingleRows(t *testing.T) {
	blocks := tableBlocks([]string{"lone  columnar  line\nplain prose afterwards"})
	assert.Empty(t, blocks)
}

func TestPDFOCRMinCharsOption(t *testing.T) {
	e := NewPDF(WithOCRMinChars(200))
	assert.Equal(t, 200, e.ocrMinChars)

	e = NewPDF(WithOCRMinChars(0))
	assert.Equal(t, DefaultOCRMinChars, e.ocrMinChars)
}
