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
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*Docx)(nil)

// Docx extracts Word documents by reading word/document.xml from the OOXML
// package: paragraph text first, then table cell text, one line each.
type Docx struct{}

// NewDocx creates a Word document extractor.
func NewDocx() *Docx {
	return &Docx{}
}

// Extensions implements the Extractor interface.
func (d *Docx) Extensions() []string {
	return []string{"docx"}
}

type docxDocument struct {
	XMLName xml.Name  `xml:"document"`
	Body    docxBody  `xml:"body"`
}

type docxBody struct {
	Paras  []docxPara  `xml:"p"`
	Tables []docxTable `xml:"tbl"`
}

type docxPara struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

// Extract implements the Extractor interface.
func (d *Docx) Extract(_ context.Context, content []byte) (string, error) {
	data, err := readZipEntry(content, "word/document.xml")
	if err != nil {
		log.Warnf("docx extraction failed: %v", err)
		return "", nil
	}

	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		log.Warnf("docx document.xml parse failed: %v", err)
		return "", nil
	}

	var parts []string
	for _, para := range doc.Body.Paras {
		if t := paraText(para); t != "" {
			parts = append(parts, t)
		}
	}
	for _, table := range doc.Body.Tables {
		for _, row := range table.Rows {
			for _, cell := range row.Cells {
				for _, para := range cell.Paras {
					if t := paraText(para); t != "" {
						parts = append(parts, t)
					}
				}
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

func paraText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

// readZipEntry returns the named entry's bytes from a zip archive held in
// memory.
func readZipEntry(content []byte, name string) ([]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%s not found in archive", name)
}
