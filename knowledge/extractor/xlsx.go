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

	"github.com/xuri/excelize/v2"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*Xlsx)(nil)

// Xlsx extracts spreadsheet content. Each sheet becomes a block headed by
// "表：<sheet>" with tab-joined rows, which keeps table questions answerable
// after chunking.
type Xlsx struct{}

// NewXlsx creates a spreadsheet extractor.
func NewXlsx() *Xlsx {
	return &Xlsx{}
}

// Extensions implements the Extractor interface.
func (x *Xlsx) Extensions() []string {
	return []string{"xlsx"}
}

// Extract implements the Extractor interface.
func (x *Xlsx) Extract(_ context.Context, content []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		log.Warnf("xlsx extraction failed: %v", err)
		return "", nil
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			log.Warnf("xlsx sheet %q rows failed: %v", name, err)
			continue
		}
		parts := []string{"表：" + name}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				parts = append(parts, line)
			}
		}
		if len(parts) > 1 {
			sheets = append(sheets, strings.Join(parts, "\n"))
		}
	}
	return strings.TrimSpace(strings.Join(sheets, "\n\n")), nil
}
