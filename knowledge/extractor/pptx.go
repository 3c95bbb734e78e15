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
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/log"
)

var _ Extractor = (*Pptx)(nil)

// Pptx extracts slide text from PowerPoint files, in slide order. Shape
// paragraphs and table cells both contribute lines.
type Pptx struct{}

// NewPptx creates a presentation extractor.
func NewPptx() *Pptx {
	return &Pptx{}
}

// Extensions implements the Extractor interface.
func (p *Pptx) Extensions() []string {
	return []string{"pptx"}
}

type pptxSlide struct {
	CSld struct {
		SpTree struct {
			SPs           []pptxShape        `xml:"sp"`
			GraphicFrames []pptxGraphicFrame `xml:"graphicFrame"`
		} `xml:"spTree"`
	} `xml:"cSld"`
}

type pptxShape struct {
	TxBody *pptxTxBody `xml:"txBody"`
}

type pptxTxBody struct {
	Paras []pptxPara `xml:"p"`
}

type pptxPara struct {
	Runs []pptxRun `xml:"r"`
}

type pptxRun struct {
	Text string `xml:"t"`
}

type pptxGraphicFrame struct {
	Graphic struct {
		GraphicData struct {
			Table *pptxTable `xml:"tbl"`
		} `xml:"graphicData"`
	} `xml:"graphic"`
}

type pptxTable struct {
	Rows []pptxTableRow `xml:"tr"`
}

type pptxTableRow struct {
	Cells []pptxTableCell `xml:"tc"`
}

type pptxTableCell struct {
	TxBody *pptxTxBody `xml:"txBody"`
}

// Extract implements the Extractor interface.
func (p *Pptx) Extract(_ context.Context, content []byte) (string, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		log.Warnf("pptx extraction failed: %v", err)
		return "", nil
	}

	slides := make(map[int][]byte)
	var nums []int
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, "ppt/slides/slide") || !strings.HasSuffix(f.Name, ".xml") {
			continue
		}
		num := slideNumber(f.Name)
		if num <= 0 {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			continue
		}
		slides[num] = data
		nums = append(nums, num)
	}
	sort.Ints(nums)

	var parts []string
	for _, num := range nums {
		if t := slideText(slides[num]); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func slideText(data []byte) string {
	var slide pptxSlide
	if err := xml.Unmarshal(data, &slide); err != nil {
		log.Warnf("pptx slide parse failed: %v", err)
		return ""
	}

	var parts []string
	appendBody := func(body *pptxTxBody) {
		if body == nil {
			return
		}
		for _, para := range body.Paras {
			var line strings.Builder
			for _, run := range para.Runs {
				line.WriteString(run.Text)
			}
			if t := strings.TrimSpace(line.String()); t != "" {
				parts = append(parts, t)
			}
		}
	}
	for _, sp := range slide.CSld.SpTree.SPs {
		appendBody(sp.TxBody)
	}
	for _, frame := range slide.CSld.SpTree.GraphicFrames {
		if frame.Graphic.GraphicData.Table == nil {
			continue
		}
		for _, row := range frame.Graphic.GraphicData.Table.Rows {
			for _, cell := range row.Cells {
				appendBody(cell.TxBody)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func slideNumber(name string) int {
	name = strings.TrimPrefix(name, "ppt/slides/slide")
	name = strings.TrimSuffix(name, ".xml")
	var num int
	fmt.Sscanf(name, "%d", &num)
	return num
}
