//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package vision implements OCR with a vision-capable chat model.
package vision

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"trpc.group/trpc-go/trpc-rag-go/knowledge/ocr"
	"trpc.group/trpc-go/trpc-rag-go/model"
)

var _ ocr.Extractor = (*Extractor)(nil)

const (
	extractPrompt = "提取图片中的所有文字。如果没有文字，请描述图片的内容（场景、主体、颜色、风格等），用于检索。"

	describePrompt = "请用一段话描述这张图片的内容（场景、主体、颜色、风格等），用于检索。" +
		"直接以「图片内容描述：」开头输出，不要其他解释。"
)

// Extractor runs OCR through a vision chat model.
type Extractor struct {
	model model.Model
}

// New creates a vision OCR extractor backed by the given model.
func New(m model.Model) *Extractor {
	return &Extractor{model: m}
}

// ExtractText implements the ocr.Extractor interface. The first round asks
// for the literal text; when the model returns nothing usable, a second
// round asks for a plain description so text-free images still index.
// Usable output goes through ocr.Normalize before it becomes chunk content.
func (e *Extractor) ExtractText(ctx context.Context, image []byte, format string) (string, error) {
	if len(image) == 0 {
		return "", nil
	}

	text, err := e.describe(ctx, image, format, extractPrompt)
	if err != nil {
		return "", err
	}
	if !degenerate(text) {
		return ocr.Normalize(text), nil
	}

	text, err = e.describe(ctx, image, format, describePrompt)
	if err != nil {
		return "", err
	}
	if !degenerate(text) {
		return ocr.Normalize(text), nil
	}
	return ocr.Placeholder, nil
}

func (e *Extractor) describe(ctx context.Context, image []byte, format, prompt string) (string, error) {
	msg := model.Message{
		Role: model.RoleUser,
		ContentParts: []model.ContentPart{
			model.NewImageContentPart(&model.Image{Data: image, Format: normalizeFormat(format)}),
			model.NewTextContentPart(prompt),
		},
	}

	ch, err := e.model.GenerateContent(ctx, &model.Request{Messages: []model.Message{msg}})
	if err != nil {
		return "", fmt.Errorf("vision ocr request: %w", err)
	}

	var final *model.Response
	for rsp := range ch {
		if rsp.Error != nil {
			return "", fmt.Errorf("vision ocr: %s", rsp.Error.Message)
		}
		if !rsp.IsPartial {
			final = rsp
		}
	}
	if final == nil {
		return "", fmt.Errorf("vision ocr: no response")
	}
	return strings.TrimSpace(final.Content()), nil
}

func normalizeFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png":
		return "png"
	default:
		return "jpeg"
	}
}

// degenerate reports whether the model output is unusable: empty, a bare
// "0", or a couple of digits, which vision OCR models emit for blank images.
func degenerate(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	runes := []rune(text)
	if len(runes) <= 2 {
		for _, r := range runes {
			if !unicode.IsDigit(r) {
				return false
			}
		}
		return true
	}
	return false
}
