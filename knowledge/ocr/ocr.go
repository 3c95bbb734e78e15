//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package ocr defines text extraction from images.
package ocr

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Extractor extracts text from image bytes. The ingestion pipeline only
// indexes the recognized text; originals stay in object storage.
type Extractor interface {
	// ExtractText returns the text content of the image. Images without
	// any text yield a retrieval-friendly description instead.
	ExtractText(ctx context.Context, image []byte, format string) (string, error)
}

// Placeholder is returned when an image yields neither text nor a usable
// description, so ingestion does not skip the file as empty.
const Placeholder = "图片内容描述：图片无文字内容，请根据视觉信息检索。"

// Normalize cleans raw vision-model output into a single paragraph:
// newlines become sentence breaks, consecutively repeated sentences (the
// usual failure mode on sparse images, including looped "no text"
// disclaimers) collapse to one occurrence, and the result always ends
// with a sentence terminator.
func Normalize(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	kept := sentences[:1]
	for _, s := range sentences[1:] {
		if sentenceBody(s) == sentenceBody(kept[len(kept)-1]) {
			continue
		}
		kept = append(kept, s)
	}

	var b strings.Builder
	for i, s := range kept {
		if i > 0 && asciiAdjacent(kept[i-1], s) {
			b.WriteByte(' ')
		}
		b.WriteString(s)
	}
	out := b.String()

	if last, _ := utf8.DecodeLastRuneInString(out); !isTerminator(last) {
		if hasHan(out) {
			out += "。"
		} else {
			out += "."
		}
	}
	return out
}

// splitSentences cuts text on terminator runs and newlines, keeping each
// terminator run attached to its sentence.
func splitSentences(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	var sentences []string
	var cur []rune

	flush := func() {
		if s := strings.TrimSpace(string(cur)); s != "" {
			sentences = append(sentences, s)
		}
		cur = cur[:0]
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if r == '\n' {
			flush()
			continue
		}
		cur = append(cur, r)
		if isTerminator(r) {
			for i+1 < len(runes) && isTerminator(runes[i+1]) {
				i++
				cur = append(cur, runes[i])
			}
			flush()
		}
	}
	flush()
	return sentences
}

func sentenceBody(s string) string {
	return strings.TrimRight(s, "。！？.!?")
}

func isTerminator(r rune) bool {
	switch r {
	case '。', '！', '？', '.', '!', '?':
		return true
	}
	return false
}

func hasHan(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Han, r) {
			return true
		}
	}
	return false
}

// asciiAdjacent reports whether joining the two sentences directly would
// glue ASCII words together, in which case a space is inserted.
func asciiAdjacent(prev, next string) bool {
	last, _ := utf8.DecodeLastRuneInString(prev)
	first, _ := utf8.DecodeRuneInString(next)
	return last < utf8.RuneSelf && first < utf8.RuneSelf
}
