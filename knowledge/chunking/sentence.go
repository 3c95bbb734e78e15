//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package chunking

import (
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/encoding"
	"trpc.group/trpc-go/trpc-rag-go/knowledge/document"
)

// SentenceChunking splits text on sentence boundaries and greedily merges
// sentences into chunks. Sentences are never cut, except when a single
// sentence exceeds the expansion ceiling and is re-split on secondary
// punctuation.
type SentenceChunking struct {
	chunkSize      int
	overlap        int
	maxExpandRatio float64
}

// SentenceOption represents a functional option for configuring SentenceChunking.
type SentenceOption func(*SentenceChunking)

// WithChunkSize sets the target size of each chunk in runes.
func WithChunkSize(size int) SentenceOption {
	return func(sc *SentenceChunking) {
		sc.chunkSize = size
	}
}

// WithOverlap sets the number of runes carried over between adjacent chunks.
func WithOverlap(overlap int) SentenceOption {
	return func(sc *SentenceChunking) {
		sc.overlap = overlap
	}
}

// WithMaxExpandRatio sets how far past the target size a chunk may grow to
// keep a sentence whole.
func WithMaxExpandRatio(ratio float64) SentenceOption {
	return func(sc *SentenceChunking) {
		sc.maxExpandRatio = ratio
	}
}

// NewSentenceChunking creates a new sentence chunking strategy with options.
func NewSentenceChunking(opts ...SentenceOption) *SentenceChunking {
	sc := &SentenceChunking{
		chunkSize:      defaultChunkSize,
		overlap:        defaultOverlap,
		maxExpandRatio: defaultMaxExpandRatio,
	}
	// Apply options.
	for _, opt := range opts {
		opt(sc)
	}
	// Validate parameters.
	if sc.chunkSize <= 0 {
		sc.chunkSize = defaultChunkSize
	}
	if sc.maxExpandRatio < 1 {
		sc.maxExpandRatio = defaultMaxExpandRatio
	}
	if sc.overlap < 0 {
		sc.overlap = 0
	}
	if sc.overlap >= sc.chunkSize {
		sc.overlap = min(defaultOverlap, sc.chunkSize-1)
	}
	return sc
}

var _ Strategy = (*SentenceChunking)(nil)

// Chunk splits the document into sentence-aligned chunks with dense indices.
func (s *SentenceChunking) Chunk(doc *document.Document) ([]*document.Document, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	if doc.IsEmpty() {
		return nil, ErrEmptyDocument
	}

	pieces := s.ChunkText(cleanText(doc.Content))
	chunks := make([]*document.Document, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, newChunkDocument(doc, piece, i))
	}
	return chunks, nil
}

// ChunkText splits raw text into chunk strings without document bookkeeping.
func (s *SentenceChunking) ChunkText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		// No sentence terminators at all: try blank-line paragraphs,
		// then fall back to a fixed-size sliding window.
		paragraphs := strings.Split(text, "\n\n")
		if len(paragraphs) == 1 {
			return s.slidingWindow(text)
		}
		for _, p := range paragraphs {
			if p = strings.TrimSpace(p); p != "" {
				sentences = append(sentences, p)
			}
		}
		if len(sentences) == 0 {
			return nil
		}
	}
	return s.mergeSentences(sentences)
}

// mergeSentences greedily accumulates sentences into chunks. A chunk may
// grow past the target size up to chunkSize*maxExpandRatio to keep the
// current sentence whole; beyond that the chunk closes and the next one is
// seeded with trailing sentences totalling up to overlap runes.
func (s *SentenceChunking) mergeSentences(sentences []string) []string {
	maxSize := int(float64(s.chunkSize) * s.maxExpandRatio)

	var chunks []string
	var current []string
	currentLen := 0

	for _, sentence := range sentences {
		sentenceLen := encoding.RuneCount(sentence)

		// A sentence past the ceiling is re-split on secondary punctuation.
		if sentenceLen > maxSize {
			if len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current = nil
				currentLen = 0
			}
			for _, sub := range splitSubSentences(sentence) {
				subLen := encoding.RuneCount(sub)
				if currentLen+subLen <= maxSize {
					current = append(current, sub)
					currentLen += subLen + 1
					continue
				}
				if len(current) > 0 {
					chunks = append(chunks, strings.Join(current, " "))
				}
				if subLen > maxSize {
					// No secondary boundary either: cut fixed windows.
					chunks = append(chunks, s.slidingWindow(sub)...)
					current = nil
					currentLen = 0
				} else {
					current = []string{sub}
					currentLen = subLen
				}
			}
			continue
		}

		separator := 0
		if len(current) > 0 {
			separator = 1
		}
		newLen := currentLen + sentenceLen + separator

		if newLen <= maxSize {
			// Within the target size or the expansion band.
			current = append(current, sentence)
			currentLen = newLen
			continue
		}

		// Close the current chunk and seed the next with the overlap tail.
		tail, tailLen := s.overlapTail(current)
		chunks = append(chunks, strings.Join(current, " "))
		current = append(tail, sentence)
		currentLen = tailLen + sentenceLen + len(tail)
	}

	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// overlapTail returns the longest suffix of whole sentences whose total
// length stays within the configured overlap.
func (s *SentenceChunking) overlapTail(current []string) ([]string, int) {
	if s.overlap <= 0 || len(current) < 2 {
		return nil, 0
	}
	var tail []string
	length := 0
	for i := len(current) - 1; i >= 0; i-- {
		l := encoding.RuneCount(current[i])
		if length+l > s.overlap {
			break
		}
		tail = append([]string{current[i]}, tail...)
		length += l + 1
	}
	return tail, length
}

// slidingWindow cuts text into fixed-size pieces with overlap. Last resort
// for text without any sentence or paragraph structure.
func (s *SentenceChunking) slidingWindow(text string) []string {
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + s.chunkSize
		sliceEnd := end
		if sliceEnd > len(runes) {
			sliceEnd = len(runes)
		}
		chunks = append(chunks, string(runes[start:sliceEnd]))
		start = end - s.overlap
	}
	return chunks
}

// Sentence terminators. Newlines end sentences in both scripts.
func isCJKTerminator(r rune) bool {
	return r == '。' || r == '！' || r == '？' || r == '\n'
}

func isASCIITerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// splitSentences splits text on terminator runs, keeping each run attached
// to its sentence. A run is homogeneous: it extends only through
// terminators of the class (CJK or ASCII) that opened it.
func splitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	var cur strings.Builder

	i := 0
	for i < len(runes) {
		r := runes[i]
		if !isCJKTerminator(r) && !isASCIITerminator(r) {
			cur.WriteRune(r)
			i++
			continue
		}
		j := i
		if isCJKTerminator(r) {
			for j < len(runes) && isCJKTerminator(runes[j]) {
				j++
			}
		} else {
			for j < len(runes) && isASCIITerminator(runes[j]) {
				j++
			}
		}
		if body := strings.TrimSpace(cur.String()); body != "" {
			sentences = append(sentences, body+strings.TrimSpace(string(runes[i:j])))
		}
		cur.Reset()
		i = j
	}
	if body := strings.TrimSpace(cur.String()); body != "" {
		sentences = append(sentences, body)
	}
	return sentences
}

// splitSubSentences splits an oversize sentence on commas and semicolons.
func splitSubSentences(sentence string) []string {
	parts := strings.FieldsFunc(sentence, func(r rune) bool {
		return r == '，' || r == '；' || r == ',' || r == ';'
	})
	subs := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			subs = append(subs, p)
		}
	}
	return subs
}
