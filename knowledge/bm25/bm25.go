//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package bm25 scores candidate chunks against a query with the BM25
// ranking function. It gives exact matches on proper nouns, identifiers
// and code fragments a signal that dense retrieval lacks; results are
// fused with vector hits via RRF.
package bm25

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 constants.
const (
	K1 = 1.5
	B  = 0.75
)

// Chinese function words carrying no retrieval signal.
var stopwords = map[string]struct{}{
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {}, "与": {}, "或": {},
	"及": {}, "等": {}, "之": {}, "为": {}, "有": {}, "被": {}, "把": {},
	"对": {}, "从": {}, "到": {},
}

// Scored pairs a document index with its BM25 score.
type Scored struct {
	Index int
	Score float64
}

// Score computes BM25 scores for every document against the query. The
// returned slice is aligned with docs. Document length is measured in
// characters so Chinese text is weighted the same as tokenised text.
func Score(query string, docs []string) []float64 {
	scores := make([]float64, len(docs))
	if len(docs) == 0 {
		return scores
	}
	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return scores
	}

	docLens := make([]float64, len(docs))
	var totalLen float64
	for i, d := range docs {
		docLens[i] = float64(len([]rune(d)))
		totalLen += docLens[i]
	}
	avgdl := totalLen / float64(len(docs))
	if avgdl <= 0 {
		return scores
	}

	termFreqs := make([]map[string]int, len(docs))
	for i, d := range docs {
		tf := make(map[string]int)
		for _, t := range Tokenize(d) {
			tf[t]++
		}
		termFreqs[i] = tf
	}

	n := float64(len(docs))
	idf := make(map[string]float64, len(queryTerms))
	for _, t := range queryTerms {
		if _, ok := idf[t]; ok {
			continue
		}
		var df float64
		for _, tf := range termFreqs {
			if _, ok := tf[t]; ok {
				df++
			}
		}
		idf[t] = math.Log((n-df+0.5)/(df+0.5) + 1.0)
	}

	for i := range docs {
		dl := docLens[i]
		var s float64
		for _, t := range queryTerms {
			f := float64(termFreqs[i][t])
			if f == 0 {
				continue
			}
			s += idf[t] * (f * (K1 + 1)) / (f + K1*(1-B+B*dl/avgdl))
		}
		scores[i] = s
	}
	return scores
}

// Rank scores and orders documents by descending score. Ties keep the
// original document order.
func Rank(query string, docs []string) []Scored {
	scores := Score(query, docs)
	ranked := make([]Scored, len(scores))
	for i, s := range scores {
		ranked[i] = Scored{Index: i, Score: s}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].Score > ranked[b].Score
	})
	return ranked
}

// Tokenize splits text into CJK runs and ASCII word runs. Tokens shorter
// than two characters, stopwords and overlong pure-digit runs are dropped;
// alphabetic tokens are lowercased so identifiers match case-insensitively.
func Tokenize(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var tokens []string
	var run []rune
	runCJK := false
	flush := func() {
		if len(run) == 0 {
			return
		}
		if t := normalizeToken(string(run)); t != "" {
			tokens = append(tokens, t)
		}
		run = run[:0]
	}
	for _, r := range text {
		switch {
		case isCJK(r):
			if !runCJK {
				flush()
				runCJK = true
			}
			run = append(run, r)
		case isWordChar(r):
			if runCJK {
				flush()
				runCJK = false
			}
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func normalizeToken(t string) string {
	runes := []rune(t)
	if len(runes) < 2 {
		return ""
	}
	if _, ok := stopwords[t]; ok {
		return ""
	}
	if isAllDigits(runes) && len(runes) > 20 {
		return ""
	}
	if isAllAlpha(runes) {
		return strings.ToLower(t)
	}
	return t
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

func isWordChar(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func isAllDigits(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func isAllAlpha(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsLetter(r) || isCJK(r) {
			return false
		}
	}
	return true
}
