//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuneCount(t *testing.T) {
	assert.Equal(t, 0, RuneCount(""))
	assert.Equal(t, 5, RuneCount("hello"))
	assert.Equal(t, 4, RuneCount("你好世界"))
	assert.Equal(t, 7, RuneCount("go语言真好用"))
}

func TestSafeTruncate(t *testing.T) {
	assert.Equal(t, "", SafeTruncate("hello", 0))
	assert.Equal(t, "", SafeTruncate("hello", -1))
	assert.Equal(t, "hel", SafeTruncate("hello", 3))
	assert.Equal(t, "hello", SafeTruncate("hello", 10))
	// Multi-byte runes must not be cut mid-character.
	assert.Equal(t, "你好", SafeTruncate("你好世界", 2))
}

func TestSafeOverlap(t *testing.T) {
	assert.Equal(t, "", SafeOverlap("hello", 0))
	assert.Equal(t, "llo", SafeOverlap("hello", 3))
	assert.Equal(t, "hello", SafeOverlap("hello", 10))
	assert.Equal(t, "世界", SafeOverlap("你好世界", 2))
}

func TestSafeSplitBySize(t *testing.T) {
	assert.Nil(t, SafeSplitBySize("", 3))
	assert.Equal(t, []string{"hello"}, SafeSplitBySize("hello", 0))
	assert.Equal(t, []string{"hello"}, SafeSplitBySize("hello", 5))
	assert.Equal(t, []string{"hel", "lo"}, SafeSplitBySize("hello", 3))
	assert.Equal(t, []string{"你好", "世界"}, SafeSplitBySize("你好世界", 2))

	// Every piece respects the rune budget.
	for _, piece := range SafeSplitBySize("一二三四五六七", 3) {
		assert.LessOrEqual(t, RuneCount(piece), 3)
	}
}
