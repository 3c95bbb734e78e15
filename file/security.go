//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package file

import (
	"bytes"
	"strings"

	"trpc.group/trpc-go/trpc-rag-go/internal/errs"
)

// MaxFilenameLength bounds uploaded file names.
const MaxFilenameLength = 200

// magicByType maps extensions to file-header magic numbers, so a forged
// extension cannot smuggle a different real type. Types without an entry
// (txt, md) rely on the allow-list only.
var magicByType = map[string][][]byte{
	"pdf":  {[]byte("%PDF")},
	"zip":  {{0x50, 0x4B, 0x03, 0x04}, {0x50, 0x4B, 0x05, 0x06}},
	"png":  {{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	"jpeg": {{0xFF, 0xD8, 0xFF}},
	"jpg":  {{0xFF, 0xD8, 0xFF}},
	"gif":  {[]byte("GIF87a"), []byte("GIF89a")},
	"html": {[]byte("<!DOCTYPE"), []byte("<html"), []byte("<HTML")},
	"docx": {{0x50, 0x4B, 0x03, 0x04}},
	"xlsx": {{0x50, 0x4B, 0x03, 0x04}},
	"pptx": {{0x50, 0x4B, 0x03, 0x04}},
	"ppt":  {{0xD0, 0xCF, 0x11, 0xE0}},
}

// forbiddenExtensions blocks executable and script payloads regardless of
// the allow-list.
var forbiddenExtensions = map[string]struct{}{
	"exe": {}, "dll": {}, "so": {}, "bat": {}, "cmd": {}, "com": {},
	"sh": {}, "ps1": {}, "vbs": {}, "js": {}, "jar": {}, "msi": {},
	"scr": {}, "py": {},
}

// ValidateFilename rejects empty, oversized, path-traversing, and
// executable file names.
func ValidateFilename(filename string) error {
	name := strings.TrimSpace(filename)
	if name == "" {
		return errs.New(errs.KindValidation, "文件名为空")
	}
	if len(name) > MaxFilenameLength {
		return errs.New(errs.KindValidation, "文件名长度不能超过 %d 个字符", MaxFilenameLength)
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, "/\\") ||
		strings.ContainsRune(name, 0) {
		return errs.New(errs.KindValidation, "文件名不得包含路径或非法字符")
	}
	if ext := Extension(name); ext != "" {
		if _, forbidden := forbiddenExtensions[ext]; forbidden {
			return errs.New(errs.KindValidation, "禁止上传该类型文件: .%s", ext)
		}
	}
	return nil
}

// ValidateContent checks the extension against the allow-list and, where a
// magic number is known for the type, verifies the real content matches.
func ValidateContent(content []byte, ext string, allowed map[string]struct{}) error {
	if len(content) == 0 {
		return errs.New(errs.KindValidation, "文件内容为空")
	}
	ext = strings.ToLower(strings.TrimSpace(ext))
	if _, ok := allowed[ext]; !ok {
		return errs.New(errs.KindValidation, "不支持的文件类型: %s", ext)
	}
	magics, ok := magicByType[ext]
	if !ok || len(magics) == 0 {
		return nil
	}
	for _, magic := range magics {
		if bytes.HasPrefix(content, magic) {
			return nil
		}
	}
	return errs.New(errs.KindValidation,
		"文件真实类型与扩展名不符（扩展名为 .%s），已拒绝上传", ext)
}

// Extension returns the lowercase extension without the dot, or "".
func Extension(filename string) string {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return ""
	}
	return strings.ToLower(filename[idx+1:])
}
