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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/simplifiedchinese"
)

func TestNormalizeExtension(t *testing.T) {
	assert.Equal(t, "md", NormalizeExtension("markdown"))
	assert.Equal(t, "md", NormalizeExtension(".MD"))
	assert.Equal(t, "jpg", NormalizeExtension("jpeg"))
	assert.Equal(t, "html", NormalizeExtension("htm"))
	assert.Equal(t, "pdf", NormalizeExtension("PDF"))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewText())

	e, ok := reg.Get("txt")
	require.True(t, ok)
	assert.NotNil(t, e)

	_, ok = reg.Get("exe")
	assert.False(t, ok)

	_, err := reg.Extract(context.Background(), "exe", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTextExtract(t *testing.T) {
	e := NewText()

	text, err := e.Extract(context.Background(), []byte("  plain text\n"))
	require.NoError(t, err)
	assert.Equal(t, "plain text", text)
}

func TestTextExtractBOM(t *testing.T) {
	e := NewText()
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("带BOM的内容")...)
	text, err := e.Extract(context.Background(), content)
	require.NoError(t, err)
	assert.Equal(t, "带BOM的内容", text)
}

func TestTextExtractGB18030(t *testing.T) {
	raw, err := simplifiedchinese.GB18030.NewEncoder().Bytes([]byte("简体中文文档"))
	require.NoError(t, err)

	e := NewText()
	text, err := e.Extract(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, "简体中文文档", text)
}

func TestMarkdownExtract(t *testing.T) {
	e := NewMarkdown()
	src := "# 标题\n\n正文**加粗**内容。\n\n- 条目一\n- 条目二\n\n```go\nfmt.Println(\"code\")\n```\n"
	text, err := e.Extract(context.Background(), []byte(src))
	require.NoError(t, err)
	assert.Contains(t, text, "标题")
	assert.Contains(t, text, "正文")
	assert.Contains(t, text, "加粗")
	assert.Contains(t, text, "条目一")
	assert.Contains(t, text, `fmt.Println("code")`)
	assert.NotContains(t, text, "#")
	assert.NotContains(t, text, "**")
}

func TestHTMLExtract(t *testing.T) {
	e := NewHTML()
	src := `<html><head><style>body{color:red}</style><script>alert(1)</script></head>
<body><h1>公告</h1><p>内容段落</p></body></html>`
	text, err := e.Extract(context.Background(), []byte(src))
	require.NoError(t, err)
	assert.Contains(t, text, "公告")
	assert.Contains(t, text, "内容段落")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestXlsxExtract(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetCellValue("Sheet1", "A1", "名称"))
	require.NoError(t, f.SetCellValue("Sheet1", "B1", "数量"))
	require.NoError(t, f.SetCellValue("Sheet1", "A2", "服务器"))
	require.NoError(t, f.SetCellValue("Sheet1", "B2", 3))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	e := NewXlsx()
	text, err := e.Extract(context.Background(), buf.Bytes())
	require.NoError(t, err)
	assert.Contains(t, text, "表：Sheet1")
	assert.Contains(t, text, "名称\t数量")
	assert.Contains(t, text, "服务器\t3")
}

func TestXlsxExtractBadContent(t *testing.T) {
	e := NewXlsx()
	text, err := e.Extract(context.Background(), []byte("not a spreadsheet"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

const docxBodyXML = `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>第一段</w:t></w:r><w:r><w:t>续写</w:t></w:r></w:p>
    <w:p><w:r><w:t>第二段</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>单元格A</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>单元格B</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

func buildArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDocxExtract(t *testing.T) {
	content := buildArchive(t, map[string]string{"word/document.xml": docxBodyXML})

	e := NewDocx()
	text, err := e.Extract(context.Background(), content)
	require.NoError(t, err)
	assert.Contains(t, text, "第一段续写")
	assert.Contains(t, text, "第二段")
	assert.Contains(t, text, "单元格A")
	assert.Contains(t, text, "单元格B")
}

func TestDocxExtractBadContent(t *testing.T) {
	e := NewDocx()
	text, err := e.Extract(context.Background(), []byte("junk"))
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestPptxExtract(t *testing.T) {
	content := buildArchive(t, map[string]string{
		"ppt/slides/slide2.xml": `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld><p:spTree>
    <p:sp><p:txBody><a:p><a:r><a:t>第二页</a:t></a:r></a:p></p:txBody></p:sp>
  </p:spTree></p:cSld>
</p:sld>`,
		"ppt/slides/slide1.xml": `<?xml version="1.0"?>
<p:sld xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"
       xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main">
  <p:cSld><p:spTree>
    <p:sp><p:txBody><a:p><a:r><a:t>第一页</a:t></a:r></a:p></p:txBody></p:sp>
    <p:graphicFrame><a:graphic><a:graphicData><a:tbl>
      <a:tr><a:tc><a:txBody><a:p><a:r><a:t>表格内容</a:t></a:r></a:p></a:txBody></a:tc></a:tr>
    </a:tbl></a:graphicData></a:graphic></p:graphicFrame>
  </p:spTree></p:cSld>
</p:sld>`,
	})

	e := NewPptx()
	text, err := e.Extract(context.Background(), content)
	require.NoError(t, err)

	first := bytes.Index([]byte(text), []byte("第一页"))
	second := bytes.Index([]byte(text), []byte("第二页"))
	require.GreaterOrEqual(t, first, 0)
	require.GreaterOrEqual(t, second, 0)
	assert.Less(t, first, second)
	assert.Contains(t, text, "表格内容")
}

func TestZipExtract(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewText())
	reg.Register(NewMarkdown())

	content := buildArchive(t, map[string]string{
		"notes.txt":           "纯文本内容",
		"doc/readme.md":       "# 说明\n正文",
		"__MACOSX/junk.txt":   "metadata",
		"dir/.hidden.txt":     "hidden",
		"binary.exe":          "ignored",
	})

	z := NewZip(reg)
	text, err := z.Extract(context.Background(), content)
	require.NoError(t, err)
	assert.Contains(t, text, "[文件: notes.txt]\n纯文本内容")
	assert.Contains(t, text, "[文件: doc/readme.md]")
	assert.Contains(t, text, "正文")
	assert.NotContains(t, text, "metadata")
	assert.NotContains(t, text, "hidden")
	assert.NotContains(t, text, "ignored")
}

func TestNewDefaultRegistry(t *testing.T) {
	reg := NewDefaultRegistry(nil)
	for _, ext := range []string{"txt", "md", "html", "xlsx", "docx", "pptx", "pdf", "zip"} {
		_, ok := reg.Get(ext)
		assert.True(t, ok, "extension %s", ext)
	}
	// Without OCR, images are not extractable.
	_, ok := reg.Get("png")
	assert.False(t, ok)
}
