package knowledge

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/aihub/rag-engine/internal/errors"
)

// Segment 解析出的原始文本片段，带来源元数据
type Segment struct {
	Text     string
	Metadata map[string]interface{}
}

// FileParser 文件解析器接口
type FileParser interface {
	Parse(reader io.Reader, filename string) ([]Segment, error)
	Supports(filename string) bool
}

// TextParser 文本文件解析器（.txt/.md/.markdown）
type TextParser struct{}

func (p *TextParser) Supports(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".txt" || ext == ".md" || ext == ".markdown"
}

func (p *TextParser) Parse(reader io.Reader, filename string) ([]Segment, error) {
	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return []Segment{{
		Text:     string(content),
		Metadata: map[string]interface{}{"source": filepath.Base(filename)},
	}}, nil
}

// PDFParser PDF文件解析器，逐页产出片段
type PDFParser struct{}

func (p *PDFParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".pdf"
}

func (p *PDFParser) Parse(reader io.Reader, filename string) ([]Segment, error) {
	pdfBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取PDF文件失败: %w", err)
	}

	pdfReader, err := model.NewPdfReader(bytes.NewReader(pdfBytes))
	if err != nil {
		return nil, fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("获取PDF页数失败: %w", err)
	}

	var segments []Segment
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}

		ex, err := extractor.New(page)
		if err != nil {
			continue
		}

		text, err := ex.ExtractText()
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}

		segments = append(segments, Segment{
			Text: text,
			Metadata: map[string]interface{}{
				"source": filepath.Base(filename),
				"page":   i,
			},
		})
	}

	return segments, nil
}

// WordParser Word文档解析器（仅.docx）
type WordParser struct{}

func (p *WordParser) Supports(filename string) bool {
	return strings.ToLower(filepath.Ext(filename)) == ".docx"
}

func (p *WordParser) Parse(reader io.Reader, filename string) ([]Segment, error) {
	docBytes, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("读取Word文件失败: %w", err)
	}

	doc, err := document.Read(bytes.NewReader(docBytes), int64(len(docBytes)))
	if err != nil {
		return nil, fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}

	return []Segment{{
		Text:     textBuilder.String(),
		Metadata: map[string]interface{}{"source": filepath.Base(filename)},
	}}, nil
}

// LoaderDispatcher 按扩展名分发到具体解析器
type LoaderDispatcher struct {
	parsers []FileParser
}

// NewLoaderDispatcher 创建加载分发器
func NewLoaderDispatcher() *LoaderDispatcher {
	return &LoaderDispatcher{
		parsers: []FileParser{
			&PDFParser{},
			&WordParser{},
			&TextParser{},
		},
	}
}

// Supports 检查扩展名是否被支持（不做任何I/O）
func (d *LoaderDispatcher) Supports(filename string) bool {
	for _, parser := range d.parsers {
		if parser.Supports(filename) {
			return true
		}
	}
	return false
}

// SupportedExtensions 返回支持的扩展名列表
func (d *LoaderDispatcher) SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".txt", ".md", ".markdown"}
}

// LoadFile 解析本地文件为文本片段。
// 扩展名检查发生在打开文件之前，不支持的类型不触发任何内容I/O。
func (d *LoaderDispatcher) LoadFile(path string) ([]Segment, error) {
	var parser FileParser
	for _, p := range d.parsers {
		if p.Supports(path) {
			parser = p
			break
		}
	}
	if parser == nil {
		return nil, apperrors.NewUnsupportedFileTypeError(filepath.Ext(path))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer file.Close()

	return parser.Parse(file, path)
}
