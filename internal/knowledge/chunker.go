package knowledge

import (
	apperrors "github.com/aihub/rag-engine/internal/errors"
)

// Chunk 检索单元：一段有界文本及其来源元数据。
// 创建后不可变，向量化后归属存储它的索引。
type Chunk struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Chunker 文本分块器。按分隔符优先级（段落、换行、空格）寻找切分点，
// 相邻块之间保留chunkOverlap个字符的重叠。
type Chunker struct {
	chunkSize    int
	chunkOverlap int
}

// 切分点搜索的分隔符优先级
var separators = []string{"\n\n", "\n", " "}

// NewChunker 创建分块器。overlap >= size 的配置会导致切分不收敛，直接拒绝。
func NewChunker(chunkSize, chunkOverlap int) (*Chunker, error) {
	if chunkSize <= 0 {
		return nil, apperrors.NewValidationError("chunk_size must be positive")
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, apperrors.NewValidationError("chunk_overlap must satisfy 0 <= overlap < chunk_size")
	}
	return &Chunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
	}, nil
}

// Split 将片段切分为块。每个块继承其来源片段的元数据，
// override中的键覆盖同名继承键。输入相同则输出相同（确定性）。
func (c *Chunker) Split(segments []Segment, override map[string]interface{}) []Chunk {
	var chunks []Chunk
	for _, seg := range segments {
		for _, text := range c.splitText(seg.Text) {
			metadata := make(map[string]interface{}, len(seg.Metadata)+len(override))
			for k, v := range seg.Metadata {
				metadata[k] = v
			}
			for k, v := range override {
				metadata[k] = v
			}
			chunks = append(chunks, Chunk{Text: text, Metadata: metadata})
		}
	}
	return chunks
}

// splitText 按rune滑动窗口切分文本。除最后一块外长度均不超过chunkSize；
// 后一块以前一块末尾chunkOverlap个字符开头，去掉重叠后拼接可还原原文。
func (c *Chunker) splitText(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var parts []string
	start := 0
	for start < len(runes) {
		if len(runes)-start <= c.chunkSize {
			parts = append(parts, string(runes[start:]))
			break
		}

		cut := c.findCut(runes, start, start+c.chunkSize)
		parts = append(parts, string(runes[start:cut]))

		next := cut - c.chunkOverlap
		if next <= start {
			// 重叠超过本块长度时放弃重叠，保证推进
			next = cut
		}
		start = next
	}
	return parts
}

// findCut 在窗口内从后向前寻找最高优先级分隔符，切分点落在分隔符之后。
// 窗口内没有任何分隔符时在窗口末尾硬切。
func (c *Chunker) findCut(runes []rune, start, end int) int {
	for _, sep := range separators {
		sepRunes := []rune(sep)
		for i := end - len(sepRunes); i > start; i-- {
			if matchAt(runes, i, sepRunes) {
				return i + len(sepRunes)
			}
		}
	}
	return end
}

func matchAt(runes []rune, pos int, sep []rune) bool {
	for j, r := range sep {
		if runes[pos+j] != r {
			return false
		}
	}
	return true
}
