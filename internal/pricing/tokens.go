package pricing

import (
	"github.com/pkoukk/tiktoken-go"
)

// 每条消息的角色与格式化开销约为4个token
const messageTokenOverhead = 4

// TokenCounter token计数器。优先使用tiktoken分词器；
// 目标模型不受支持时退化为按字符估算（约4字符≈1个token）。
// 估算值是近似值，不能当作精确计数使用。
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter 创建token计数器。model没有对应的tiktoken编码时
// 计数器进入估算模式。
func NewTokenCounter(model string) *TokenCounter {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return &TokenCounter{}
	}
	return &TokenCounter{encoding: encoding}
}

// CountTokens 计算文本的token数量
func (tc *TokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if tc.encoding != nil {
		return len(tc.encoding.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// CountMessageTokens 计算一条消息的token数量（角色 + 内容 + 格式化开销）
func (tc *TokenCounter) CountMessageTokens(role, content string) int {
	return tc.CountTokens(role) + tc.CountTokens(content) + messageTokenOverhead
}

// Exact 返回计数器是否使用真实分词器
func (tc *TokenCounter) Exact() bool {
	return tc.encoding != nil
}

// estimateTokens 按字符数估算：平均1个token约等于4个字符
func estimateTokens(text string) int {
	return len([]rune(text)) / 4
}
