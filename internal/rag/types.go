package rag

import (
	"fmt"
	"time"

	"github.com/aihub/rag-engine/internal/generation"
)

// Source 回答引用的来源：按检索排名与上下文中的"Document i"标签一一对应。
// Content是展示用的预览（前200字符），不会被重新喂给模型。
type Source struct {
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata"`
	Score    float64                `json:"score"`
	Index    int                    `json:"index"`
}

// Message 会话消息。只有两种合法变体：
// 用户消息（仅文本）和助手消息（文本 + 来源）。
type Message struct {
	Role      generation.Role `json:"role"`
	Content   string          `json:"content"`
	Timestamp time.Time       `json:"timestamp"`
	Sources   []Source        `json:"sources,omitempty"`
}

// NewUserMessage 创建用户消息
func NewUserMessage(content string) Message {
	return Message{
		Role:      generation.RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// NewAssistantMessage 创建助手消息
func NewAssistantMessage(content string, sources []Source) Message {
	return Message{
		Role:      generation.RoleAssistant,
		Content:   content,
		Timestamp: time.Now(),
		Sources:   sources,
	}
}

// ParseMessage 在边界处把外部输入转换为合法消息，角色非法时报错。
// 内部代码只处理转换后的封闭类型。
func ParseMessage(role, content string) (Message, error) {
	switch generation.Role(role) {
	case generation.RoleUser:
		return NewUserMessage(content), nil
	case generation.RoleAssistant:
		return NewAssistantMessage(content, nil), nil
	default:
		return Message{}, fmt.Errorf("invalid message role: %q", role)
	}
}

// TenantInfo 租户（chatbot）元数据，由协作方的元数据存储提供
type TenantInfo struct {
	ID           string
	Name         string
	SystemPrompt string
}
