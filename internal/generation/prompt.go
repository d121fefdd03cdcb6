package generation

import (
	"fmt"
	"strings"
)

// Role 消息角色
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 提示词中的历史消息
type Message struct {
	Role    Role
	Content string
}

// 历史截断策略：无论对话多长，提示词中最多保留最近4条消息
// （2轮问答），每条内容截断到500字符并附省略号，以约束提示词体积。
const (
	maxHistoryMessages    = 4
	maxHistoryContentLen  = 500
	historyEllipsisMarker = "..."
)

// Prompt 一次生成调用的完整输入。
// 渲染顺序固定：系统提示词 → 文档上下文 → 近期历史 → 当前问题。
type Prompt struct {
	SystemPrompt string
	Context      string
	History      []Message
	Question     string
}

// TruncateHistory 应用历史截断策略
func TruncateHistory(history []Message) []Message {
	if len(history) > maxHistoryMessages {
		history = history[len(history)-maxHistoryMessages:]
	}

	truncated := make([]Message, len(history))
	for i, msg := range history {
		content := msg.Content
		runes := []rune(content)
		if len(runes) > maxHistoryContentLen {
			content = string(runes[:maxHistoryContentLen]) + historyEllipsisMarker
		}
		truncated[i] = Message{Role: msg.Role, Content: content}
	}
	return truncated
}

// Render 渲染完整提示词文本
func (p Prompt) Render() string {
	var builder strings.Builder
	builder.WriteString(p.SystemPrompt)
	builder.WriteString("\n\n")
	builder.WriteString(p.renderBody())
	return builder.String()
}

// renderBody 渲染系统提示词之外的部分（上下文、历史、问题）
func (p Prompt) renderBody() string {
	var builder strings.Builder

	builder.WriteString("Context:\n")
	builder.WriteString(p.Context)
	builder.WriteString("\n\n")

	if len(p.History) > 0 {
		builder.WriteString("Recent conversation:\n")
		for _, msg := range TruncateHistory(p.History) {
			label := "User"
			if msg.Role == RoleAssistant {
				label = "Assistant"
			}
			builder.WriteString(fmt.Sprintf("%s: %s\n", label, msg.Content))
		}
		builder.WriteString("\n")
	}

	builder.WriteString("Question: ")
	builder.WriteString(p.Question)
	builder.WriteString("\n\nAnswer:")
	return builder.String()
}
