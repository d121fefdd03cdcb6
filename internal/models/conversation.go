package models

import (
	"time"
)

// ConversationMessage 会话消息表。会话按租户+会话ID归属，只追加。
type ConversationMessage struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	ChatbotID  string    `gorm:"column:chatbot_id;size:64;not null;index" json:"chatbot_id"`
	Role       string    `gorm:"column:role;size:20;not null" json:"role"`
	Content    string    `gorm:"column:content;type:text;not null" json:"content"`
	Sources    string    `gorm:"column:sources;type:text" json:"sources,omitempty"`
	TokenCount int       `gorm:"column:token_count" json:"token_count,omitempty"`
	CreatedAt  time.Time `gorm:"column:created_at;not null;index" json:"created_at"`
}

func (ConversationMessage) TableName() string {
	return "conversation_messages"
}
