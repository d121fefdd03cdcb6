package models

import (
	"time"
)

// Chatbot 租户表：每个chatbot拥有独立的文档集与向量索引
type Chatbot struct {
	ID           string    `gorm:"primaryKey;column:id;size:64" json:"id"`
	Name         string    `gorm:"column:name;size:200;not null" json:"name"`
	Description  string    `gorm:"column:description;type:text" json:"description"`
	SystemPrompt string    `gorm:"column:system_prompt;type:text" json:"system_prompt"`
	ShareToken   string    `gorm:"column:share_token;size:64;index" json:"share_token"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at" json:"updated_at"`
}

func (Chatbot) TableName() string {
	return "chatbots"
}

// DocumentRecord 文档摄取记录表
type DocumentRecord struct {
	ID         uint      `gorm:"primaryKey;column:id" json:"id"`
	ChatbotID  string    `gorm:"column:chatbot_id;size:64;not null;index" json:"chatbot_id"`
	Filename   string    `gorm:"column:filename;size:255;not null" json:"filename"`
	ChunkCount int       `gorm:"column:chunk_count;not null" json:"chunk_count"`
	UploadDate time.Time `gorm:"column:upload_date;not null" json:"upload_date"`
}

func (DocumentRecord) TableName() string {
	return "document_records"
}
