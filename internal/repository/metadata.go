package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/aihub/rag-engine/internal/errors"
	"github.com/aihub/rag-engine/internal/models"
	"github.com/aihub/rag-engine/internal/pricing"
	"github.com/aihub/rag-engine/internal/rag"
)

// GormMetadataStore 基于Postgres的元数据存储，实现rag.MetadataStore
type GormMetadataStore struct {
	db     *gorm.DB
	tokens *pricing.TokenCounter
}

// NewGormMetadataStore 创建元数据存储
func NewGormMetadataStore(db *gorm.DB, tokens *pricing.TokenCounter) *GormMetadataStore {
	return &GormMetadataStore{db: db, tokens: tokens}
}

// GetTenant 按ID查询租户
func (s *GormMetadataStore) GetTenant(ctx context.Context, tenantID string) (*rag.TenantInfo, error) {
	var chatbot models.Chatbot
	if err := s.db.WithContext(ctx).Where("id = ?", tenantID).First(&chatbot).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.NewNotFoundError("chatbot")
		}
		return nil, fmt.Errorf("query chatbot: %w", err)
	}
	return &rag.TenantInfo{
		ID:           chatbot.ID,
		Name:         chatbot.Name,
		SystemPrompt: chatbot.SystemPrompt,
	}, nil
}

// AppendDocumentRecord 追加文档摄取记录
func (s *GormMetadataStore) AppendDocumentRecord(ctx context.Context, tenantID, filename string, chunkCount int, uploadedAt time.Time) error {
	record := models.DocumentRecord{
		ChatbotID:  tenantID,
		Filename:   filename,
		ChunkCount: chunkCount,
		UploadDate: uploadedAt,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append document record: %w", err)
	}
	return nil
}

// AppendConversation 追加一轮会话消息
func (s *GormMetadataStore) AppendConversation(ctx context.Context, tenantID string, messages []rag.Message) error {
	if len(messages) == 0 {
		return nil
	}

	rows := make([]models.ConversationMessage, 0, len(messages))
	for _, msg := range messages {
		row := models.ConversationMessage{
			ChatbotID: tenantID,
			Role:      string(msg.Role),
			Content:   msg.Content,
			CreatedAt: msg.Timestamp,
		}
		if s.tokens != nil {
			row.TokenCount = s.tokens.CountMessageTokens(string(msg.Role), msg.Content)
		}
		if len(msg.Sources) > 0 {
			encoded, err := json.Marshal(msg.Sources)
			if err != nil {
				return fmt.Errorf("encode message sources: %w", err)
			}
			row.Sources = string(encoded)
		}
		rows = append(rows, row)
	}

	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("append conversation: %w", err)
	}
	return nil
}
