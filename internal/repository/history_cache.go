package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aihub/rag-engine/internal/rag"
)

// RedisHistoryCache 会话历史的Redis缓存。按租户+会话键存一个列表，
// 新消息LPUSH到头部，带TTL自动过期。缓存不可用时调用方降级为无历史。
type RedisHistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisHistoryCache 创建会话历史缓存
func NewRedisHistoryCache(client *redis.Client, ttlSeconds int) *RedisHistoryCache {
	return &RedisHistoryCache{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

func historyKey(tenantID, sessionID string) string {
	return fmt.Sprintf("rag:history:%s:%s", tenantID, sessionID)
}

// Append 追加消息到会话历史
func (c *RedisHistoryCache) Append(ctx context.Context, tenantID, sessionID string, messages ...rag.Message) error {
	if len(messages) == 0 {
		return nil
	}

	key := historyKey(tenantID, sessionID)
	values := make([]interface{}, 0, len(messages))
	for _, msg := range messages {
		encoded, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode history message: %w", err)
		}
		values = append(values, encoded)
	}

	pipe := c.client.Pipeline()
	pipe.LPush(ctx, key, values...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Recent 返回会话最近的limit条消息，按时间升序
func (c *RedisHistoryCache) Recent(ctx context.Context, tenantID, sessionID string, limit int) ([]rag.Message, error) {
	key := historyKey(tenantID, sessionID)
	raw, err := c.client.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	// LPUSH使列表头部是最新消息，倒序遍历恢复时间顺序
	messages := make([]rag.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg rag.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Clear 清空会话历史
func (c *RedisHistoryCache) Clear(ctx context.Context, tenantID, sessionID string) error {
	return c.client.Del(ctx, historyKey(tenantID, sessionID)).Err()
}
