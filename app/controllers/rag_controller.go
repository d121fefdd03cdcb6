package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/rag-engine/internal/config"
	"github.com/aihub/rag-engine/internal/logger"
	"github.com/aihub/rag-engine/internal/rag"
	"github.com/aihub/rag-engine/internal/repository"
)

// 从缓存回填历史时最多取的消息条数
const historyFetchLimit = 10

// beego每个请求用反射新建控制器实例，字段值不会从注册时的实例带过来，
// 依赖通过包级状态注入并在Prepare中解析。
var (
	ragEngine    *rag.Engine
	historyCache *repository.RedisHistoryCache
)

// SetDependencies 注入RAG控制器依赖，必须在注册路由之前调用。
// history可以为nil（无Redis时不回填历史）。
func SetDependencies(engine *rag.Engine, history *repository.RedisHistoryCache) {
	ragEngine = engine
	historyCache = history
}

// RAGController 知识库问答控制器：文档摄取、检索问答、流式问答与索引管理
type RAGController struct {
	BaseController
	engine  *rag.Engine
	history *repository.RedisHistoryCache
}

// Prepare 初始化控制器依赖
func (c *RAGController) Prepare() {
	if c.engine == nil {
		c.engine = ragEngine
	}
	if c.history == nil {
		c.history = historyCache
	}
}

// UploadDocument 上传并摄取文档。multipart字段：file（必填）、
// chunk_size / chunk_overlap（可选，两者须同时给出）。
func (c *RAGController) UploadDocument() {
	tenantID := c.GetString(":id")
	if tenantID == "" {
		c.JSONError(http.StatusBadRequest, "missing chatbot id")
		return
	}

	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "missing file field")
		return
	}
	file.Close()

	if !c.engine.Loader().Supports(header.Filename) {
		c.JSONError(http.StatusBadRequest,
			fmt.Sprintf("unsupported file type: %s", filepath.Ext(header.Filename)))
		return
	}

	chunkSize, ok := c.intFormParam("chunk_size")
	if !ok {
		return
	}
	chunkOverlap, ok := c.intFormParam("chunk_overlap")
	if !ok {
		return
	}

	cfg := config.GetAppConfig()
	uploadDir := filepath.Join(cfg.Knowledge.UploadPath, tenantID)
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		c.JSONError(http.StatusInternalServerError, "failed to prepare upload directory")
		return
	}

	dst := filepath.Join(uploadDir, filepath.Base(header.Filename))
	if err := c.SaveToFile("file", dst); err != nil {
		c.JSONError(http.StatusInternalServerError, "failed to save uploaded file")
		return
	}

	result, err := c.engine.Ingest(c.Ctx.Request.Context(), rag.IngestRequest{
		TenantID:     tenantID,
		FilePath:     dst,
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
	})
	if err != nil {
		logger.Error("Document ingestion failed",
			zap.String("tenant_id", tenantID),
			zap.String("file", header.Filename),
			zap.Error(err))
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(result)
}

// QueryRequest 问答请求体
type QueryRequest struct {
	Question     string `json:"question" validate:"required,min=1"`
	K            int    `json:"k" validate:"omitempty,min=1,max=20"`
	SystemPrompt string `json:"system_prompt"`
}

// Query 阻塞式问答
func (c *RAGController) Query() {
	tenantID := c.GetString(":id")
	if tenantID == "" {
		c.JSONError(http.StatusBadRequest, "missing chatbot id")
		return
	}

	var req QueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if !c.mustValidate(&req) {
		return
	}

	result, err := c.engine.Query(c.Ctx.Request.Context(), rag.QueryRequest{
		TenantID:     tenantID,
		Question:     req.Question,
		K:            req.K,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		logger.Error("Query failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(result)
}

// StreamQueryRequest 流式问答请求体。
// 客户端显式携带history时以其为准；否则按session_id从缓存回填。
type StreamQueryRequest struct {
	Question     string        `json:"question" validate:"required,min=1"`
	K            int           `json:"k" validate:"omitempty,min=1,max=20"`
	SystemPrompt string        `json:"system_prompt"`
	SessionID    string        `json:"session_id"`
	History      []HistoryItem `json:"history" validate:"omitempty,dive"`
}

// HistoryItem 客户端携带的历史消息
type HistoryItem struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// QueryStream 流式问答，以SSE交付事件：sources → chunk* → done（或error）
func (c *RAGController) QueryStream() {
	tenantID := c.GetString(":id")
	if tenantID == "" {
		c.JSONError(http.StatusBadRequest, "missing chatbot id")
		return
	}

	var req StreamQueryRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "invalid request body")
		return
	}
	if !c.mustValidate(&req) {
		return
	}

	history := make([]rag.Message, 0, len(req.History))
	for _, item := range req.History {
		msg, err := rag.ParseMessage(item.Role, item.Content)
		if err != nil {
			c.JSONError(http.StatusBadRequest, err.Error())
			return
		}
		history = append(history, msg)
	}
	if len(history) == 0 && req.SessionID != "" && c.history != nil {
		cached, err := c.history.Recent(c.Ctx.Request.Context(), tenantID, req.SessionID, historyFetchLimit)
		if err != nil {
			// 缓存不可用时降级为无历史
			logger.Warn("History cache unavailable",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		} else {
			history = cached
		}
	}

	w := c.Ctx.ResponseWriter
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	ctx := c.Ctx.Request.Context()
	events := c.engine.QueryStream(ctx, rag.StreamRequest{
		TenantID:     tenantID,
		Question:     req.Question,
		K:            req.K,
		SystemPrompt: req.SystemPrompt,
		History:      history,
	})

	var answer strings.Builder
	var sources []rag.Source
	completed := false
	for ev := range events {
		switch ev.Type {
		case rag.EventSources:
			sources = ev.Sources
		case rag.EventChunk:
			answer.WriteString(ev.Content)
		case rag.EventDone:
			completed = true
		}

		payload, err := encodeEvent(ev)
		if err != nil {
			logger.Error("Failed to encode stream event", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// 客户端断开，消费终止后引擎侧会随上下文取消停止
			return
		}
		w.Flush()
	}

	// 流正常结束后把本轮问答写入会话缓存，失败只记录日志
	if completed && req.SessionID != "" && c.history != nil {
		cacheCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		err := c.history.Append(cacheCtx, tenantID, req.SessionID,
			rag.NewUserMessage(req.Question),
			rag.NewAssistantMessage(answer.String(), sources))
		if err != nil {
			logger.Warn("Failed to append history cache",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		}
	}
}

// intFormParam 解析可选的整数表单参数，非数字值返回400
func (c *RAGController) intFormParam(key string) (int, bool) {
	raw := c.GetString(key)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		c.JSONError(http.StatusBadRequest, fmt.Sprintf("invalid %s: must be an integer", key))
		return 0, false
	}
	return value, true
}

// encodeEvent 把引擎事件编码为SSE数据行的JSON
func encodeEvent(ev rag.Event) ([]byte, error) {
	switch ev.Type {
	case rag.EventSources:
		return json.Marshal(map[string]interface{}{
			"type":    "sources",
			"sources": ev.Sources,
		})
	case rag.EventChunk:
		return json.Marshal(map[string]interface{}{
			"type":    "chunk",
			"content": ev.Content,
		})
	case rag.EventError:
		message := "stream failed"
		if ev.Err != nil {
			message = ev.Err.Error()
		}
		return json.Marshal(map[string]interface{}{
			"type":  "error",
			"error": message,
		})
	case rag.EventDone:
		return json.Marshal(map[string]interface{}{"type": "done"})
	default:
		return nil, fmt.Errorf("unknown event type: %q", ev.Type)
	}
}

// IndexStats 索引统计。只暴露统计数据，不泄露索引文件路径。
func (c *RAGController) IndexStats() {
	tenantID := c.GetString(":id")
	if tenantID == "" {
		c.JSONError(http.StatusBadRequest, "missing chatbot id")
		return
	}

	stats := c.engine.IndexStats(tenantID)
	c.JSONSuccess(stats)
}

// DeleteIndex 删除租户索引
func (c *RAGController) DeleteIndex() {
	tenantID := c.GetString(":id")
	if tenantID == "" {
		c.JSONError(http.StatusBadRequest, "missing chatbot id")
		return
	}

	if err := c.engine.DeleteIndex(tenantID); err != nil {
		logger.Error("Failed to delete index",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		c.JSONAppError(err)
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"status":     "deleted",
		"chatbot_id": tenantID,
		"deleted_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// SupportedTypes 返回支持的文档扩展名
func (c *RAGController) SupportedTypes() {
	c.JSONSuccess(map[string]interface{}{
		"extensions": c.engine.Loader().SupportedExtensions(),
	})
}
