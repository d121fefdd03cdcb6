package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/rag-engine/internal/config"
	apperrors "github.com/aihub/rag-engine/internal/errors"
	"github.com/aihub/rag-engine/internal/generation"
	"github.com/aihub/rag-engine/internal/knowledge"
	"github.com/aihub/rag-engine/internal/logger"
	"github.com/aihub/rag-engine/internal/pricing"
)

// 设计内的固定回答：没有索引 / 检索无结果不是错误，而是正常的终态
const (
	answerNoIndex   = "No documents have been indexed for this assistant yet. Please upload documents first."
	answerNoResults = "I could not find relevant information in the indexed documents."
)

const sourcePreviewLen = 200

// MetadataStore 租户/文档/会话元数据存储协作方。
// 引擎在摄取和问答成功后调用，写入失败只记录日志、不影响主操作。
type MetadataStore interface {
	GetTenant(ctx context.Context, tenantID string) (*TenantInfo, error)
	AppendDocumentRecord(ctx context.Context, tenantID, filename string, chunkCount int, uploadedAt time.Time) error
	AppendConversation(ctx context.Context, tenantID string, messages []Message) error
}

// Engine RAG编排器：组合加载、分块、索引、检索与生成
type Engine struct {
	cfg       *config.Config
	loader    *knowledge.LoaderDispatcher
	manager   *knowledge.IndexManager
	retriever *knowledge.Retriever
	generator generation.Generator
	tokens    *pricing.TokenCounter
	meta      MetadataStore
	logger    *zap.Logger
}

// NewEngine 创建RAG引擎。meta可以为nil（无元数据存储时降级运行）。
func NewEngine(cfg *config.Config, embedder knowledge.Embedder, generator generation.Generator, meta MetadataStore) *Engine {
	manager := knowledge.NewIndexManager(cfg.Knowledge.IndexPath, embedder)
	return &Engine{
		cfg:       cfg,
		loader:    knowledge.NewLoaderDispatcher(),
		manager:   manager,
		retriever: knowledge.NewRetriever(manager, cfg.Knowledge.ScoreThreshold),
		generator: generator,
		tokens:    pricing.NewTokenCounter(cfg.AI.ChatModel),
		meta:      meta,
		logger:    logger.GetLogger(),
	}
}

// Loader 返回加载分发器（HTTP层检查扩展名用）
func (e *Engine) Loader() *knowledge.LoaderDispatcher {
	return e.loader
}

// IngestRequest 文档摄取请求
type IngestRequest struct {
	TenantID     string
	FilePath     string
	ChunkSize    int
	ChunkOverlap int
	Metadata     map[string]interface{}
}

// IngestResult 文档摄取结果
type IngestResult struct {
	Status        string `json:"status"`
	File          string `json:"file"`
	ChunksCreated int    `json:"chunks_created"`
	TotalSegments int    `json:"total_segments"`
}

// Ingest 摄取一个文档：解析 → 分块 → 向量化 → 合并进租户索引 → 持久化。
// 同一租户的摄取在内部按租户锁串行化。
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	chunkSize, chunkOverlap := req.ChunkSize, req.ChunkOverlap
	if chunkSize <= 0 && chunkOverlap <= 0 {
		chunkSize = e.cfg.Knowledge.ChunkSize
		chunkOverlap = e.cfg.Knowledge.ChunkOverlap
	}

	chunker, err := knowledge.NewChunker(chunkSize, chunkOverlap)
	if err != nil {
		return nil, err
	}

	segments, err := e.loader.LoadFile(req.FilePath)
	if err != nil {
		return nil, err
	}

	chunks := chunker.Split(segments, req.Metadata)
	if len(chunks) == 0 {
		return nil, apperrors.NewValidationError("document contains no extractable text")
	}

	lock := e.manager.TenantLock(req.TenantID)
	lock.Lock()
	defer lock.Unlock()

	idx := e.manager.GetOrCreate(req.TenantID)
	count, err := idx.Upsert(ctx, chunks)
	if err != nil {
		e.manager.DiscardIfEmpty(req.TenantID)
		return nil, err
	}
	if err := idx.Persist(); err != nil {
		// 内存中已合并但落盘失败：丢弃句柄，让磁盘保持唯一事实来源
		e.manager.Discard(req.TenantID)
		return nil, fmt.Errorf("persist index for tenant %s: %w", req.TenantID, err)
	}

	ingestedChunksTotal.Add(float64(count))

	filename := filepath.Base(req.FilePath)
	if e.meta != nil {
		if err := e.meta.AppendDocumentRecord(ctx, req.TenantID, filename, count, time.Now()); err != nil {
			e.logger.Error("Failed to append document record",
				zap.String("tenant_id", req.TenantID),
				zap.String("file", filename),
				zap.Error(err))
		}
	}

	e.logger.Info("Document ingested",
		zap.String("tenant_id", req.TenantID),
		zap.String("file", filename),
		zap.Int("segments", len(segments)),
		zap.Int("chunks", count))

	return &IngestResult{
		Status:        "success",
		File:          filename,
		ChunksCreated: count,
		TotalSegments: len(segments),
	}, nil
}

// QueryRequest 阻塞式问答请求
type QueryRequest struct {
	TenantID     string
	Question     string
	K            int
	SystemPrompt string
}

// QueryResult 问答响应
type QueryResult struct {
	Answer   string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Question string   `json:"question"`
}

// Query 阻塞式RAG问答
func (e *Engine) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	k := req.K
	if k <= 0 {
		k = e.cfg.Knowledge.DefaultTopK
	}

	if !e.retriever.HasIndex(req.TenantID) {
		queriesTotal.WithLabelValues("blocking", "no_index").Inc()
		return &QueryResult{Answer: answerNoIndex, Sources: []Source{}, Question: req.Question}, nil
	}

	results, err := e.retriever.Retrieve(ctx, req.TenantID, req.Question, k)
	if err != nil {
		queriesTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}
	if len(results) == 0 {
		queriesTotal.WithLabelValues("blocking", "no_results").Inc()
		return &QueryResult{Answer: answerNoResults, Sources: []Source{}, Question: req.Question}, nil
	}

	prompt := generation.Prompt{
		SystemPrompt: e.resolveSystemPrompt(ctx, req.TenantID, req.SystemPrompt),
		Context:      buildContext(results),
		Question:     req.Question,
	}

	answer, usage, err := e.generator.Generate(ctx, prompt)
	if err != nil {
		queriesTotal.WithLabelValues("blocking", "error").Inc()
		return nil, err
	}

	sources := buildSources(results)
	e.recordUsage("blocking", answer, usage)
	e.persistConversation(ctx, req.TenantID, req.Question, answer, sources)
	queriesTotal.WithLabelValues("blocking", "complete").Inc()

	return &QueryResult{Answer: answer, Sources: sources, Question: req.Question}, nil
}

// StreamRequest 流式问答请求
type StreamRequest struct {
	TenantID     string
	Question     string
	K            int
	SystemPrompt string
	History      []Message
}

// QueryStream 流式RAG问答。事件顺序：sources → chunk* → done（或error）。
// 消费方取消上下文即停止：不再产生事件，底层模型调用被关闭。
// 部分消费过的流不可重试，重新发起查询会重新检索。
func (e *Engine) QueryStream(ctx context.Context, req StreamRequest) <-chan Event {
	events := make(chan Event, 8)

	go func() {
		defer close(events)

		emit := func(ev Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		k := req.K
		if k <= 0 {
			k = e.cfg.Knowledge.DefaultTopK
		}

		if !e.retriever.HasIndex(req.TenantID) {
			queriesTotal.WithLabelValues("stream", "no_index").Inc()
			_ = emit(Event{Type: EventSources, Sources: []Source{}}) &&
				emit(Event{Type: EventChunk, Content: answerNoIndex}) &&
				emit(Event{Type: EventDone})
			return
		}

		results, err := e.retriever.Retrieve(ctx, req.TenantID, req.Question, k)
		if err != nil {
			queriesTotal.WithLabelValues("stream", "error").Inc()
			emit(Event{Type: EventError, Err: err})
			return
		}
		if len(results) == 0 {
			queriesTotal.WithLabelValues("stream", "no_results").Inc()
			_ = emit(Event{Type: EventSources, Sources: []Source{}}) &&
				emit(Event{Type: EventChunk, Content: answerNoResults}) &&
				emit(Event{Type: EventDone})
			return
		}

		sources := buildSources(results)
		if !emit(Event{Type: EventSources, Sources: sources}) {
			return
		}

		prompt := generation.Prompt{
			SystemPrompt: e.resolveSystemPrompt(ctx, req.TenantID, req.SystemPrompt),
			Context:      buildContext(results),
			History:      toGenerationHistory(req.History),
			Question:     req.Question,
		}

		stream, err := e.generator.GenerateStream(ctx, prompt)
		if err != nil {
			queriesTotal.WithLabelValues("stream", "error").Inc()
			emit(Event{Type: EventError, Err: err})
			return
		}
		defer stream.Close()

		var answer strings.Builder
		for {
			fragment, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				// 流中途失败必须作为终止性错误事件交付，而不是无声截断
				queriesTotal.WithLabelValues("stream", "error").Inc()
				emit(Event{Type: EventError, Err: err})
				return
			}

			answer.WriteString(fragment)
			streamFragmentsTotal.Inc()
			if !emit(Event{Type: EventChunk, Content: fragment}) {
				return
			}
		}

		if !emit(Event{Type: EventDone}) {
			return
		}

		// 流排空后才知道完整回答和用量，此时移交计费与会话持久化
		usage, reported := stream.Usage().Get()
		if reported {
			e.recordUsage("stream", answer.String(), &usage)
		} else {
			e.recordUsage("stream", answer.String(), nil)
		}
		e.persistConversation(ctx, req.TenantID, req.Question, answer.String(), sources)
		queriesTotal.WithLabelValues("stream", "complete").Inc()
	}()

	return events
}

// IndexStats 返回租户索引统计
func (e *Engine) IndexStats(tenantID string) knowledge.IndexStats {
	return e.manager.Stats(tenantID)
}

// DeleteIndex 删除租户索引（持久化文件 + 内存句柄）
func (e *Engine) DeleteIndex(tenantID string) error {
	lock := e.manager.TenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	return e.manager.Delete(tenantID)
}

// resolveSystemPrompt 确定系统提示词：显式传入 > 租户自定义 > 全局默认
func (e *Engine) resolveSystemPrompt(ctx context.Context, tenantID, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if e.meta != nil {
		tenant, err := e.meta.GetTenant(ctx, tenantID)
		if err != nil {
			e.logger.Debug("Tenant lookup failed, using default system prompt",
				zap.String("tenant_id", tenantID),
				zap.Error(err))
		} else if tenant != nil && tenant.SystemPrompt != "" {
			return tenant.SystemPrompt
		}
	}
	return e.cfg.AI.SystemPrompt
}

// recordUsage 记录用量与估算成本。usage为nil表示提供方未上报：
// 按字符估算并明确标注为近似值，绝不当作零用量。
func (e *Engine) recordUsage(mode, answer string, usage *generation.Usage) {
	if usage == nil {
		estimated := e.tokens.CountTokens(answer)
		e.logger.Info("Generation usage not reported by provider",
			zap.String("mode", mode),
			zap.Int("approx_completion_tokens", estimated),
			zap.Bool("exact_tokenizer", e.tokens.Exact()))
		return
	}

	tokensTotal.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	tokensTotal.WithLabelValues("completion").Add(float64(usage.CompletionTokens))

	fields := []zap.Field{
		zap.String("mode", mode),
		zap.Int("prompt_tokens", usage.PromptTokens),
		zap.Int("completion_tokens", usage.CompletionTokens),
		zap.Int("total_tokens", usage.TotalTokens),
	}
	if cost, ok := pricing.EstimateCost(e.cfg.AI.ChatModel, usage.PromptTokens, usage.CompletionTokens); ok {
		fields = append(fields, zap.String("estimated_cost", pricing.FormatCost(cost)))
	}
	e.logger.Info("Generation usage", fields...)
}

// persistConversation 把本轮问答写入会话存储。失败只记录日志。
func (e *Engine) persistConversation(ctx context.Context, tenantID, question, answer string, sources []Source) {
	if e.meta == nil {
		return
	}

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	messages := []Message{
		NewUserMessage(question),
		NewAssistantMessage(answer, sources),
	}
	if err := e.meta.AppendConversation(persistCtx, tenantID, messages); err != nil {
		e.logger.Error("Failed to append conversation",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	}
}

// buildContext 按检索排名拼接上下文，"Document i"标签与响应中的来源序号对应
func buildContext(results []knowledge.SearchResult) string {
	var builder strings.Builder
	for i, res := range results {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		fmt.Fprintf(&builder, "Document %d:\n%s", i+1, res.Chunk.Text)
	}
	return builder.String()
}

// buildSources 构建来源列表：预览截断到200字符，附完整元数据、距离与排名
func buildSources(results []knowledge.SearchResult) []Source {
	sources := make([]Source, len(results))
	for i, res := range results {
		preview := res.Chunk.Text
		if runes := []rune(preview); len(runes) > sourcePreviewLen {
			preview = string(runes[:sourcePreviewLen]) + "..."
		}
		sources[i] = Source{
			Content:  preview,
			Metadata: res.Chunk.Metadata,
			Score:    res.Score,
			Index:    i + 1,
		}
	}
	return sources
}

func toGenerationHistory(history []Message) []generation.Message {
	if len(history) == 0 {
		return nil
	}
	converted := make([]generation.Message, len(history))
	for i, msg := range history {
		converted[i] = generation.Message{Role: msg.Role, Content: msg.Content}
	}
	return converted
}
