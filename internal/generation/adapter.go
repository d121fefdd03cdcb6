package generation

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aihub/rag-engine/internal/config"
	apperrors "github.com/aihub/rag-engine/internal/errors"
)

// Usage 一次生成调用的token用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// UsageFuture 流式调用的用量槽：在底层调用带着token计数完成时解析一次。
// 提供方不上报用量时永远不解析：缺失的用量不等于零用量。
type UsageFuture struct {
	once  sync.Once
	done  chan struct{}
	usage Usage
}

// NewUsageFuture 创建未解析的用量槽，供Stream实现使用
func NewUsageFuture() *UsageFuture {
	return &UsageFuture{done: make(chan struct{})}
}

// Resolve 解析用量槽，仅首次调用生效
func (f *UsageFuture) Resolve(u Usage) {
	f.once.Do(func() {
		f.usage = u
		close(f.done)
	})
}

// Get 非阻塞读取。第二个返回值为false表示用量尚未（或永远不会）上报。
func (f *UsageFuture) Get() (Usage, bool) {
	select {
	case <-f.done:
		return f.usage, true
	default:
		return Usage{}, false
	}
}

// Stream 有限的、单遍的回答片段序列。消费Recv是推动底层调用前进的
// 唯一方式；消费方停止拉取并Close即为协作式取消。
type Stream interface {
	// Recv 返回下一个片段；io.EOF表示正常结束，其他错误为终止性错误
	Recv() (string, error)
	// Close 放弃流，关闭底层网络调用
	Close() error
	// Usage 返回本次调用的用量槽
	Usage() *UsageFuture
}

// Generator 生成适配器：把完整提示词变成一次模型调用
type Generator interface {
	Generate(ctx context.Context, prompt Prompt) (string, *Usage, error)
	GenerateStream(ctx context.Context, prompt Prompt) (Stream, error)
}

// OpenAIGenerator 调用OpenAI兼容的Chat Completions接口
// （Mistral、DashScope等均提供兼容端点）
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIGenerator 创建生成适配器。缺少API密钥在构造阶段快速失败。
func NewOpenAIGenerator(cfg *config.AIConfig) (*OpenAIGenerator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, apperrors.NewConfigurationError("AI API key is not configured")
	}

	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.ChatModel,
		maxTokens:   cfg.MaxTokens,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (g *OpenAIGenerator) buildRequest(prompt Prompt) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt.renderBody()},
		},
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
	}
}

// Generate 阻塞式生成
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt Prompt) (string, *Usage, error) {
	resp, err := g.client.CreateChatCompletion(ctx, g.buildRequest(prompt))
	if err != nil {
		return "", nil, apperrors.NewGenerationError(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, apperrors.NewGenerationError(errors.New("model returned no choices"))
	}

	usage := &Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return resp.Choices[0].Message.Content, usage, nil
}

// GenerateStream 流式生成。最后一个流事件携带用量时解析用量槽。
func (g *OpenAIGenerator) GenerateStream(ctx context.Context, prompt Prompt) (Stream, error) {
	req := g.buildRequest(prompt)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	inner, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, apperrors.NewGenerationError(err)
	}

	return &openaiStream{
		inner: inner,
		usage: NewUsageFuture(),
	}, nil
}

type openaiStream struct {
	inner *openai.ChatCompletionStream
	usage *UsageFuture
}

func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.inner.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", io.EOF
			}
			return "", apperrors.NewGenerationError(err)
		}

		if resp.Usage != nil {
			s.usage.Resolve(Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			})
		}

		// 只携带用量的尾部事件没有choices，继续拉取直到EOF
		if len(resp.Choices) == 0 {
			continue
		}
		if content := resp.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openaiStream) Close() error {
	return s.inner.Close()
}

func (s *openaiStream) Usage() *UsageFuture {
	return s.usage
}
