package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/beego/beego/v2/server/web"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aihub/rag-engine/internal/config"
	"github.com/aihub/rag-engine/internal/generation"
	"github.com/aihub/rag-engine/internal/rag"
)

// routeEmbedder 确定性向量化实现，路由测试不依赖外部模型服务
type routeEmbedder struct {
	dim int
}

func (e *routeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *routeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dim)
		var sum float32
		for _, r := range text {
			sum += float32(r % 53)
		}
		for j := range v {
			v[j] = sum / float32(j+1)
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (e *routeEmbedder) Dimensions() int { return e.dim }
func (e *routeEmbedder) Ready() bool     { return true }

type routeGenerator struct {
	answer string
}

func (g *routeGenerator) Generate(ctx context.Context, prompt generation.Prompt) (string, *generation.Usage, error) {
	return g.answer, &generation.Usage{}, nil
}

func (g *routeGenerator) GenerateStream(ctx context.Context, prompt generation.Prompt) (generation.Stream, error) {
	return nil, fmt.Errorf("streaming not used in this test")
}

// responseEnvelope 统一响应包络。开发模式下输出带缩进，
// 断言一律走反序列化而不是字符串比对。
type responseEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func serve(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	recorder := httptest.NewRecorder()
	web.BeeApp.Handlers.ServeHTTP(recorder, req)
	return recorder
}

func decodeEnvelope(t *testing.T, recorder *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var envelope responseEnvelope
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &envelope))
	return envelope
}

func multipartUpload(t *testing.T, filename, content string, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// 路由在beego的全局树上注册，整个wiring流程放在一个测试里串行跑
func TestRouterWiring(t *testing.T) {
	require.NoError(t, config.LoadConfig())
	cfg := config.GetAppConfig()
	cfg.Knowledge.IndexPath = t.TempDir()
	cfg.Knowledge.UploadPath = t.TempDir()

	web.BConfig.CopyRequestBody = true

	engine := rag.NewEngine(cfg, &routeEmbedder{dim: 3}, &routeGenerator{answer: "ok"}, nil)
	Init(engine, nil)

	t.Run("index stats reaches engine through fresh controller", func(t *testing.T) {
		// beego每个请求都新建控制器实例，能拿到200说明依赖在Prepare里接上了
		recorder := serve(t, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-1/index/stats", nil))
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		envelope := decodeEnvelope(t, recorder)
		require.True(t, envelope.Success)

		var stats struct {
			Indexed      bool `json:"indexed"`
			TotalVectors int  `json:"total_vectors"`
		}
		require.NoError(t, json.Unmarshal(envelope.Data, &stats))
		assert.False(t, stats.Indexed)
		assert.Zero(t, stats.TotalVectors)
	})

	t.Run("supported types listed before id routes", func(t *testing.T) {
		recorder := serve(t, httptest.NewRequest(http.MethodGet, "/api/chatbots/supported-types", nil))
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		envelope := decodeEnvelope(t, recorder)
		require.True(t, envelope.Success)
		assert.Contains(t, string(envelope.Data), ".txt")
	})

	t.Run("query without index returns fixed answer", func(t *testing.T) {
		body := strings.NewReader(`{"question":"anything?"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/query", body)
		req.Header.Set("Content-Type", "application/json")

		recorder := serve(t, req)
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		envelope := decodeEnvelope(t, recorder)
		require.True(t, envelope.Success)

		var result struct {
			Answer string `json:"answer"`
		}
		require.NoError(t, json.Unmarshal(envelope.Data, &result))
		assert.Equal(t,
			"No documents have been indexed for this assistant yet. Please upload documents first.",
			result.Answer)
	})

	t.Run("non-numeric chunk size rejected with 400", func(t *testing.T) {
		body, contentType := multipartUpload(t, "doc.txt", "some document content", map[string]string{
			"chunk_size": "abc",
		})
		req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-1/documents", body)
		req.Header.Set("Content-Type", contentType)

		recorder := serve(t, req)
		require.Equal(t, http.StatusBadRequest, recorder.Code, recorder.Body.String())

		envelope := decodeEnvelope(t, recorder)
		assert.False(t, envelope.Success)
		assert.Contains(t, envelope.Error, "invalid chunk_size")
	})

	t.Run("upload then stats round trip", func(t *testing.T) {
		content := strings.Repeat("Indexable sentence about routing. ", 20)
		body, contentType := multipartUpload(t, "doc.txt", content, nil)
		req := httptest.NewRequest(http.MethodPost, "/api/chatbots/bot-2/documents", body)
		req.Header.Set("Content-Type", contentType)

		recorder := serve(t, req)
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		var result struct {
			ChunksCreated int `json:"chunks_created"`
		}
		envelope := decodeEnvelope(t, recorder)
		require.True(t, envelope.Success)
		require.NoError(t, json.Unmarshal(envelope.Data, &result))
		assert.GreaterOrEqual(t, result.ChunksCreated, 1)

		statsRecorder := serve(t, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-2/index/stats", nil))
		require.Equal(t, http.StatusOK, statsRecorder.Code)

		var stats struct {
			Indexed      bool `json:"indexed"`
			TotalVectors int  `json:"total_vectors"`
		}
		statsEnvelope := decodeEnvelope(t, statsRecorder)
		require.NoError(t, json.Unmarshal(statsEnvelope.Data, &stats))
		assert.True(t, stats.Indexed)
		assert.Equal(t, result.ChunksCreated, stats.TotalVectors)
	})

	t.Run("delete index", func(t *testing.T) {
		recorder := serve(t, httptest.NewRequest(http.MethodDelete, "/api/chatbots/bot-2/index", nil))
		require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

		statsRecorder := serve(t, httptest.NewRequest(http.MethodGet, "/api/chatbots/bot-2/index/stats", nil))
		var stats struct {
			Indexed bool `json:"indexed"`
		}
		statsEnvelope := decodeEnvelope(t, statsRecorder)
		require.NoError(t, json.Unmarshal(statsEnvelope.Data, &stats))
		assert.False(t, stats.Indexed)
	})
}
