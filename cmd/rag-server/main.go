package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/aihub/rag-engine/app/router"
	"github.com/aihub/rag-engine/internal/config"
	"github.com/aihub/rag-engine/internal/database"
	"github.com/aihub/rag-engine/internal/generation"
	"github.com/aihub/rag-engine/internal/knowledge"
	"github.com/aihub/rag-engine/internal/logger"
	"github.com/aihub/rag-engine/internal/pricing"
	"github.com/aihub/rag-engine/internal/rag"
	"github.com/aihub/rag-engine/internal/repository"
)

func main() {
	// .env不存在不是错误，生产环境用真实环境变量
	_ = godotenv.Load()

	if err := config.LoadConfig(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetAppConfig()

	if err := logger.InitLogger(); err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// 元数据存储：数据库未启用时降级为nil，引擎照常运行
	var meta rag.MetadataStore
	if cfg.Database.Enabled {
		db, err := database.InitDB()
		if err != nil {
			logger.Error("Database unavailable, metadata persistence disabled", zap.Error(err))
		} else {
			meta = repository.NewGormMetadataStore(db, pricing.NewTokenCounter(cfg.AI.ChatModel))
		}
	}

	// 会话历史缓存：Redis未启用或不可用时降级为nil
	var history *repository.RedisHistoryCache
	if cfg.Redis.Enabled {
		client, err := database.InitRedis()
		if err != nil {
			logger.Error("Redis unavailable, history cache disabled", zap.Error(err))
		} else {
			history = repository.NewRedisHistoryCache(client, cfg.Redis.TTL)
		}
	}

	// 模型服务配置错误必须在启动阶段暴露，而不是首次请求时
	embedder := knowledge.NewOpenAIEmbedder(
		cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.EmbeddingModel, cfg.Knowledge.EmbedBatchSize)
	generator, err := generation.NewOpenAIGenerator(&cfg.AI)
	if err != nil {
		logger.Fatal("Failed to create generator", zap.Error(err))
	}

	engine := rag.NewEngine(cfg, embedder, generator, meta)
	router.Init(engine, history)

	web.BConfig.AppName = "RAG Engine"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(cfg.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	}

	logger.Info("🚀 Starting RAG Engine", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
