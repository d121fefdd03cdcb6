package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/rag-engine/app/controllers"
	"github.com/aihub/rag-engine/internal/rag"
	"github.com/aihub/rag-engine/internal/repository"
)

// Init registers all routes. Must be called after config is loaded.
func Init(engine *rag.Engine, history *repository.RedisHistoryCache) {
	controllers.SetDependencies(engine, history)

	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	ragController := &controllers.RAGController{}
	// 注意：具体路由必须在参数路由之前，否则/supported-types会被:id匹配
	web.Router("/api/chatbots/supported-types", ragController, "get:SupportedTypes")
	web.Router("/api/chatbots/:id/documents", ragController, "post:UploadDocument")
	web.Router("/api/chatbots/:id/query", ragController, "post:Query")
	web.Router("/api/chatbots/:id/query/stream", ragController, "post:QueryStream")
	web.Router("/api/chatbots/:id/index/stats", ragController, "get:IndexStats")
	web.Router("/api/chatbots/:id/index", ragController, "delete:DeleteIndex")
}
