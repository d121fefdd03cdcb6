package controllers

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aihub/rag-engine/internal/config"
	"github.com/aihub/rag-engine/internal/database"
)

// RootController 服务根路由
type RootController struct {
	BaseController
}

// Index 返回服务信息
func (c *RootController) Index() {
	c.JSON(http.StatusOK, map[string]interface{}{
		"service": "rag-engine",
		"status":  "running",
	})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

// Health 健康检查。数据库/Redis未启用时不计入健康状态。
func (c *HealthController) Health() {
	cfg := config.GetAppConfig()
	components := map[string]string{}

	if cfg.Database.Enabled {
		components["database"] = "up"
		if database.DB == nil {
			components["database"] = "down"
		}
	}
	if cfg.Redis.Enabled {
		components["redis"] = "up"
		if database.RedisClient == nil {
			components["redis"] = "down"
		}
	}

	status := "healthy"
	for _, state := range components {
		if state == "down" {
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// MetricsController 指标控制器
type MetricsController struct {
	BaseController
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	promhttp.Handler().ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
