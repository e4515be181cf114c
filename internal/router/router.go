package router

import (
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/handlers"
	"github.com/duckyoo9/fileduck/internal/middlewares"
	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/gin-gonic/gin"
)

// InitRouter 初始化 Gin 引擎并注册路由
func InitRouter(shareHandler *handlers.ShareHandler, c cache.Cache, cfg *config.Config) *gin.Engine {
	if cfg.Server.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default() // 包含 Logger 和 Recovery 中间件

	// Health Check 路由
	router.GET("/healthz", shareHandler.Health)

	// 兑换与查询路由,面向持有分享码的下载者
	shareGroup := router.Group("/share")
	{
		shareGroup.GET("/:code/details", shareHandler.Details)
		shareGroup.POST("/:code/redeem", shareHandler.Redeem)
	}

	v1 := router.Group("/api/v1")
	{
		sharesGroup := v1.Group("/shares")
		{
			// 上传是重型操作,单独限流
			sharesGroup.POST("", middlewares.IPRateLimit(c, "upload", 20, time.Hour), shareHandler.CreateShare)
			sharesGroup.DELETE("/:code", shareHandler.Delete)
			sharesGroup.POST("/:code/rescan", shareHandler.Rescan)
		}
	}

	return router
}
