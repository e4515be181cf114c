package middlewares

import (
	"net/http"
	"time"

	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IPRateLimit 按客户端IP限制接口调用频率
// 兑换接口在服务层有自己的闸门,这里用于保护上传等重型接口
func IPRateLimit(c cache.Cache, keyPrefix string, limit int64, window time.Duration) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := "ratelimit:" + keyPrefix + ":" + ctx.ClientIP()

		n, err := c.Incr(ctx.Request.Context(), key)
		if err != nil {
			// 限流器故障时放行而不是拒绝所有请求
			logger.Warn("限流计数失败,请求放行", zap.String("key", key), zap.Error(err))
			ctx.Next()
			return
		}
		if n == 1 {
			if err := c.Expire(ctx.Request.Context(), key, window); err != nil {
				logger.Warn("设置限流窗口失败", zap.String("key", key), zap.Error(err))
			}
		}

		if n > limit {
			xerr.AbortWithError(ctx, http.StatusTooManyRequests, xerr.RateLimitedCode, xerr.ErrRateLimited.Error())
			return
		}
		ctx.Next()
	}
}
