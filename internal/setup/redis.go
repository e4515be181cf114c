package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// InitRedis 初始化 Redis 连接
// 生产环境元数据存储不可达是致命错误,开发环境降级为警告后继续启动,
// 方便在没有Redis的环境里调试上传链路
func InitRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		DialTimeout:  5 * time.Second,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		if cfg.Server.IsProduction() {
			client.Close()
			return nil, fmt.Errorf("连接 Redis 失败: %w", err)
		}
		logger.Warn("连接 Redis 失败,开发环境继续启动", zap.Error(err))
		return client, nil
	}

	logger.Info("Redis 连接成功", zap.String("addr", cfg.Redis.Addr))
	return client, nil
}

// CloseRedis 关闭 Redis 连接
func CloseRedis(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Error("关闭 Redis 连接出错", zap.Error(err))
	} else {
		logger.Info("Redis 连接已关闭")
	}
}
