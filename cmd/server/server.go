package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/duckyoo9/fileduck/internal/config"
	"github.com/duckyoo9/fileduck/internal/handlers"
	"github.com/duckyoo9/fileduck/internal/pkg/cache"
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/mq"
	"github.com/duckyoo9/fileduck/internal/pkg/mq/worker"
	"github.com/duckyoo9/fileduck/internal/pkg/storage"
	"github.com/duckyoo9/fileduck/internal/repositories"
	"github.com/duckyoo9/fileduck/internal/router"
	"github.com/duckyoo9/fileduck/internal/services/scanner"
	"github.com/duckyoo9/fileduck/internal/services/share"
	"github.com/duckyoo9/fileduck/internal/setup"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type Server struct {
	router         *gin.Engine
	httpServer     *http.Server
	redisClient    *redis.Client
	rabbitMQClient *mq.RabbitMQClient
	reaper         *share.ExpiryReaper
}

// NewServer 负责构建所有依赖
func NewServer(cfg *config.Config) (*Server, error) {
	// 初始化 Redis 连接
	redisClient, err := setup.InitRedis(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// 初始化 RabbitMQ,未启用时扫描在上传请求内同步执行
	var rabbitMQClient *mq.RabbitMQClient
	if cfg.RabbitMQ.Enabled {
		rabbitMQClient, err = mq.NewRabbitMQClient(cfg.RabbitMQ.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
	}

	// 初始化 Repositories
	redisCache := cache.NewRedisCache(redisClient)
	recordRepo := repositories.NewShareRecordRepository(redisCache)
	limitRepo := repositories.NewRateLimitRepository(redisCache)

	// 初始化分块对象存储
	backend, err := storage.NewReleaseStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize release storage: %w", err)
	}
	store := storage.NewChunkedObjectStore(backend, &cfg.Storage)

	// 初始化扫描网关
	gate := scanner.NewGate(scanner.NewHTTPProvider(&cfg.Scan), &cfg.Scan)

	// 初始化 Services
	var dispatcher share.ScanDispatcher
	if rabbitMQClient != nil {
		d, err := worker.NewScanDispatcher(rabbitMQClient)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize scan dispatcher: %w", err)
		}
		dispatcher = d
	}
	shareService := share.NewShareService(recordRepo, limitRepo, store, gate, dispatcher, cfg)
	reaper := share.NewExpiryReaper(recordRepo, store, cfg)

	// 初始化 Handlers
	shareHandler := handlers.NewShareHandler(shareService, cfg)

	// 启动所有后台 Worker
	if rabbitMQClient != nil {
		if err := worker.StartAllWorkers(rabbitMQClient, shareService); err != nil {
			return nil, fmt.Errorf("failed to start workers: %w", err)
		}
	}

	// 初始化 Gin 引擎和注册路由
	engine := router.InitRouter(shareHandler, redisCache, cfg)

	addr := ":" + cfg.Server.Port
	logger.Info(fmt.Sprintf("Server is running on %s", cfg.Server.Port))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	return &Server{
		router:         engine,
		httpServer:     httpServer,
		redisClient:    redisClient,
		rabbitMQClient: rabbitMQClient,
		reaper:         reaper,
	}, nil
}

// Run 启动服务器和清扫器,并处理优雅关机
func (s *Server) Run(ctx context.Context, stopChan chan os.Signal) {
	defer setup.CloseRedis(s.redisClient)
	if s.rabbitMQClient != nil {
		defer s.rabbitMQClient.Close()
	}

	// 启动过期清扫器
	reaperCtx, cancelReaper := context.WithCancel(ctx)
	defer cancelReaper()
	go s.reaper.Run(reaperCtx, 10*time.Minute)

	// 启动 HTTP 服务器
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	// 等待停止信号
	<-stopChan
	logger.Info("Shutting down server...")

	// 优雅关机
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited gracefully")
}
