package worker

import (
	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/mq"
	"github.com/duckyoo9/fileduck/internal/services/share"
)

// StartAllWorkers 启动应用中所有定义的后台 Worker
func StartAllWorkers(mqClient *mq.RabbitMQClient, shareService share.ShareService) error {
	// --- 启动扫描 Worker ---
	scanWorker := NewScanWorker(mqClient, shareService)
	if err := scanWorker.Start(); err != nil {
		return err
	}

	// --- 在这里启动其他 Worker ---

	logger.Info("所有后台工作进程已启动")
	return nil
}
