package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/duckyoo9/fileduck/internal/pkg/logger"
	"github.com/duckyoo9/fileduck/internal/pkg/mq"
	"github.com/duckyoo9/fileduck/internal/pkg/xerr"
	"github.com/duckyoo9/fileduck/internal/services/share"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const ScanQueueName = "file_scan_queue"

// ScanTask 一条待扫描的分享
type ScanTask struct {
	ShareCode string `json:"share_code"`
}

// ScanDispatcher 把扫描任务投递到队列,由 ScanWorker 异步消费
type ScanDispatcher struct {
	mqClient *mq.RabbitMQClient
}

func NewScanDispatcher(mqClient *mq.RabbitMQClient) (*ScanDispatcher, error) {
	if _, err := mqClient.DeclareQueue(ScanQueueName); err != nil {
		return nil, err
	}
	return &ScanDispatcher{mqClient: mqClient}, nil
}

func (d *ScanDispatcher) DispatchScan(ctx context.Context, shareCode string) error {
	body, err := json.Marshal(ScanTask{ShareCode: shareCode})
	if err != nil {
		return err
	}
	return d.mqClient.Publish(ScanQueueName, body)
}

// ScanWorker 消费扫描队列,对每条分享执行一轮扫描裁决
type ScanWorker struct {
	mqClient     *mq.RabbitMQClient
	shareService share.ShareService
}

func NewScanWorker(mqClient *mq.RabbitMQClient, shareService share.ShareService) *ScanWorker {
	return &ScanWorker{
		mqClient:     mqClient,
		shareService: shareService,
	}
}

func (w *ScanWorker) Start() error {
	if _, err := w.mqClient.DeclareQueue(ScanQueueName); err != nil {
		return err
	}
	if err := w.mqClient.Consume(ScanQueueName, w.handle); err != nil {
		return err
	}
	logger.Info("扫描 Worker 已启动")
	return nil
}

func (w *ScanWorker) handle(msg amqp.Delivery) {
	var task ScanTask
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		logger.Error("解析扫描任务失败,消息抛弃", zap.Error(err))
		_ = msg.Nack(false, false)
		return
	}

	logger.Info("收到扫描任务", zap.String("shareCode", task.ShareCode))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	record, err := w.shareService.Rescan(ctx, task.ShareCode)
	if err != nil {
		// 记录已消失(过期或被删),任务没有意义了
		if errors.Is(err, xerr.ErrRecordNotFound) || errors.Is(err, xerr.ErrUploadIncomplete) {
			logger.Warn("扫描任务对应的记录已不可用,消息抛弃",
				zap.String("shareCode", task.ShareCode), zap.Error(err))
			_ = msg.Nack(false, false)
			return
		}
		// 临时性失败,重新入队
		logger.Error("扫描任务执行失败,消息重新入队",
			zap.String("shareCode", task.ShareCode), zap.Error(err))
		_ = msg.Nack(false, true)
		return
	}

	logger.Info("扫描任务完成",
		zap.String("shareCode", task.ShareCode),
		zap.String("status", string(record.ScanStatus)))
	_ = msg.Ack(false)
}
