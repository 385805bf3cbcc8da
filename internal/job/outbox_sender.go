package job

import (
	"context"
	"time"

	"genpix/internal/model"

	"github.com/sirupsen/logrus"
)

// OutboxStore 本地消息表
type OutboxStore interface {
	GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error)
	MarkSent(ctx context.Context, id int64) error
	RecordFailure(ctx context.Context, id int64, giveUp bool) error
}

// Publisher 消息投递
type Publisher interface {
	Send(topic, key, value string) error
}

// OutboxSender 轮询 PENDING 账本事件并投递到 Kafka
type OutboxSender struct {
	store         OutboxStore
	publisher     Publisher
	maxRetryCount int
	log           logrus.FieldLogger
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
}

func NewOutboxSender(store OutboxStore, publisher Publisher, maxRetryCount int, log logrus.FieldLogger) *OutboxSender {
	return &OutboxSender{
		store:         store,
		publisher:     publisher,
		maxRetryCount: maxRetryCount,
		log:           log.WithField("component", "OutboxSender"),
		stopCh:        make(chan struct{}),
		interval:      500 * time.Millisecond,
		batchSize:     100,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	s.log.Info("消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("收到停止信号，任务退出")
			return
		case <-s.stopCh:
			s.log.Info("任务停止")
			return
		case <-ticker.C:
			s.ProcessPending(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

// ProcessPending 投递一批待发送消息
func (s *OutboxSender) ProcessPending(ctx context.Context) {
	messages, err := s.store.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		s.log.WithError(err).Error("查询消息失败")
		return
	}

	for _, msg := range messages {
		s.sendMessage(ctx, msg)
	}
}

func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) {
	logger := s.log.WithFields(logrus.Fields{
		"id":    msg.ID,
		"topic": msg.Topic,
		"key":   msg.MessageKey,
	})

	err := s.publisher.Send(msg.Topic, msg.MessageKey, msg.Payload)
	if err == nil {
		if updateErr := s.store.MarkSent(ctx, msg.ID); updateErr != nil {
			logger.WithError(updateErr).Error("更新消息状态失败")
			return
		}
		logger.Debug("消息发送成功")
		return
	}

	giveUp := msg.RetryCount+1 >= s.maxRetryCount
	logger.WithError(err).WithField("retry_count", msg.RetryCount+1).Warn("消息发送失败")

	if err := s.store.RecordFailure(ctx, msg.ID, giveUp); err != nil {
		logger.WithError(err).Error("记录发送失败次数失败")
		return
	}
	if giveUp {
		logger.Error("消息超过最大重试次数，标记为失败")
	}
}
