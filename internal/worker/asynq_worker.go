package worker

import (
	"context"

	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/hibiken/asynq"
)

// Consumer 异步任务消费者
type Consumer struct {
	*provider.Container
	sendNotice func(service.WithdrawalNotice) error
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	consumer := &Consumer{Container: c}
	if c != nil && c.NotificationService != nil {
		consumer.sendNotice = c.NotificationService.SendWithdrawalNotice
	}
	return consumer
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskWithdrawalNotify, c.handleWithdrawalNotify)
}

// handleWithdrawalNotify 发送提现状态邮件，永久性错误不再重试
func (c *Consumer) handleWithdrawalNotify(_ context.Context, task *asynq.Task) error {
	if c == nil || task == nil {
		logger.Debugw("worker_withdrawal_notify_skip_nil", "consumer_nil", c == nil, "task_nil", task == nil)
		return nil
	}
	payload, err := queue.ParseWithdrawalNotifyPayload(task)
	if err != nil {
		logger.Warnw("worker_withdrawal_notify_unmarshal_failed", "error", err)
		return err
	}
	if payload.WithdrawalID == 0 || payload.Email == "" {
		logger.Debugw("worker_withdrawal_notify_skip_invalid_payload",
			"withdrawal_id", payload.WithdrawalID,
			"email_empty", payload.Email == "",
		)
		return nil
	}
	if c.sendNotice == nil {
		logger.Warnw("worker_withdrawal_notify_skip_sender_nil", "withdrawal_id", payload.WithdrawalID)
		return nil
	}
	err = c.sendNotice(service.WithdrawalNotice{
		WithdrawalID:  payload.WithdrawalID,
		AffiliateCode: payload.AffiliateCode,
		Email:         payload.Email,
		Status:        payload.Status,
		Amount:        payload.Amount,
	})
	if err == nil {
		return nil
	}
	if service.IsPermanentNotificationError(err) {
		logger.Warnw("worker_withdrawal_notify_dropped",
			"withdrawal_id", payload.WithdrawalID,
			"affiliate_code", payload.AffiliateCode,
			"status", payload.Status,
			"error", err,
		)
		return nil
	}
	logger.Warnw("worker_withdrawal_notify_send_failed",
		"withdrawal_id", payload.WithdrawalID,
		"affiliate_code", payload.AffiliateCode,
		"receiver_email", payload.Email,
		"status", payload.Status,
		"error", err,
	)
	return err
}
