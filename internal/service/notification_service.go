package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"
)

// WithdrawalNotice 提现状态通知内容
type WithdrawalNotice struct {
	WithdrawalID  uint
	AffiliateCode string
	Email         string
	Status        string
	Amount        models.Money
}

type withdrawalEmailSender interface {
	SendWithdrawalStatusEmail(toEmail string, input WithdrawalStatusEmailInput) error
}

const inlineNotifyTimeout = 30 * time.Second

// NotificationService 提现通知分发服务，队列启用时入队投递，否则后台直接发送
type NotificationService struct {
	emailSender   withdrawalEmailSender
	queueClient   *queue.Client
	inlineTimeout time.Duration
	inline        sync.WaitGroup
}

// NewNotificationService 创建通知分发服务
func NewNotificationService(emailService *EmailService, queueClient *queue.Client) *NotificationService {
	svc := &NotificationService{queueClient: queueClient, inlineTimeout: inlineNotifyTimeout}
	if emailService != nil {
		svc.emailSender = emailService
	}
	return svc
}

// NotifyWithdrawal 分发提现状态通知，收件邮箱为空时跳过
func (s *NotificationService) NotifyWithdrawal(ctx context.Context, notice WithdrawalNotice) error {
	if s == nil {
		return nil
	}
	notice.Email = strings.TrimSpace(notice.Email)
	if notice.Email == "" {
		logger.Debugw("withdrawal_notify_skipped_empty_email",
			"withdrawal_id", notice.WithdrawalID,
			"affiliate_code", notice.AffiliateCode,
		)
		return nil
	}
	if s.queueClient.Enabled() {
		err := s.queueClient.EnqueueWithdrawalNotify(ctx, queue.WithdrawalNotifyPayload{
			WithdrawalID:  notice.WithdrawalID,
			AffiliateCode: notice.AffiliateCode,
			Email:         notice.Email,
			Status:        notice.Status,
			Amount:        notice.Amount,
		})
		if err != nil {
			return fmt.Errorf("%w: enqueue withdrawal notify: %v", ErrNotification, err)
		}
		return nil
	}
	s.inline.Add(1)
	go s.sendInline(context.WithoutCancel(ctx), notice)
	return nil
}

// sendInline 后台发送提现邮件，超时后放弃等待
func (s *NotificationService) sendInline(ctx context.Context, notice WithdrawalNotice) {
	defer s.inline.Done()
	ctx, cancel := context.WithTimeout(ctx, s.inlineTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.SendWithdrawalNotice(notice)
	}()
	select {
	case err := <-done:
		if err != nil {
			logger.Warnw("withdrawal_notify_inline_failed",
				"withdrawal_id", notice.WithdrawalID,
				"affiliate_code", notice.AffiliateCode,
				"permanent", IsPermanentNotificationError(err),
				"error", err,
			)
		}
	case <-ctx.Done():
		logger.Warnw("withdrawal_notify_inline_timeout",
			"withdrawal_id", notice.WithdrawalID,
			"affiliate_code", notice.AffiliateCode,
			"timeout", s.inlineTimeout.String(),
		)
	}
}

// Wait 等待后台直发的通知结束
func (s *NotificationService) Wait() {
	if s == nil {
		return
	}
	s.inline.Wait()
}

// SendWithdrawalNotice 直接发送提现状态邮件
func (s *NotificationService) SendWithdrawalNotice(notice WithdrawalNotice) error {
	if s == nil || s.emailSender == nil {
		return ErrEmailServiceNotConfigured
	}
	err := s.emailSender.SendWithdrawalStatusEmail(notice.Email, WithdrawalStatusEmailInput{
		WithdrawalID:  notice.WithdrawalID,
		AffiliateCode: notice.AffiliateCode,
		Status:        notice.Status,
		Amount:        notice.Amount,
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotification) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNotification, err)
}

// IsPermanentNotificationError 判断通知错误是否无需重试
func IsPermanentNotificationError(err error) bool {
	return errors.Is(err, ErrEmailServiceDisabled) ||
		errors.Is(err, ErrEmailServiceNotConfigured) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrEmailRecipientRejected)
}
