package queue

import (
	"encoding/json"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"github.com/hibiken/asynq"
)

const (
	// TaskWithdrawalNotify 提现状态通知任务
	TaskWithdrawalNotify = constants.TaskWithdrawalNotify
)

// WithdrawalNotifyPayload 提现状态通知任务载荷
type WithdrawalNotifyPayload struct {
	WithdrawalID  uint         `json:"withdrawal_id"`
	AffiliateCode string       `json:"affiliate_code"`
	Email         string       `json:"email"`
	Status        string       `json:"status"`
	Amount        models.Money `json:"amount"`
}

// NewWithdrawalNotifyTask 创建提现状态通知任务
func NewWithdrawalNotifyTask(payload WithdrawalNotifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWithdrawalNotify, body), nil
}

// ParseWithdrawalNotifyPayload 解析提现状态通知任务载荷
func ParseWithdrawalNotifyPayload(task *asynq.Task) (WithdrawalNotifyPayload, error) {
	var payload WithdrawalNotifyPayload
	if task == nil {
		return payload, nil
	}
	err := json.Unmarshal(task.Payload(), &payload)
	return payload, err
}
