package models

import "time"

// Withdrawal 推广收益提现记录
type Withdrawal struct {
	ID            uint       `gorm:"primarykey" json:"id"`                                // 主键
	AffiliateID   uint       `gorm:"not null;index" json:"affiliate_id"`                  // 推广用户ID
	Amount        Money      `gorm:"type:decimal(20,2);not null;default:0" json:"amount"` // 提现金额
	Status        string     `gorm:"type:varchar(20);not null;index" json:"status"`       // 状态
	TransactionID string     `gorm:"type:varchar(128)" json:"transaction_id,omitempty"`   // 打款流水号
	Notes         string     `gorm:"type:text" json:"notes,omitempty"`                    // 备注
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`                              // 处理时间
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`                             // 创建时间
	UpdatedAt     time.Time  `json:"updated_at"`                                          // 更新时间
}

// TableName 指定表名
func (Withdrawal) TableName() string {
	return "withdrawals"
}
