package models

import "time"

// Referral 推广转化（佣金）记录
type Referral struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                                            // 主键
	AffiliateID      uint       `gorm:"not null;index;uniqueIndex:idx_referral_order" json:"affiliate_id"`               // 推广用户ID
	AffiliateCode    string     `gorm:"type:varchar(32);not null" json:"affiliate_code"`                                 // 推广码快照
	OrderID          *string    `gorm:"type:varchar(64);uniqueIndex:idx_referral_order" json:"order_id,omitempty"`       // 外部订单号
	OrderAmount      *Money     `gorm:"type:decimal(20,2)" json:"order_amount,omitempty"`                                // 订单金额
	CommissionRate   Money      `gorm:"type:decimal(10,2);not null;default:0" json:"commission_rate"`                    // 佣金比例快照
	CommissionAmount Money      `gorm:"type:decimal(20,2);not null;default:0" json:"commission_amount"`                  // 佣金金额
	ConversionType   string     `gorm:"type:varchar(20);not null;uniqueIndex:idx_referral_order" json:"conversion_type"` // 转化类型
	ReferredUserID   string     `gorm:"type:varchar(128)" json:"referred_user_id,omitempty"`                             // 被推荐用户
	VisitID          *uint      `gorm:"index" json:"visit_id,omitempty"`                                                 // 归因访问记录
	Status           string     `gorm:"type:varchar(20);not null;index" json:"status"`                                   // 状态
	Notes            string     `gorm:"type:text" json:"notes,omitempty"`                                                // 审核备注
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`                                                          // 审核时间
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                                                         // 创建时间
	UpdatedAt        time.Time  `json:"updated_at"`                                                                      // 更新时间
}

// TableName 指定表名
func (Referral) TableName() string {
	return "referrals"
}
