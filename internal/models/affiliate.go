package models

import (
	"time"

	"gorm.io/gorm"
)

// Affiliate 推广用户（联盟成员）
type Affiliate struct {
	ID             uint           `gorm:"primarykey" json:"id"`                                              // 主键
	AffiliateCode  string         `gorm:"type:varchar(32);not null;uniqueIndex" json:"affiliate_code"`       // 联盟推广码
	Name           string         `gorm:"type:varchar(128)" json:"name"`                                     // 名称
	Email          string         `gorm:"type:varchar(255);index" json:"email"`                              // 通知邮箱
	CommissionRate Money          `gorm:"type:decimal(10,2);not null;default:0" json:"commission_rate"`      // 佣金比例（百分比）
	Status         string         `gorm:"type:varchar(20);not null;index" json:"status"`                     // 状态
	TotalReferrals int64          `gorm:"not null;default:0" json:"total_referrals"`                         // 已通过转化数
	TotalEarnings  Money          `gorm:"type:decimal(20,2);not null;default:0;index" json:"total_earnings"` // 可用收益
	TotalVisits    int64          `gorm:"not null;default:0" json:"total_visits"`                            // 访问数
	StatsUpdatedAt *time.Time     `json:"stats_updated_at,omitempty"`                                        // 统计重算时间
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`                                           // 创建时间
	UpdatedAt      time.Time      `gorm:"index" json:"updated_at"`                                           // 更新时间
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`                                                    // 软删除时间
}

// TableName 指定表名
func (Affiliate) TableName() string {
	return "affiliates"
}
