package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// AffiliateListFilter 查询推广用户列表的过滤条件
type AffiliateListFilter struct {
	Page     int
	PageSize int
	Status   string
	Keyword  string
}

// ReferralListFilter 查询推广转化列表的过滤条件
type ReferralListFilter struct {
	Page        int
	PageSize    int
	AffiliateID uint
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// WithdrawalListFilter 查询提现记录列表的过滤条件
type WithdrawalListFilter struct {
	Page        int
	PageSize    int
	AffiliateID uint
	Status      string
}

// AffiliateStatsAggregate 推广用户汇总统计
type AffiliateStatsAggregate struct {
	TotalReferrals int64
	TotalEarnings  decimal.Decimal
	TotalVisits    int64
}

// AffiliateWindowStats 指定时间窗口内的排行统计
type AffiliateWindowStats struct {
	AffiliateID   uint            `gorm:"column:affiliate_id"`
	AffiliateCode string          `gorm:"column:affiliate_code"`
	Referrals     int64           `gorm:"column:referrals"`
	Earnings      decimal.Decimal `gorm:"column:earnings"`
}
