package models

import "time"

// Visit 推广链接访问记录
type Visit struct {
	ID          uint       `gorm:"primarykey" json:"id"`                                                        // 主键
	AffiliateID uint       `gorm:"not null;index:idx_visit_affiliate_converted" json:"affiliate_id"`            // 推广用户ID
	Converted   bool       `gorm:"not null;default:false;index:idx_visit_affiliate_converted" json:"converted"` // 是否已转化
	ConvertedAt *time.Time `json:"converted_at,omitempty"`                                                      // 转化时间
	ReferralID  *uint      `gorm:"index" json:"referral_id,omitempty"`                                          // 归因的转化记录
	LandingPath string     `gorm:"type:varchar(512)" json:"landing_path"`                                       // 落地页面路径
	Referrer    string     `gorm:"type:varchar(1024)" json:"referrer"`                                          // 来源地址
	ClientIP    string     `gorm:"type:varchar(64)" json:"client_ip"`                                           // 客户端IP
	UserAgent   string     `gorm:"type:varchar(1024)" json:"user_agent"`                                        // 客户端UA
	CreatedAt   time.Time  `gorm:"index;not null" json:"created_at"`                                            // 创建时间
}

// TableName 指定表名
func (Visit) TableName() string {
	return "visits"
}
