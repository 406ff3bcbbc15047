package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"gorm.io/gorm"
)

// VisitRepository 推广访问数据访问接口
type VisitRepository interface {
	WithTx(tx *gorm.DB) VisitRepository
	WithContext(ctx context.Context) VisitRepository

	Create(visit *models.Visit) error
	GetByID(id uint) (*models.Visit, error)
	FindLatestUnconverted(affiliateID uint) (*models.Visit, error)
	MarkConverted(visitID, referralID uint, convertedAt time.Time) (bool, error)
	CountByAffiliate(affiliateID uint) (int64, error)
	CountByAffiliates(affiliateIDs []uint, since *time.Time) (map[uint]int64, error)
}

// GormVisitRepository GORM 推广访问仓储
type GormVisitRepository struct {
	db *gorm.DB
}

// NewVisitRepository 创建推广访问仓储
func NewVisitRepository(db *gorm.DB) *GormVisitRepository {
	return &GormVisitRepository{db: db}
}

// WithTx 绑定事务
func (r *GormVisitRepository) WithTx(tx *gorm.DB) VisitRepository {
	if tx == nil {
		return r
	}
	return &GormVisitRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormVisitRepository) WithContext(ctx context.Context) VisitRepository {
	if ctx == nil {
		return r
	}
	return &GormVisitRepository{db: r.db.WithContext(ctx)}
}

// Create 创建访问记录
func (r *GormVisitRepository) Create(visit *models.Visit) error {
	return r.db.Create(visit).Error
}

// GetByID 按ID查询访问记录
func (r *GormVisitRepository) GetByID(id uint) (*models.Visit, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Visit
	if err := r.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// FindLatestUnconverted 查询推广用户最近一次未转化访问
func (r *GormVisitRepository) FindLatestUnconverted(affiliateID uint) (*models.Visit, error) {
	if affiliateID == 0 {
		return nil, nil
	}
	var row models.Visit
	err := r.db.Where("affiliate_id = ? AND converted = ?", affiliateID, false).
		Order("created_at DESC, id DESC").
		Limit(1).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// MarkConverted 条件更新访问为已转化，返回是否抢占成功
func (r *GormVisitRepository) MarkConverted(visitID, referralID uint, convertedAt time.Time) (bool, error) {
	if visitID == 0 {
		return false, nil
	}
	result := r.db.Model(&models.Visit{}).
		Where("id = ? AND converted = ?", visitID, false).
		Updates(map[string]interface{}{
			"converted":    true,
			"converted_at": convertedAt,
			"referral_id":  referralID,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CountByAffiliate 统计推广用户访问数
func (r *GormVisitRepository) CountByAffiliate(affiliateID uint) (int64, error) {
	if affiliateID == 0 {
		return 0, nil
	}
	var total int64
	if err := r.db.Model(&models.Visit{}).Where("affiliate_id = ?", affiliateID).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// CountByAffiliates 批量统计访问数（since 为空表示全部）
func (r *GormVisitRepository) CountByAffiliates(affiliateIDs []uint, since *time.Time) (map[uint]int64, error) {
	result := make(map[uint]int64, len(affiliateIDs))
	if len(affiliateIDs) == 0 {
		return result, nil
	}
	query := r.db.Model(&models.Visit{}).
		Select("affiliate_id, COUNT(*) AS total").
		Where("affiliate_id IN ?", affiliateIDs)
	if since != nil {
		query = query.Where("created_at >= ?", *since)
	}
	var rows []struct {
		AffiliateID uint  `gorm:"column:affiliate_id"`
		Total       int64 `gorm:"column:total"`
	}
	if err := query.Group("affiliate_id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.AffiliateID] = row.Total
	}
	return result, nil
}
