package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AffiliateRepository 推广用户数据访问接口
type AffiliateRepository interface {
	Transaction(fn func(tx *gorm.DB) error) error
	WithTx(tx *gorm.DB) AffiliateRepository
	WithContext(ctx context.Context) AffiliateRepository

	Create(affiliate *models.Affiliate) error
	GetByID(id uint) (*models.Affiliate, error)
	GetByIDForUpdate(id uint) (*models.Affiliate, error)
	GetByCode(code string) (*models.Affiliate, error)
	UpdateStatus(id uint, status string, updatedAt time.Time) error
	UpdateCommissionRate(id uint, rate models.Money, updatedAt time.Time) error
	List(filter AffiliateListFilter) ([]models.Affiliate, int64, error)
	ListActiveIDsAfter(afterID uint, limit int) ([]uint, error)
	UpdateStats(id uint, stats AffiliateStatsAggregate, updatedAt time.Time) error
	CompareAndSetEarnings(id uint, expected, next models.Money, updatedAt time.Time) (bool, error)
	ListActiveByEarnings(offset, limit int) ([]models.Affiliate, error)
	ListActiveByWindowEarnings(since time.Time, offset, limit int) ([]AffiliateWindowStats, error)
}

// GormAffiliateRepository GORM 推广用户仓储
type GormAffiliateRepository struct {
	db *gorm.DB
}

// NewAffiliateRepository 创建推广用户仓储
func NewAffiliateRepository(db *gorm.DB) *GormAffiliateRepository {
	return &GormAffiliateRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAffiliateRepository) WithTx(tx *gorm.DB) AffiliateRepository {
	if tx == nil {
		return r
	}
	return &GormAffiliateRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormAffiliateRepository) WithContext(ctx context.Context) AffiliateRepository {
	if ctx == nil {
		return r
	}
	return &GormAffiliateRepository{db: r.db.WithContext(ctx)}
}

// Transaction 执行事务
func (r *GormAffiliateRepository) Transaction(fn func(tx *gorm.DB) error) error {
	if fn == nil {
		return nil
	}
	return r.db.Transaction(fn)
}

// Create 创建推广用户
func (r *GormAffiliateRepository) Create(affiliate *models.Affiliate) error {
	return r.db.Create(affiliate).Error
}

// GetByID 按ID获取推广用户
func (r *GormAffiliateRepository) GetByID(id uint) (*models.Affiliate, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Affiliate
	if err := r.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByIDForUpdate 按ID锁定查询推广用户
func (r *GormAffiliateRepository) GetByIDForUpdate(id uint) (*models.Affiliate, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Affiliate
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByCode 按推广码获取推广用户
func (r *GormAffiliateRepository) GetByCode(code string) (*models.Affiliate, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return nil, nil
	}
	var row models.Affiliate
	if err := r.db.Where("affiliate_code = ?", normalized).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// UpdateStatus 更新推广用户状态
func (r *GormAffiliateRepository) UpdateStatus(id uint, status string, updatedAt time.Time) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     strings.TrimSpace(status),
			"updated_at": updatedAt,
		}).Error
}

// UpdateCommissionRate 更新佣金比例（已产生的转化保留原比例快照）
func (r *GormAffiliateRepository) UpdateCommissionRate(id uint, rate models.Money, updatedAt time.Time) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"commission_rate": rate,
			"updated_at":      updatedAt,
		}).Error
}

// List 查询推广用户列表
func (r *GormAffiliateRepository) List(filter AffiliateListFilter) ([]models.Affiliate, int64, error) {
	query := r.db.Model(&models.Affiliate{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword := strings.TrimSpace(filter.Keyword); keyword != "" {
		condition, argCount := buildLikeCondition(r.db, []string{"affiliate_code", "name", "email"})
		query = query.Where(condition, repeatLikeArgs("%"+keyword+"%", argCount)...)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.Affiliate
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// ListActiveIDsAfter 按主键游标分批读取活跃推广用户ID
func (r *GormAffiliateRepository) ListActiveIDsAfter(afterID uint, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uint
	if err := r.db.Model(&models.Affiliate{}).
		Where("status = ? AND id > ?", constants.AffiliateStatusActive, afterID).
		Order("id asc").
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateStats 写入重算后的汇总统计
func (r *GormAffiliateRepository) UpdateStats(id uint, stats AffiliateStatsAggregate, updatedAt time.Time) error {
	if id == 0 {
		return nil
	}
	return r.db.Model(&models.Affiliate{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"total_referrals":  stats.TotalReferrals,
			"total_earnings":   models.NewMoneyFromDecimal(stats.TotalEarnings),
			"total_visits":     stats.TotalVisits,
			"stats_updated_at": updatedAt,
			"updated_at":       updatedAt,
		}).Error
}

// CompareAndSetEarnings 仅当当前收益等于 expected 时写入 next
func (r *GormAffiliateRepository) CompareAndSetEarnings(id uint, expected, next models.Money, updatedAt time.Time) (bool, error) {
	if id == 0 {
		return false, nil
	}
	result := r.db.Model(&models.Affiliate{}).
		Where("id = ? AND total_earnings = ?", id, expected).
		Updates(map[string]interface{}{
			"total_earnings": next,
			"updated_at":     updatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ListActiveByEarnings 按累计收益倒序分页读取活跃推广用户
func (r *GormAffiliateRepository) ListActiveByEarnings(offset, limit int) ([]models.Affiliate, error) {
	if limit <= 0 {
		return []models.Affiliate{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []models.Affiliate
	if err := r.db.Model(&models.Affiliate{}).
		Where("status = ?", constants.AffiliateStatusActive).
		Order("total_earnings desc").
		Order("id asc").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListActiveByWindowEarnings 按窗口内已通过佣金倒序分页统计活跃推广用户
func (r *GormAffiliateRepository) ListActiveByWindowEarnings(since time.Time, offset, limit int) ([]AffiliateWindowStats, error) {
	if limit <= 0 {
		return []AffiliateWindowStats{}, nil
	}
	if offset < 0 {
		offset = 0
	}
	var rows []AffiliateWindowStats
	if err := r.db.Table("referrals AS r").
		Select("r.affiliate_id AS affiliate_id, a.affiliate_code AS affiliate_code, COUNT(r.id) AS referrals, COALESCE(SUM(r.commission_amount), 0) AS earnings").
		Joins("JOIN affiliates a ON a.id = r.affiliate_id").
		Where("r.status = ? AND r.created_at >= ? AND a.status = ? AND a.deleted_at IS NULL",
			constants.ReferralStatusApproved,
			since,
			constants.AffiliateStatusActive,
		).
		Group("r.affiliate_id, a.affiliate_code").
		Order("earnings desc").
		Order("r.affiliate_id asc").
		Offset(offset).
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].Earnings = rows[i].Earnings.Round(2)
	}
	return rows, nil
}
