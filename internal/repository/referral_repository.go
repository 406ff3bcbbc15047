package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReferralRepository 推广转化数据访问接口
type ReferralRepository interface {
	WithTx(tx *gorm.DB) ReferralRepository
	WithContext(ctx context.Context) ReferralRepository

	Create(referral *models.Referral) error
	Update(referral *models.Referral) error
	GetByID(id uint) (*models.Referral, error)
	GetByIDForUpdate(id uint) (*models.Referral, error)
	GetByOrder(affiliateID uint, orderID, conversionType string) (*models.Referral, error)
	List(filter ReferralListFilter) ([]models.Referral, int64, error)
	SumApprovedByAffiliate(affiliateID uint) (int64, decimal.Decimal, error)
}

// GormReferralRepository GORM 推广转化仓储
type GormReferralRepository struct {
	db *gorm.DB
}

// NewReferralRepository 创建推广转化仓储
func NewReferralRepository(db *gorm.DB) *GormReferralRepository {
	return &GormReferralRepository{db: db}
}

// WithTx 绑定事务
func (r *GormReferralRepository) WithTx(tx *gorm.DB) ReferralRepository {
	if tx == nil {
		return r
	}
	return &GormReferralRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormReferralRepository) WithContext(ctx context.Context) ReferralRepository {
	if ctx == nil {
		return r
	}
	return &GormReferralRepository{db: r.db.WithContext(ctx)}
}

// Create 创建推广转化
func (r *GormReferralRepository) Create(referral *models.Referral) error {
	return r.db.Create(referral).Error
}

// Update 保存推广转化
func (r *GormReferralRepository) Update(referral *models.Referral) error {
	return r.db.Save(referral).Error
}

// GetByID 按ID查询推广转化
func (r *GormReferralRepository) GetByID(id uint) (*models.Referral, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Referral
	if err := r.db.First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByIDForUpdate 按ID锁定查询推广转化
func (r *GormReferralRepository) GetByIDForUpdate(id uint) (*models.Referral, error) {
	if id == 0 {
		return nil, nil
	}
	var row models.Referral
	if err := r.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByOrder 按推广用户、订单号与转化类型查询
func (r *GormReferralRepository) GetByOrder(affiliateID uint, orderID, conversionType string) (*models.Referral, error) {
	orderID = strings.TrimSpace(orderID)
	if affiliateID == 0 || orderID == "" {
		return nil, nil
	}
	var row models.Referral
	err := r.db.Where("affiliate_id = ? AND order_id = ? AND conversion_type = ?",
		affiliateID, orderID, strings.TrimSpace(conversionType)).
		Order("id asc").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// List 查询推广转化列表
func (r *GormReferralRepository) List(filter ReferralListFilter) ([]models.Referral, int64, error) {
	query := r.db.Model(&models.Referral{})
	if filter.AffiliateID != 0 {
		query = query.Where("affiliate_id = ?", filter.AffiliateID)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var rows []models.Referral
	if err := query.Order("id desc").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// SumApprovedByAffiliate 统计已通过转化数量与佣金合计
func (r *GormReferralRepository) SumApprovedByAffiliate(affiliateID uint) (int64, decimal.Decimal, error) {
	if affiliateID == 0 {
		return 0, decimal.Zero, nil
	}
	var row struct {
		Count int64           `gorm:"column:count"`
		Total decimal.Decimal `gorm:"column:total"`
	}
	if err := r.db.Model(&models.Referral{}).
		Where("affiliate_id = ? AND status = ?", affiliateID, constants.ReferralStatusApproved).
		Select("COUNT(id) AS count, COALESCE(SUM(commission_amount), 0) AS total").
		Scan(&row).Error; err != nil {
		return 0, decimal.Zero, err
	}
	return row.Count, row.Total.Round(2), nil
}
