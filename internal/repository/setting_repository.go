package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettingRepository 设置数据访问接口
type SettingRepository interface {
	WithContext(ctx context.Context) SettingRepository

	GetByKey(key string) (*models.Setting, error)
	Upsert(key string, value models.JSON) (*models.Setting, error)
	CreateIfAbsent(key string, value models.JSON) (bool, error)
	CompareAndSwap(key string, expectedVersion int64, value models.JSON) (bool, error)
}

// GormSettingRepository GORM 实现
type GormSettingRepository struct {
	db *gorm.DB
}

// NewSettingRepository 创建设置仓库
func NewSettingRepository(db *gorm.DB) *GormSettingRepository {
	return &GormSettingRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormSettingRepository) WithContext(ctx context.Context) SettingRepository {
	if ctx == nil {
		return r
	}
	return &GormSettingRepository{db: r.db.WithContext(ctx)}
}

// GetByKey 获取设置
func (r *GormSettingRepository) GetByKey(key string) (*models.Setting, error) {
	var setting models.Setting
	if err := r.db.Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &setting, nil
}

// Upsert 无条件写入设置，版本号递增
func (r *GormSettingRepository) Upsert(key string, value models.JSON) (*models.Setting, error) {
	for attempt := 0; attempt < 5; attempt++ {
		setting, err := r.GetByKey(key)
		if err != nil {
			return nil, err
		}
		if setting == nil {
			created, err := r.CreateIfAbsent(key, value)
			if err != nil {
				return nil, err
			}
			if created {
				return r.GetByKey(key)
			}
			continue
		}
		swapped, err := r.CompareAndSwap(key, setting.Version, value)
		if err != nil {
			return nil, err
		}
		if swapped {
			return r.GetByKey(key)
		}
	}
	return nil, errors.New("setting upsert contention")
}

// CreateIfAbsent 仅在键不存在时创建，返回是否创建成功
func (r *GormSettingRepository) CreateIfAbsent(key string, value models.JSON) (bool, error) {
	setting := &models.Setting{
		Key:       key,
		ValueJSON: value,
		Version:   1,
		UpdatedAt: time.Now(),
	}
	result := r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(setting)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CompareAndSwap 按版本号条件更新设置，返回是否抢占成功
func (r *GormSettingRepository) CompareAndSwap(key string, expectedVersion int64, value models.JSON) (bool, error) {
	result := r.db.Model(&models.Setting{}).
		Where("key = ? AND version = ?", key, expectedVersion).
		Updates(map[string]interface{}{
			"value_json": value,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
