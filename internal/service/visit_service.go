package service

import (
	"context"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"
)

// VisitService 推广访问记录服务
type VisitService struct {
	affiliateRepo repository.AffiliateRepository
	visitRepo     repository.VisitRepository
}

// NewVisitService 创建推广访问记录服务
func NewVisitService(affiliateRepo repository.AffiliateRepository, visitRepo repository.VisitRepository) *VisitService {
	return &VisitService{
		affiliateRepo: affiliateRepo,
		visitRepo:     visitRepo,
	}
}

// RecordVisitInput 访问记录输入
type RecordVisitInput struct {
	AffiliateCode string
	LandingPath   string
	Referrer      string
	ClientIP      string
	UserAgent     string
}

// RecordVisit 记录一次推广链接访问（访问数由统计重算汇总）
func (s *VisitService) RecordVisit(ctx context.Context, input RecordVisitInput) (*models.Visit, error) {
	code := normalizeAffiliateCode(input.AffiliateCode)
	if code == "" {
		return nil, ErrAffiliateCodeRequired
	}
	affiliate, err := loadActiveAffiliate(s.affiliateRepo.WithContext(ctx), code)
	if err != nil {
		return nil, err
	}

	visit := &models.Visit{
		AffiliateID: affiliate.ID,
		Converted:   false,
		LandingPath: truncateString(strings.TrimSpace(input.LandingPath), 512),
		Referrer:    truncateString(strings.TrimSpace(input.Referrer), 1024),
		ClientIP:    truncateString(strings.TrimSpace(input.ClientIP), 64),
		UserAgent:   truncateString(strings.TrimSpace(input.UserAgent), 1024),
		CreatedAt:   time.Now(),
	}
	if err := s.visitRepo.WithContext(ctx).Create(visit); err != nil {
		return nil, wrapStorageError(err)
	}
	return visit, nil
}

// loadActiveAffiliate 按推广码加载活跃推广用户，非活跃视为不存在
func loadActiveAffiliate(repo repository.AffiliateRepository, code string) (*models.Affiliate, error) {
	affiliate, err := repo.GetByCode(code)
	if err != nil {
		return nil, wrapStorageError(err)
	}
	if affiliate == nil || affiliate.Status != constants.AffiliateStatusActive {
		return nil, ErrAffiliateNotFound
	}
	return affiliate, nil
}

func truncateString(value string, max int) string {
	if max <= 0 || len(value) <= max {
		return value
	}
	cut := 0
	for i := range value {
		if i > max {
			break
		}
		cut = i
	}
	return value[:cut]
}
