package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"

	"gorm.io/gorm"
)

const visitAttributionMaxAttempts = 5

// AffiliateStatsRecomputer 推广统计重算接口
type AffiliateStatsRecomputer interface {
	RecomputeAffiliateStats(ctx context.Context, affiliateID uint) (*models.Affiliate, error)
}

// ReferralService 推广转化账本服务
type ReferralService struct {
	affiliateRepo repository.AffiliateRepository
	visitRepo     repository.VisitRepository
	referralRepo  repository.ReferralRepository
	stats         AffiliateStatsRecomputer
}

// NewReferralService 创建推广转化账本服务
func NewReferralService(
	affiliateRepo repository.AffiliateRepository,
	visitRepo repository.VisitRepository,
	referralRepo repository.ReferralRepository,
	stats AffiliateStatsRecomputer,
) *ReferralService {
	return &ReferralService{
		affiliateRepo: affiliateRepo,
		visitRepo:     visitRepo,
		referralRepo:  referralRepo,
		stats:         stats,
	}
}

// CreateReferralInput 创建推广转化输入
type CreateReferralInput struct {
	AffiliateCode  string
	ConversionType string
	OrderID        string
	OrderAmount    *models.Money
	ReferredUserID string
}

// CreateReferralResult 创建推广转化结果
type CreateReferralResult struct {
	Referral  *models.Referral
	Duplicate bool
}

// ProcessConversionInput 审核推广转化输入
type ProcessConversionInput struct {
	ReferralID uint
	Status     string
	Notes      string
}

// ProcessConversionResult 审核推广转化结果
type ProcessConversionResult struct {
	Referral  *models.Referral
	Changed   bool
	Affiliate *models.Affiliate
}

// ListReferralsInput 查询推广转化输入
type ListReferralsInput struct {
	AffiliateCode string
	Status        string
	Page          int
	PageSize      int
}

// CreateReferral 记录一笔待审核的推广转化，并尝试归因到最近一次未转化访问
func (s *ReferralService) CreateReferral(ctx context.Context, input CreateReferralInput) (*CreateReferralResult, error) {
	code := normalizeAffiliateCode(input.AffiliateCode)
	if code == "" {
		return nil, ErrAffiliateCodeRequired
	}
	conversionType := strings.ToLower(strings.TrimSpace(input.ConversionType))
	if conversionType == "" {
		return nil, ErrConversionTypeRequired
	}
	if !isValidConversionType(conversionType) {
		return nil, ErrConversionTypeInvalid
	}
	if input.OrderAmount != nil && input.OrderAmount.Decimal.IsNegative() {
		return nil, ErrOrderAmountInvalid
	}
	orderID := truncateString(strings.TrimSpace(input.OrderID), 64)
	referredUserID := truncateString(strings.TrimSpace(input.ReferredUserID), 128)

	affiliate, err := loadActiveAffiliate(s.affiliateRepo.WithContext(ctx), code)
	if err != nil {
		return nil, err
	}

	commission := models.ZeroMoney()
	var orderAmount *models.Money
	if input.OrderAmount != nil {
		normalized := models.NewMoneyFromDecimal(input.OrderAmount.Decimal)
		orderAmount = &normalized
		commission = normalized.ApplyRate(affiliate.CommissionRate)
	}

	var result *CreateReferralResult
	err = retryTransientStorage(ctx, func() error {
		result = nil
		return s.affiliateRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			referralRepo := s.referralRepo.WithTx(tx)
			if orderID != "" {
				existing, err := referralRepo.GetByOrder(affiliate.ID, orderID, conversionType)
				if err != nil {
					return err
				}
				if existing != nil {
					result = &CreateReferralResult{Referral: existing, Duplicate: true}
					return nil
				}
			}

			referral := &models.Referral{
				AffiliateID:      affiliate.ID,
				AffiliateCode:    affiliate.AffiliateCode,
				OrderAmount:      orderAmount,
				CommissionRate:   affiliate.CommissionRate,
				CommissionAmount: commission,
				ConversionType:   conversionType,
				ReferredUserID:   referredUserID,
				Status:           constants.ReferralStatusPending,
			}
			if orderID != "" {
				referral.OrderID = &orderID
			}
			if err := referralRepo.Create(referral); err != nil {
				return err
			}
			if referredUserID != "" {
				visitID, err := s.attributeVisit(s.visitRepo.WithTx(tx), affiliate.ID, referral.ID)
				if err != nil {
					return err
				}
				if visitID != 0 {
					referral.VisitID = &visitID
					if err := referralRepo.Update(referral); err != nil {
						return err
					}
				}
			}
			result = &CreateReferralResult{Referral: referral}
			return nil
		})
	})
	if err != nil {
		if orderID != "" && isUniqueViolation(err) {
			existing, getErr := s.referralRepo.WithContext(ctx).GetByOrder(affiliate.ID, orderID, conversionType)
			if getErr == nil && existing != nil {
				return &CreateReferralResult{Referral: existing, Duplicate: true}, nil
			}
		}
		return nil, wrapStorageError(err)
	}
	return result, nil
}

// attributeVisit 将最近一次未转化访问标记为已转化，被并发抢占时重新选择
func (s *ReferralService) attributeVisit(visitRepo repository.VisitRepository, affiliateID, referralID uint) (uint, error) {
	for attempt := 0; attempt < visitAttributionMaxAttempts; attempt++ {
		visit, err := visitRepo.FindLatestUnconverted(affiliateID)
		if err != nil {
			return 0, err
		}
		if visit == nil {
			return 0, nil
		}
		ok, err := visitRepo.MarkConverted(visit.ID, referralID, time.Now())
		if err != nil {
			return 0, err
		}
		if ok {
			return visit.ID, nil
		}
	}
	logger.Warnw("affiliate_visit_attribution_contention",
		"affiliate_id", affiliateID,
		"referral_id", referralID,
	)
	return 0, nil
}

// ProcessConversion 审核推广转化，通过后重算推广用户统计
func (s *ReferralService) ProcessConversion(ctx context.Context, input ProcessConversionInput) (*ProcessConversionResult, error) {
	if input.ReferralID == 0 {
		return nil, ErrReferralIDRequired
	}
	decision := strings.ToLower(strings.TrimSpace(input.Status))
	if decision != constants.ReferralStatusApproved && decision != constants.ReferralStatusRejected {
		return nil, ErrReferralDecision
	}
	notes := strings.TrimSpace(input.Notes)

	var result *ProcessConversionResult
	err := retryTransientStorage(ctx, func() error {
		return s.affiliateRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			referralRepo := s.referralRepo.WithTx(tx)
			referral, err := referralRepo.GetByIDForUpdate(input.ReferralID)
			if err != nil {
				return err
			}
			if referral == nil {
				return ErrReferralNotFound
			}
			switch referral.Status {
			case decision:
				result = &ProcessConversionResult{Referral: referral}
				return nil
			case constants.ReferralStatusPending:
			default:
				return ErrReferralAlreadyDecided
			}

			now := time.Now()
			referral.Status = decision
			referral.ProcessedAt = &now
			if notes != "" {
				referral.Notes = notes
			}
			if err := referralRepo.Update(referral); err != nil {
				return err
			}
			result = &ProcessConversionResult{Referral: referral, Changed: true}
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}

	if decision == constants.ReferralStatusApproved && s.stats != nil {
		affiliate, err := s.stats.RecomputeAffiliateStats(ctx, result.Referral.AffiliateID)
		if err != nil {
			logger.Warnw("affiliate_stats_recompute_failed",
				"affiliate_id", result.Referral.AffiliateID,
				"referral_id", result.Referral.ID,
				"error", err,
			)
			if errors.Is(err, ErrTransientStorage) {
				return nil, err
			}
			return nil, errors.Join(ErrTransientStorage, err)
		}
		result.Affiliate = affiliate
	}
	return result, nil
}

// ListReferrals 分页查询推广转化
func (s *ReferralService) ListReferrals(ctx context.Context, input ListReferralsInput) ([]models.Referral, int64, error) {
	filter := repository.ReferralListFilter{
		Page:     input.Page,
		PageSize: input.PageSize,
	}
	if status := strings.ToLower(strings.TrimSpace(input.Status)); status != "" {
		if !isValidReferralStatus(status) {
			return nil, 0, ErrReferralStatusInvalid
		}
		filter.Status = status
	}
	if code := normalizeAffiliateCode(input.AffiliateCode); code != "" {
		affiliate, err := s.affiliateRepo.WithContext(ctx).GetByCode(code)
		if err != nil {
			return nil, 0, wrapStorageError(err)
		}
		if affiliate == nil {
			return nil, 0, ErrAffiliateNotFound
		}
		filter.AffiliateID = affiliate.ID
	}
	rows, total, err := s.referralRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapStorageError(err)
	}
	return rows, total, nil
}

func isValidConversionType(value string) bool {
	switch value {
	case constants.ConversionTypeSignup, constants.ConversionTypePurchase, constants.ConversionTypeSubscription:
		return true
	default:
		return false
	}
}

func isValidReferralStatus(value string) bool {
	switch value {
	case constants.ReferralStatusPending, constants.ReferralStatusApproved, constants.ReferralStatusRejected:
		return true
	default:
		return false
	}
}
