package service

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"

	"github.com/shopspring/decimal"
)

const (
	affiliateCodeLength   = 8
	affiliateCodeMaxRetry = 8
)

var affiliateCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

// AffiliateService 推广用户登记服务
type AffiliateService struct {
	repo repository.AffiliateRepository
}

// NewAffiliateService 创建推广用户登记服务
func NewAffiliateService(repo repository.AffiliateRepository) *AffiliateService {
	return &AffiliateService{repo: repo}
}

// CreateAffiliateInput 创建推广用户输入
type CreateAffiliateInput struct {
	AffiliateCode  string
	Name           string
	Email          string
	CommissionRate models.Money
}

// CreateAffiliate 登记推广用户，未指定推广码时自动生成
func (s *AffiliateService) CreateAffiliate(ctx context.Context, input CreateAffiliateInput) (*models.Affiliate, error) {
	email := strings.TrimSpace(input.Email)
	if email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			return nil, ErrAffiliateEmailInvalid
		}
	}
	rate, err := normalizeCommissionRate(input.CommissionRate)
	if err != nil {
		return nil, err
	}
	repo := s.repo.WithContext(ctx)

	code := normalizeAffiliateCode(input.AffiliateCode)
	if code != "" {
		if !affiliateCodePattern.MatchString(code) {
			return nil, ErrAffiliateCodeInvalid
		}
		row := &models.Affiliate{
			AffiliateCode:  code,
			Name:           strings.TrimSpace(input.Name),
			Email:          email,
			CommissionRate: rate,
			Status:         constants.AffiliateStatusActive,
		}
		if err := repo.Create(row); err != nil {
			if isUniqueViolation(err) {
				return nil, ErrAffiliateCodeTaken
			}
			return nil, wrapStorageError(err)
		}
		return row, nil
	}

	for i := 0; i < affiliateCodeMaxRetry; i++ {
		generated, genErr := generateAffiliateCode()
		if genErr != nil {
			return nil, genErr
		}
		row := &models.Affiliate{
			AffiliateCode:  generated,
			Name:           strings.TrimSpace(input.Name),
			Email:          email,
			CommissionRate: rate,
			Status:         constants.AffiliateStatusActive,
		}
		if err := repo.Create(row); err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, wrapStorageError(err)
		}
		return row, nil
	}
	return nil, ErrAffiliateCodeExhausted
}

// GetAffiliateByCode 按推广码查询推广用户（任意状态）
func (s *AffiliateService) GetAffiliateByCode(ctx context.Context, code string) (*models.Affiliate, error) {
	normalized := normalizeAffiliateCode(code)
	if normalized == "" {
		return nil, ErrAffiliateCodeRequired
	}
	row, err := s.repo.WithContext(ctx).GetByCode(normalized)
	if err != nil {
		return nil, wrapStorageError(err)
	}
	if row == nil {
		return nil, ErrAffiliateNotFound
	}
	return row, nil
}

// UpdateAffiliateStatus 更新推广用户状态，已终止的推广用户不可恢复
func (s *AffiliateService) UpdateAffiliateStatus(ctx context.Context, code, rawStatus string) (*models.Affiliate, error) {
	status := strings.ToLower(strings.TrimSpace(rawStatus))
	if !isValidAffiliateStatus(status) {
		return nil, ErrAffiliateStatusInvalid
	}
	row, err := s.GetAffiliateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if row.Status == status {
		return row, nil
	}
	if row.Status == constants.AffiliateStatusTerminated {
		return nil, ErrInvalidTransition
	}
	repo := s.repo.WithContext(ctx)
	if err := repo.UpdateStatus(row.ID, status, time.Now()); err != nil {
		return nil, wrapStorageError(err)
	}
	return s.reload(ctx, row.ID)
}

// UpdateCommissionRate 更新佣金比例，不影响已创建转化的比例快照
func (s *AffiliateService) UpdateCommissionRate(ctx context.Context, code string, rawRate models.Money) (*models.Affiliate, error) {
	rate, err := normalizeCommissionRate(rawRate)
	if err != nil {
		return nil, err
	}
	row, err := s.GetAffiliateByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := s.repo.WithContext(ctx).UpdateCommissionRate(row.ID, rate, time.Now()); err != nil {
		return nil, wrapStorageError(err)
	}
	return s.reload(ctx, row.ID)
}

// ListAffiliates 分页查询推广用户
func (s *AffiliateService) ListAffiliates(ctx context.Context, filter repository.AffiliateListFilter) ([]models.Affiliate, int64, error) {
	if status := strings.TrimSpace(filter.Status); status != "" && !isValidAffiliateStatus(status) {
		return nil, 0, ErrAffiliateStatusInvalid
	}
	rows, total, err := s.repo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapStorageError(err)
	}
	return rows, total, nil
}

func (s *AffiliateService) reload(ctx context.Context, id uint) (*models.Affiliate, error) {
	row, err := s.repo.WithContext(ctx).GetByID(id)
	if err != nil {
		return nil, wrapStorageError(err)
	}
	if row == nil {
		return nil, ErrAffiliateNotFound
	}
	return row, nil
}

func normalizeAffiliateCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeCommissionRate(rate models.Money) (models.Money, error) {
	if rate.Decimal.IsNegative() || rate.Decimal.GreaterThan(decimal.NewFromInt(100)) {
		return models.Money{}, ErrCommissionRateInvalid
	}
	return models.NewMoneyFromDecimal(rate.Decimal), nil
}

func isValidAffiliateStatus(status string) bool {
	switch status {
	case constants.AffiliateStatusActive, constants.AffiliateStatusSuspended, constants.AffiliateStatusTerminated:
		return true
	default:
		return false
	}
}

func generateAffiliateCode() (string, error) {
	const alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	var builder strings.Builder
	builder.Grow(affiliateCodeLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < affiliateCodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		builder.WriteByte(alphabet[n.Int64()])
	}
	return builder.String(), nil
}
