package service

import (
	"context"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"

	"gorm.io/gorm"
)

const earningsDecrementMaxAttempts = 5

// WithdrawalNotifier 提现状态通知接口
type WithdrawalNotifier interface {
	NotifyWithdrawal(ctx context.Context, notice WithdrawalNotice) error
}

// WithdrawalService 提现结算服务
type WithdrawalService struct {
	affiliateRepo  repository.AffiliateRepository
	withdrawalRepo repository.WithdrawalRepository
	notifier       WithdrawalNotifier
}

// NewWithdrawalService 创建提现结算服务
func NewWithdrawalService(
	affiliateRepo repository.AffiliateRepository,
	withdrawalRepo repository.WithdrawalRepository,
	notifier WithdrawalNotifier,
) *WithdrawalService {
	return &WithdrawalService{
		affiliateRepo:  affiliateRepo,
		withdrawalRepo: withdrawalRepo,
		notifier:       notifier,
	}
}

// RequestWithdrawalInput 申请提现输入
type RequestWithdrawalInput struct {
	AffiliateCode string
	Amount        models.Money
	Notes         string
}

// ProcessWithdrawalInput 处理提现输入
type ProcessWithdrawalInput struct {
	WithdrawalID  uint
	Status        string
	TransactionID string
	Notes         string
}

// ProcessWithdrawalResult 处理提现结果
type ProcessWithdrawalResult struct {
	Withdrawal *models.Withdrawal
	Changed    bool
}

// ListWithdrawalsInput 查询提现输入
type ListWithdrawalsInput struct {
	AffiliateCode string
	Status        string
	Page          int
	PageSize      int
}

// RequestWithdrawal 申请提现，金额不得超过可用佣金（已结算收益减去处理中的提现）
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, input RequestWithdrawalInput) (*models.Withdrawal, error) {
	code := normalizeAffiliateCode(input.AffiliateCode)
	if code == "" {
		return nil, ErrAffiliateCodeRequired
	}
	amount := models.NewMoneyFromDecimal(input.Amount.Decimal)
	if !amount.Decimal.IsPositive() {
		return nil, ErrWithdrawalAmountInvalid
	}
	affiliate, err := loadActiveAffiliate(s.affiliateRepo.WithContext(ctx), code)
	if err != nil {
		return nil, err
	}

	var withdrawal *models.Withdrawal
	err = retryTransientStorage(ctx, func() error {
		withdrawal = nil
		return s.affiliateRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			locked, err := s.affiliateRepo.WithTx(tx).GetByIDForUpdate(affiliate.ID)
			if err != nil {
				return err
			}
			if locked == nil {
				return ErrAffiliateNotFound
			}
			open, err := s.withdrawalRepo.WithTx(tx).SumByAffiliate(locked.ID, []string{
				constants.WithdrawalStatusRequested,
				constants.WithdrawalStatusProcessing,
			})
			if err != nil {
				return err
			}
			available := locked.TotalEarnings.Decimal.Sub(open)
			if amount.Decimal.GreaterThan(available) {
				return ErrInsufficientBalance
			}
			withdrawal = &models.Withdrawal{
				AffiliateID: locked.ID,
				Amount:      amount,
				Status:      constants.WithdrawalStatusRequested,
				Notes:       strings.TrimSpace(input.Notes),
			}
			return s.withdrawalRepo.WithTx(tx).Create(withdrawal)
		})
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}
	return withdrawal, nil
}

// ProcessWithdrawal 推进提现状态，完成时在同一事务内扣减推广收益
func (s *WithdrawalService) ProcessWithdrawal(ctx context.Context, input ProcessWithdrawalInput) (*ProcessWithdrawalResult, error) {
	if input.WithdrawalID == 0 {
		return nil, ErrWithdrawalIDRequired
	}
	target := strings.ToLower(strings.TrimSpace(input.Status))
	switch target {
	case constants.WithdrawalStatusProcessing, constants.WithdrawalStatusCompleted, constants.WithdrawalStatusFailed:
	default:
		return nil, ErrWithdrawalStatusInvalid
	}

	var (
		result    *ProcessWithdrawalResult
		affiliate *models.Affiliate
	)
	err := retryTransientStorage(ctx, func() error {
		var err error
		result, affiliate, err = s.processWithdrawalTx(ctx, input, target)
		return err
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}

	if result.Changed {
		s.dispatchNotice(ctx, affiliate, result.Withdrawal)
	}
	return result, nil
}

// processWithdrawalTx 在单个事务内推进提现状态
func (s *WithdrawalService) processWithdrawalTx(ctx context.Context, input ProcessWithdrawalInput, target string) (*ProcessWithdrawalResult, *models.Affiliate, error) {
	var (
		result    *ProcessWithdrawalResult
		affiliate *models.Affiliate
	)
	err := s.affiliateRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		withdrawalRepo := s.withdrawalRepo.WithTx(tx)
		affiliateRepo := s.affiliateRepo.WithTx(tx)

		withdrawal, err := withdrawalRepo.GetByIDForUpdate(input.WithdrawalID)
		if err != nil {
			return err
		}
		if withdrawal == nil {
			return ErrWithdrawalNotFound
		}
		affiliate, err = affiliateRepo.GetByID(withdrawal.AffiliateID)
		if err != nil {
			return err
		}
		if affiliate == nil {
			return ErrAffiliateNotFound
		}

		if withdrawal.Status == target {
			result = &ProcessWithdrawalResult{Withdrawal: withdrawal}
			return nil
		}
		if err := checkWithdrawalTransition(withdrawal.Status, target); err != nil {
			return err
		}

		now := time.Now()
		if target == constants.WithdrawalStatusCompleted {
			updated, err := decrementEarnings(affiliateRepo, affiliate.ID, withdrawal.Amount, now)
			if err != nil {
				return err
			}
			affiliate = updated
		}

		withdrawal.Status = target
		withdrawal.ProcessedAt = &now
		if txID := strings.TrimSpace(input.TransactionID); txID != "" {
			withdrawal.TransactionID = truncateString(txID, 128)
		}
		if notes := strings.TrimSpace(input.Notes); notes != "" {
			withdrawal.Notes = notes
		}
		if err := withdrawalRepo.Update(withdrawal); err != nil {
			return err
		}
		result = &ProcessWithdrawalResult{Withdrawal: withdrawal, Changed: true}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, affiliate, nil
}

// ListWithdrawals 分页查询提现记录
func (s *WithdrawalService) ListWithdrawals(ctx context.Context, input ListWithdrawalsInput) ([]models.Withdrawal, int64, error) {
	filter := repository.WithdrawalListFilter{
		Page:     input.Page,
		PageSize: input.PageSize,
	}
	if status := strings.ToLower(strings.TrimSpace(input.Status)); status != "" {
		if !isValidWithdrawalStatus(status) {
			return nil, 0, ErrWithdrawalStatusInvalid
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
	rows, total, err := s.withdrawalRepo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, wrapStorageError(err)
	}
	return rows, total, nil
}

// decrementEarnings 以比较并交换方式扣减推广收益，余额不足时拒绝
func decrementEarnings(repo repository.AffiliateRepository, affiliateID uint, amount models.Money, now time.Time) (*models.Affiliate, error) {
	for attempt := 0; attempt < earningsDecrementMaxAttempts; attempt++ {
		current, err := repo.GetByID(affiliateID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrAffiliateNotFound
		}
		if amount.Decimal.GreaterThan(current.TotalEarnings.Decimal) {
			return nil, ErrInsufficientBalance
		}
		next := models.NewMoneyFromDecimal(current.TotalEarnings.Decimal.Sub(amount.Decimal))
		ok, err := repo.CompareAndSetEarnings(affiliateID, current.TotalEarnings, next, now)
		if err != nil {
			return nil, err
		}
		if ok {
			current.TotalEarnings = next
			current.UpdatedAt = now
			return current, nil
		}
	}
	return nil, ErrBalanceContention
}

func checkWithdrawalTransition(from, to string) error {
	switch from {
	case constants.WithdrawalStatusCompleted, constants.WithdrawalStatusFailed:
		return ErrWithdrawalTerminal
	case constants.WithdrawalStatusRequested:
		return nil
	case constants.WithdrawalStatusProcessing:
		if to == constants.WithdrawalStatusRequested {
			return ErrWithdrawalTransition
		}
		return nil
	default:
		return ErrWithdrawalTransition
	}
}

func (s *WithdrawalService) dispatchNotice(ctx context.Context, affiliate *models.Affiliate, withdrawal *models.Withdrawal) {
	if s.notifier == nil || affiliate == nil || withdrawal == nil {
		return
	}
	notice := WithdrawalNotice{
		Email:         affiliate.Email,
		Status:        withdrawal.Status,
		Amount:        withdrawal.Amount,
		AffiliateCode: affiliate.AffiliateCode,
		WithdrawalID:  withdrawal.ID,
	}
	if err := s.notifier.NotifyWithdrawal(ctx, notice); err != nil {
		logger.Warnw("withdrawal_notify_failed",
			"withdrawal_id", withdrawal.ID,
			"affiliate_code", affiliate.AffiliateCode,
			"status", withdrawal.Status,
			"error", err,
		)
	}
}

func isValidWithdrawalStatus(value string) bool {
	switch value {
	case constants.WithdrawalStatusRequested, constants.WithdrawalStatusProcessing,
		constants.WithdrawalStatusCompleted, constants.WithdrawalStatusFailed:
		return true
	default:
		return false
	}
}
