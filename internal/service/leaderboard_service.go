package service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/cache"
	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	leaderboardDateLayout     = "2006-01-02"
	leaderboardComputeTimeout = 30 * time.Second
)

// LeaderboardService 推广统计重算与排行榜服务
type LeaderboardService struct {
	affiliateRepo  repository.AffiliateRepository
	visitRepo      repository.VisitRepository
	referralRepo   repository.ReferralRepository
	withdrawalRepo repository.WithdrawalRepository
	settingRepo    repository.SettingRepository
	cfg            config.LeaderboardConfig
	location       *time.Location
	group          singleflight.Group
	now            func() time.Time
}

// NewLeaderboardService 创建排行榜服务
func NewLeaderboardService(
	affiliateRepo repository.AffiliateRepository,
	visitRepo repository.VisitRepository,
	referralRepo repository.ReferralRepository,
	withdrawalRepo repository.WithdrawalRepository,
	settingRepo repository.SettingRepository,
	cfg *config.LeaderboardConfig,
) *LeaderboardService {
	normalized := config.LeaderboardConfig{}
	if cfg != nil {
		normalized = *cfg
	}
	normalized = normalized.Normalize()
	location, err := time.LoadLocation(normalized.Timezone)
	if err != nil {
		logger.Warnw("leaderboard_timezone_invalid", "timezone", normalized.Timezone, "error", err)
		location = time.UTC
	}
	return &LeaderboardService{
		affiliateRepo:  affiliateRepo,
		visitRepo:      visitRepo,
		referralRepo:   referralRepo,
		withdrawalRepo: withdrawalRepo,
		settingRepo:    settingRepo,
		cfg:            normalized,
		location:       location,
		now:            time.Now,
	}
}

// UpdateLeaderboardResult 排行榜更新结果
type UpdateLeaderboardResult struct {
	Updated           bool
	AlreadyUpdated    bool
	AffiliatesUpdated int
	Timestamp         string
}

// LeaderboardQuery 排行榜查询参数
type LeaderboardQuery struct {
	TimeFrame      string
	Limit          int
	ShowEarnings   bool
	ShowConversion bool
}

// LeaderboardEntry 排行榜条目
type LeaderboardEntry struct {
	Rank           int           `json:"rank"`
	AffiliateCode  string        `json:"affiliate_code"`
	TotalReferrals int64         `json:"total_referrals"`
	TotalEarnings  *models.Money `json:"total_earnings,omitempty"`
	ConversionRate *float64      `json:"conversion_rate,omitempty"`
}

// LeaderboardMetadata 排行榜元数据
type LeaderboardMetadata struct {
	TimeFrame      string     `json:"time_frame"`
	Limit          int        `json:"limit"`
	Count          int        `json:"count"`
	WindowStart    *time.Time `json:"window_start,omitempty"`
	GeneratedAt    time.Time  `json:"generated_at"`
	ShowEarnings   bool       `json:"show_earnings"`
	ShowConversion bool       `json:"show_conversion"`
}

// LeaderboardResult 排行榜查询结果
type LeaderboardResult struct {
	Entries  []LeaderboardEntry  `json:"entries"`
	Metadata LeaderboardMetadata `json:"metadata"`
}

// RecomputeAffiliateStats 从转化、提现与访问记录全量重算推广用户统计
func (s *LeaderboardService) RecomputeAffiliateStats(ctx context.Context, affiliateID uint) (*models.Affiliate, error) {
	if affiliateID == 0 {
		return nil, ErrAffiliateNotFound
	}
	var affiliate *models.Affiliate
	err := retryTransientStorage(ctx, func() error {
		return s.affiliateRepo.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			affiliateRepo := s.affiliateRepo.WithTx(tx)
			row, err := affiliateRepo.GetByIDForUpdate(affiliateID)
			if err != nil {
				return err
			}
			if row == nil {
				return ErrAffiliateNotFound
			}
			referrals, approved, err := s.referralRepo.WithTx(tx).SumApprovedByAffiliate(affiliateID)
			if err != nil {
				return err
			}
			paid, err := s.withdrawalRepo.WithTx(tx).SumByAffiliate(affiliateID, []string{constants.WithdrawalStatusCompleted})
			if err != nil {
				return err
			}
			visits, err := s.visitRepo.WithTx(tx).CountByAffiliate(affiliateID)
			if err != nil {
				return err
			}
			stats := repository.AffiliateStatsAggregate{
				TotalReferrals: referrals,
				TotalEarnings:  approved.Sub(paid).Round(2),
				TotalVisits:    visits,
			}
			now := s.now()
			if err := affiliateRepo.UpdateStats(affiliateID, stats, now); err != nil {
				return err
			}
			row.TotalReferrals = stats.TotalReferrals
			row.TotalEarnings = models.NewMoneyFromDecimal(stats.TotalEarnings)
			row.TotalVisits = stats.TotalVisits
			row.StatsUpdatedAt = &now
			row.UpdatedAt = now
			affiliate = row
			return nil
		})
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}
	return affiliate, nil
}

// UpdateLeaderboard 每日最多一次全量重算活跃推广用户统计，force 时无条件执行
func (s *LeaderboardService) UpdateLeaderboard(ctx context.Context, force bool) (*UpdateLeaderboardResult, error) {
	settingRepo := s.settingRepo.WithContext(ctx)
	now := s.now()
	today := now.In(s.location).Format(leaderboardDateLayout)
	timestamp := now.UTC().Format(time.RFC3339)

	value := models.JSON{"date": today, "updated_at": timestamp}
	var (
		previous       *models.Setting
		claimed        bool
		claimedVersion int64
	)
	err := retryTransientStorage(ctx, func() error {
		var err error
		previous, err = settingRepo.GetByKey(constants.SettingKeyLastLeaderboardUpdate)
		if err != nil {
			return err
		}
		if force || previous.String("date") == today {
			return nil
		}
		claimed, claimedVersion, err = s.claimLeaderboardDay(settingRepo, previous, value)
		return err
	})
	if err != nil {
		return nil, wrapStorageError(err)
	}
	if !force && previous.String("date") == today {
		return &UpdateLeaderboardResult{AlreadyUpdated: true, Timestamp: previous.String("updated_at")}, nil
	}
	if !force && !claimed {
		return &UpdateLeaderboardResult{AlreadyUpdated: true, Timestamp: timestamp}, nil
	}

	processed, sweepErr := s.sweepActiveAffiliates(ctx)
	if sweepErr != nil {
		if !force {
			s.releaseLeaderboardDay(settingRepo, previous, claimedVersion)
		}
		logger.Errorw("leaderboard_sweep_failed", "processed", processed, "force", force, "error", sweepErr)
		return nil, wrapStorageError(sweepErr)
	}
	if force {
		if _, err := settingRepo.Upsert(constants.SettingKeyLastLeaderboardUpdate, value); err != nil {
			return nil, wrapStorageError(err)
		}
	}
	logger.Infow("leaderboard_updated", "affiliates_updated", processed, "force", force, "date", today)
	return &UpdateLeaderboardResult{
		Updated:           true,
		AffiliatesUpdated: processed,
		Timestamp:         timestamp,
	}, nil
}

// claimLeaderboardDay 通过版本号抢占当日更新，返回是否抢占成功及抢占后的版本号
func (s *LeaderboardService) claimLeaderboardDay(repo repository.SettingRepository, previous *models.Setting, value models.JSON) (bool, int64, error) {
	if previous == nil {
		created, err := repo.CreateIfAbsent(constants.SettingKeyLastLeaderboardUpdate, value)
		if err != nil {
			return false, 0, err
		}
		return created, 1, nil
	}
	swapped, err := repo.CompareAndSwap(constants.SettingKeyLastLeaderboardUpdate, previous.Version, value)
	if err != nil {
		return false, 0, err
	}
	return swapped, previous.Version + 1, nil
}

// releaseLeaderboardDay 重算失败时恢复上次的更新日期，避免阻塞当日重试
func (s *LeaderboardService) releaseLeaderboardDay(repo repository.SettingRepository, previous *models.Setting, claimedVersion int64) {
	restore := models.JSON{"date": "", "updated_at": ""}
	if previous != nil && previous.ValueJSON != nil {
		restore = previous.ValueJSON
	}
	swapped, err := repo.CompareAndSwap(constants.SettingKeyLastLeaderboardUpdate, claimedVersion, restore)
	if err != nil || !swapped {
		logger.Warnw("leaderboard_claim_release_failed",
			"claimed_version", claimedVersion,
			"swapped", swapped,
			"error", err,
		)
	}
}

// sweepActiveAffiliates 按主键游标分批并发重算活跃推广用户
func (s *LeaderboardService) sweepActiveAffiliates(ctx context.Context) (int, error) {
	var processed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.SweepConcurrency)

	affiliateRepo := s.affiliateRepo.WithContext(ctx)
	var cursor uint
	for {
		if err := gctx.Err(); err != nil {
			break
		}
		var ids []uint
		err := retryTransientStorage(gctx, func() error {
			var err error
			ids, err = affiliateRepo.ListActiveIDsAfter(cursor, s.cfg.SweepBatchSize)
			return err
		})
		if err != nil {
			_ = g.Wait()
			return int(processed.Load()), err
		}
		for _, id := range ids {
			g.Go(func() error {
				if _, err := s.RecomputeAffiliateStats(gctx, id); err != nil {
					if errors.Is(err, ErrAffiliateNotFound) {
						return nil
					}
					return fmt.Errorf("recompute affiliate %d: %w", id, err)
				}
				processed.Add(1)
				return nil
			})
		}
		if len(ids) < s.cfg.SweepBatchSize {
			break
		}
		cursor = ids[len(ids)-1]
	}
	if err := g.Wait(); err != nil {
		return int(processed.Load()), err
	}
	if err := ctx.Err(); err != nil {
		return int(processed.Load()), err
	}
	return int(processed.Load()), nil
}

// GetPublicLeaderboard 查询公开排行榜，结果按设置版本缓存
func (s *LeaderboardService) GetPublicLeaderboard(ctx context.Context, query LeaderboardQuery) (*LeaderboardResult, error) {
	normalized, err := s.normalizeQuery(query)
	if err != nil {
		return nil, err
	}
	windowStart := s.windowStart(normalized.TimeFrame)

	var version int64
	setting, err := s.settingRepo.WithContext(ctx).GetByKey(constants.SettingKeyLastLeaderboardUpdate)
	if err != nil {
		return nil, wrapStorageError(err)
	}
	if setting != nil {
		version = setting.Version
	}
	key := leaderboardCacheKey(version, normalized, windowStart)

	var cached LeaderboardResult
	hit, err := cache.GetJSON(ctx, key, &cached)
	if err != nil {
		logger.Warnw("leaderboard_cache_get_failed", "key", key, "error", err)
	}
	if hit {
		return &cached, nil
	}

	value, err, _ := s.group.Do(key, func() (interface{}, error) {
		// 共享调用不受首个请求取消影响
		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), leaderboardComputeTimeout)
		defer cancel()
		entries := make([]LeaderboardEntry, 0, normalized.Limit)
		for entry, err := range s.IterPublicLeaderboard(computeCtx, normalized) {
			if err != nil {
				return nil, err
			}
			entries = append(entries, entry)
		}
		result := &LeaderboardResult{
			Entries: entries,
			Metadata: LeaderboardMetadata{
				TimeFrame:      normalized.TimeFrame,
				Limit:          normalized.Limit,
				Count:          len(entries),
				WindowStart:    windowStart,
				GeneratedAt:    s.now().UTC(),
				ShowEarnings:   normalized.ShowEarnings,
				ShowConversion: normalized.ShowConversion,
			},
		}
		ttl := time.Duration(s.cfg.CacheTTLSeconds) * time.Second
		if err := cache.SetJSON(computeCtx, key, result, ttl); err != nil {
			logger.Warnw("leaderboard_cache_set_failed", "key", key, "error", err)
		}
		return result, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*LeaderboardResult), nil
}

// IterPublicLeaderboard 按页惰性读取排行榜条目，直到达到 limit
func (s *LeaderboardService) IterPublicLeaderboard(ctx context.Context, query LeaderboardQuery) iter.Seq2[LeaderboardEntry, error] {
	return func(yield func(LeaderboardEntry, error) bool) {
		normalized, err := s.normalizeQuery(query)
		if err != nil {
			yield(LeaderboardEntry{}, err)
			return
		}
		windowStart := s.windowStart(normalized.TimeFrame)
		emitted := 0
		for emitted < normalized.Limit {
			size := min(s.cfg.PageSize, normalized.Limit-emitted)
			page, err := s.loadLeaderboardPage(ctx, windowStart, emitted, size)
			if err != nil {
				yield(LeaderboardEntry{}, wrapStorageError(err))
				return
			}
			for _, row := range page {
				emitted++
				entry := LeaderboardEntry{
					Rank:           emitted,
					AffiliateCode:  row.code,
					TotalReferrals: row.referrals,
				}
				if normalized.ShowEarnings {
					earnings := row.earnings
					entry.TotalEarnings = &earnings
				}
				if normalized.ShowConversion {
					rate := calcConversionRate(row.referrals, row.visits)
					entry.ConversionRate = &rate
				}
				if !yield(entry, nil) {
					return
				}
			}
			if len(page) < size {
				return
			}
		}
	}
}

type leaderboardRow struct {
	code      string
	referrals int64
	earnings  models.Money
	visits    int64
}

func (s *LeaderboardService) loadLeaderboardPage(ctx context.Context, windowStart *time.Time, offset, limit int) ([]leaderboardRow, error) {
	affiliateRepo := s.affiliateRepo.WithContext(ctx)
	if windowStart == nil {
		affiliates, err := affiliateRepo.ListActiveByEarnings(offset, limit)
		if err != nil {
			return nil, err
		}
		rows := make([]leaderboardRow, 0, len(affiliates))
		for _, item := range affiliates {
			rows = append(rows, leaderboardRow{
				code:      item.AffiliateCode,
				referrals: item.TotalReferrals,
				earnings:  item.TotalEarnings,
				visits:    item.TotalVisits,
			})
		}
		return rows, nil
	}

	// sqlite 按字符串比较时间，统一以 UTC 传参
	since := windowStart.UTC()
	stats, err := affiliateRepo.ListActiveByWindowEarnings(since, offset, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(stats))
	for _, item := range stats {
		ids = append(ids, item.AffiliateID)
	}
	visits, err := s.visitRepo.WithContext(ctx).CountByAffiliates(ids, &since)
	if err != nil {
		return nil, err
	}
	rows := make([]leaderboardRow, 0, len(stats))
	for _, item := range stats {
		rows = append(rows, leaderboardRow{
			code:      item.AffiliateCode,
			referrals: item.Referrals,
			earnings:  models.NewMoneyFromDecimal(item.Earnings),
			visits:    visits[item.AffiliateID],
		})
	}
	return rows, nil
}

func (s *LeaderboardService) normalizeQuery(query LeaderboardQuery) (LeaderboardQuery, error) {
	timeFrame := strings.ToLower(strings.TrimSpace(query.TimeFrame))
	if timeFrame == "" {
		timeFrame = constants.LeaderboardTimeFrameAll
	}
	switch timeFrame {
	case constants.LeaderboardTimeFrameAll, constants.LeaderboardTimeFrameMonth, constants.LeaderboardTimeFrameQuarter:
	default:
		return LeaderboardQuery{}, ErrTimeFrameInvalid
	}
	limit := query.Limit
	if limit == 0 {
		limit = s.cfg.DefaultLimit
	}
	limit = max(1, min(limit, s.cfg.MaxLimit))
	return LeaderboardQuery{
		TimeFrame:      timeFrame,
		Limit:          limit,
		ShowEarnings:   query.ShowEarnings,
		ShowConversion: query.ShowConversion,
	}, nil
}

// windowStart 返回时间窗口起点，all 返回 nil
func (s *LeaderboardService) windowStart(timeFrame string) *time.Time {
	now := s.now().In(s.location)
	var start time.Time
	switch timeFrame {
	case constants.LeaderboardTimeFrameMonth:
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.location)
	case constants.LeaderboardTimeFrameQuarter:
		firstMonth := time.Month((int(now.Month())-1)/3*3 + 1)
		start = time.Date(now.Year(), firstMonth, 1, 0, 0, 0, 0, s.location)
	default:
		return nil
	}
	return &start
}

func leaderboardCacheKey(version int64, query LeaderboardQuery, windowStart *time.Time) string {
	window := "all"
	if windowStart != nil {
		window = windowStart.Format(leaderboardDateLayout)
	}
	return fmt.Sprintf("leaderboard:v%d:%s:%s:%d:%t:%t",
		version, query.TimeFrame, window, query.Limit, query.ShowEarnings, query.ShowConversion)
}

func calcConversionRate(referrals, visits int64) float64 {
	if visits <= 0 || referrals <= 0 {
		return 0
	}
	value := (float64(referrals) / float64(visits)) * 100
	return math.Round(value*100) / 100
}
