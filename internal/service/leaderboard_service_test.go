package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"

	"github.com/shopspring/decimal"
)

func approveLeaderboardTestReferral(t *testing.T, env *ledgerTestEnv, code, amount string) *models.Referral {
	t.Helper()
	ctx := context.Background()
	created, err := env.referrals.CreateReferral(ctx, CreateReferralInput{
		AffiliateCode:  code,
		ConversionType: constants.ConversionTypePurchase,
		OrderAmount:    moneyPtr(amount),
	})
	if err != nil {
		t.Fatalf("create referral for %s failed: %v", code, err)
	}
	if _, err := env.referrals.ProcessConversion(ctx, ProcessConversionInput{
		ReferralID: created.Referral.ID,
		Status:     constants.ReferralStatusApproved,
	}); err != nil {
		t.Fatalf("approve referral for %s failed: %v", code, err)
	}
	return created.Referral
}

func TestUpdateLeaderboardRunsOncePerDay(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	for _, code := range []string{"DAY001", "DAY002", "DAY003"} {
		createLedgerTestAffiliate(t, env, code, "10")
	}
	if _, err := env.affiliates.UpdateAffiliateStatus(ctx, "DAY003", constants.AffiliateStatusSuspended); err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	day := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	env.leaderboard.now = func() time.Time { return day }

	first, err := env.leaderboard.UpdateLeaderboard(ctx, false)
	if err != nil {
		t.Fatalf("first update failed: %v", err)
	}
	if !first.Updated || first.AffiliatesUpdated != 2 {
		t.Fatalf("expected 2 active affiliates swept, got %+v", first)
	}

	second, err := env.leaderboard.UpdateLeaderboard(ctx, false)
	if err != nil {
		t.Fatalf("second update failed: %v", err)
	}
	if second.Updated || !second.AlreadyUpdated {
		t.Fatalf("second update on the same day must be skipped, got %+v", second)
	}

	forced, err := env.leaderboard.UpdateLeaderboard(ctx, true)
	if err != nil {
		t.Fatalf("forced update failed: %v", err)
	}
	if !forced.Updated || forced.AffiliatesUpdated != 2 {
		t.Fatalf("forced update must always sweep, got %+v", forced)
	}

	day = day.Add(24 * time.Hour)
	next, err := env.leaderboard.UpdateLeaderboard(ctx, false)
	if err != nil {
		t.Fatalf("next day update failed: %v", err)
	}
	if !next.Updated {
		t.Fatalf("expected next day to sweep, got %+v", next)
	}

	setting, err := env.settingRepo.GetByKey(constants.SettingKeyLastLeaderboardUpdate)
	if err != nil || setting == nil {
		t.Fatalf("load setting failed: %v", err)
	}
	if setting.String("date") != "2026-03-15" {
		t.Fatalf("expected stored date 2026-03-15, got %q", setting.String("date"))
	}
}

type failingSweepRepo struct {
	repository.AffiliateRepository
}

func (r failingSweepRepo) WithContext(context.Context) repository.AffiliateRepository {
	return r
}

func (r failingSweepRepo) ListActiveIDsAfter(uint, int) ([]uint, error) {
	return nil, errors.New("database is locked")
}

func TestUpdateLeaderboardReleasesClaimOnFailure(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	createLedgerTestAffiliate(t, env, "ROLL01", "10")

	broken := NewLeaderboardService(
		failingSweepRepo{AffiliateRepository: env.affiliateRepo},
		env.visitRepo, env.referralRepo, env.withdrawalRepo, env.settingRepo,
		&config.LeaderboardConfig{SweepConcurrency: 1},
	)
	_, err := broken.UpdateLeaderboard(ctx, false)
	if !errors.Is(err, ErrTransientStorage) {
		t.Fatalf("expected transient sweep failure, got %v", err)
	}

	setting, err := env.settingRepo.GetByKey(constants.SettingKeyLastLeaderboardUpdate)
	if err != nil {
		t.Fatalf("load setting failed: %v", err)
	}
	if setting.String("date") != "" {
		t.Fatalf("failed sweep must release today's claim, got %q", setting.String("date"))
	}

	retry, err := env.leaderboard.UpdateLeaderboard(ctx, false)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if !retry.Updated || retry.AffiliatesUpdated != 1 {
		t.Fatalf("retry after failure must sweep, got %+v", retry)
	}
}

func TestGetPublicLeaderboardAllTime(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	createLedgerTestAffiliate(t, env, "TOP001", "10")
	createLedgerTestAffiliate(t, env, "TOP002", "10")
	createLedgerTestAffiliate(t, env, "TOP003", "10")
	approveLeaderboardTestReferral(t, env, "TOP002", "500")
	approveLeaderboardTestReferral(t, env, "TOP001", "100")
	for i := 0; i < 4; i++ {
		if _, err := env.visits.RecordVisit(ctx, RecordVisitInput{AffiliateCode: "TOP001"}); err != nil {
			t.Fatalf("record visit failed: %v", err)
		}
	}
	if _, err := env.leaderboard.UpdateLeaderboard(ctx, true); err != nil {
		t.Fatalf("update leaderboard failed: %v", err)
	}

	result, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{ShowEarnings: true, ShowConversion: true})
	if err != nil {
		t.Fatalf("get leaderboard failed: %v", err)
	}
	if result.Metadata.TimeFrame != constants.LeaderboardTimeFrameAll || result.Metadata.Limit != 10 {
		t.Fatalf("unexpected metadata %+v", result.Metadata)
	}
	if len(result.Entries) != 3 || result.Metadata.Count != 3 {
		t.Fatalf("expected 3 entries, got %d", len(result.Entries))
	}
	top := result.Entries[0]
	if top.Rank != 1 || top.AffiliateCode != "TOP002" {
		t.Fatalf("expected TOP002 first, got %+v", top)
	}
	if top.TotalEarnings == nil || !top.TotalEarnings.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("expected earnings 50, got %v", top.TotalEarnings)
	}
	if top.ConversionRate == nil || *top.ConversionRate != 0 {
		t.Fatalf("expected conversion 0 without visits, got %v", top.ConversionRate)
	}
	second := result.Entries[1]
	if second.AffiliateCode != "TOP001" || second.ConversionRate == nil || *second.ConversionRate != 25 {
		t.Fatalf("expected TOP001 with 25%% conversion, got %+v", second)
	}

	hidden, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{Limit: 2})
	if err != nil {
		t.Fatalf("get hidden leaderboard failed: %v", err)
	}
	if len(hidden.Entries) != 2 {
		t.Fatalf("expected limit 2 respected, got %d", len(hidden.Entries))
	}
	for _, entry := range hidden.Entries {
		if entry.TotalEarnings != nil || entry.ConversionRate != nil {
			t.Fatalf("hidden fields must be omitted, got %+v", entry)
		}
	}
}

func TestGetPublicLeaderboardMonthWindow(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	createLedgerTestAffiliate(t, env, "WIN001", "10")
	createLedgerTestAffiliate(t, env, "OLD001", "10")
	approveLeaderboardTestReferral(t, env, "WIN001", "100")
	old := approveLeaderboardTestReferral(t, env, "OLD001", "900")

	now := time.Now()
	lastMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	if err := env.db.Model(&models.Referral{}).Where("id = ?", old.ID).Update("created_at", lastMonth).Error; err != nil {
		t.Fatalf("backdate referral failed: %v", err)
	}

	month, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{TimeFrame: "month", ShowEarnings: true})
	if err != nil {
		t.Fatalf("get month leaderboard failed: %v", err)
	}
	if len(month.Entries) != 1 || month.Entries[0].AffiliateCode != "WIN001" {
		t.Fatalf("expected only WIN001 in month window, got %+v", month.Entries)
	}
	if month.Metadata.WindowStart == nil {
		t.Fatalf("expected window start in metadata")
	}

	all, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{TimeFrame: "all"})
	if err != nil {
		t.Fatalf("get all leaderboard failed: %v", err)
	}
	if len(all.Entries) != 2 || all.Entries[0].AffiliateCode != "OLD001" {
		t.Fatalf("expected OLD001 first all-time, got %+v", all.Entries)
	}
}

func TestGetPublicLeaderboardQueryValidation(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()

	if _, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{TimeFrame: "week"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected invalid timeFrame rejected, got %v", err)
	}
	clamped, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{Limit: 500})
	if err != nil {
		t.Fatalf("get clamped leaderboard failed: %v", err)
	}
	if clamped.Metadata.Limit != 100 {
		t.Fatalf("expected limit clamped to 100, got %d", clamped.Metadata.Limit)
	}
	negative, err := env.leaderboard.GetPublicLeaderboard(ctx, LeaderboardQuery{Limit: -3})
	if err != nil {
		t.Fatalf("get negative limit leaderboard failed: %v", err)
	}
	if negative.Metadata.Limit != 1 {
		t.Fatalf("expected limit clamped to 1, got %d", negative.Metadata.Limit)
	}
}

func TestIterPublicLeaderboardPagesLazily(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	for _, code := range []string{"PG0001", "PG0002", "PG0003", "PG0004", "PG0005"} {
		createLedgerTestAffiliate(t, env, code, "10")
	}

	var ranks []int
	for entry, err := range env.leaderboard.IterPublicLeaderboard(ctx, LeaderboardQuery{Limit: 3}) {
		if err != nil {
			t.Fatalf("iterate failed: %v", err)
		}
		ranks = append(ranks, entry.Rank)
	}
	if len(ranks) != 3 || ranks[0] != 1 || ranks[2] != 3 {
		t.Fatalf("expected ranks 1..3 across pages, got %v", ranks)
	}

	seen := 0
	for _, err := range env.leaderboard.IterPublicLeaderboard(ctx, LeaderboardQuery{Limit: 5}) {
		if err != nil {
			t.Fatalf("iterate failed: %v", err)
		}
		seen++
		break
	}
	if seen != 1 {
		t.Fatalf("expected early stop after 1 entry, got %d", seen)
	}

	for _, err := range env.leaderboard.IterPublicLeaderboard(ctx, LeaderboardQuery{TimeFrame: "decade"}) {
		if !errors.Is(err, ErrTimeFrameInvalid) {
			t.Fatalf("expected invalid timeFrame from iterator, got %v", err)
		}
	}
}

func TestLeaderboardWindowStart(t *testing.T) {
	env := setupLedgerServiceTest(t)
	env.leaderboard.now = func() time.Time { return time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC) }

	if got := env.leaderboard.windowStart(constants.LeaderboardTimeFrameAll); got != nil {
		t.Fatalf("all-time window must be nil, got %v", got)
	}
	month := env.leaderboard.windowStart(constants.LeaderboardTimeFrameMonth)
	if month == nil || !month.Equal(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month start %v", month)
	}
	quarter := env.leaderboard.windowStart(constants.LeaderboardTimeFrameQuarter)
	if quarter == nil || !quarter.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected quarter start %v", quarter)
	}
}

func TestCalcConversionRate(t *testing.T) {
	cases := []struct {
		referrals, visits int64
		want              float64
	}{
		{0, 0, 0},
		{3, 0, 0},
		{1, 4, 25},
		{1, 3, 33.33},
		{2, 3, 66.67},
	}
	for _, tc := range cases {
		if got := calcConversionRate(tc.referrals, tc.visits); got != tc.want {
			t.Fatalf("calcConversionRate(%d, %d) = %v, want %v", tc.referrals, tc.visits, got, tc.want)
		}
	}
}

func TestUpdateLeaderboardConcurrentCallsSweepOnce(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	for _, code := range []string{"CON001", "CON002", "CON003"} {
		createLedgerTestAffiliate(t, env, code, "10")
	}

	const workers = 6
	var wg sync.WaitGroup
	results := make([]*UpdateLeaderboardResult, workers)
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.leaderboard.UpdateLeaderboard(ctx, false)
		}(i)
	}
	close(start)
	wg.Wait()

	updated, skipped := 0, 0
	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d failed: %v", i, err)
		}
		switch {
		case results[i].Updated:
			updated++
			if results[i].AffiliatesUpdated != 3 {
				t.Fatalf("expected full sweep of 3 affiliates, got %+v", results[i])
			}
		case results[i].AlreadyUpdated:
			skipped++
		}
	}
	if updated != 1 || skipped != workers-1 {
		t.Fatalf("expected one sweep and %d skips, got %d sweeps and %d skips", workers-1, updated, skipped)
	}
}

type slowLeaderboardRepo struct {
	repository.AffiliateRepository
	ctx     context.Context
	started chan struct{}
	release chan struct{}
}

func (r slowLeaderboardRepo) WithContext(ctx context.Context) repository.AffiliateRepository {
	r.AffiliateRepository = r.AffiliateRepository.WithContext(ctx)
	r.ctx = ctx
	return r
}

func (r slowLeaderboardRepo) ListActiveByEarnings(offset, limit int) ([]models.Affiliate, error) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-r.release
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	return r.AffiliateRepository.ListActiveByEarnings(offset, limit)
}

func TestGetPublicLeaderboardIgnoresCallerCancel(t *testing.T) {
	env := setupLedgerServiceTest(t)
	createLedgerTestAffiliate(t, env, "SLOW01", "10")

	slow := slowLeaderboardRepo{
		AffiliateRepository: env.affiliateRepo,
		ctx:                 context.Background(),
		started:             make(chan struct{}, 1),
		release:             make(chan struct{}),
	}
	svc := NewLeaderboardService(slow, env.visitRepo, env.referralRepo, env.withdrawalRepo, env.settingRepo,
		&config.LeaderboardConfig{PageSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	type outcome struct {
		result *LeaderboardResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := svc.GetPublicLeaderboard(ctx, LeaderboardQuery{})
		done <- outcome{result, err}
	}()

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("leaderboard query never started")
	}
	cancel()
	close(slow.release)

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("shared computation must not inherit caller cancel, got %v", got.err)
		}
		if len(got.result.Entries) != 1 || got.result.Entries[0].AffiliateCode != "SLOW01" {
			t.Fatalf("unexpected entries %+v", got.result.Entries)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("leaderboard query did not finish")
	}
}

func TestGetPublicLeaderboardMonthWindowOffsetZone(t *testing.T) {
	env := setupLedgerServiceTest(t)
	ctx := context.Background()
	createLedgerTestAffiliate(t, env, "EDGE01", "10")
	createLedgerTestAffiliate(t, env, "EDGE02", "10")
	inside := approveLeaderboardTestReferral(t, env, "EDGE01", "100")
	outside := approveLeaderboardTestReferral(t, env, "EDGE02", "900")

	// 2026-03-01 00:00 +08:00 即 2026-02-28 16:00 UTC
	backdate := func(model interface{}, id uint, at time.Time) {
		t.Helper()
		if err := env.db.Model(model).Where("id = ?", id).Update("created_at", at).Error; err != nil {
			t.Fatalf("backdate failed: %v", err)
		}
	}
	backdate(&models.Referral{}, inside.ID, time.Date(2026, 2, 28, 18, 0, 0, 0, time.UTC))
	backdate(&models.Referral{}, outside.ID, time.Date(2026, 2, 28, 15, 0, 0, 0, time.UTC))
	for _, at := range []time.Time{
		time.Date(2026, 2, 28, 17, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 15, 30, 0, 0, time.UTC),
	} {
		visit, err := env.visits.RecordVisit(ctx, RecordVisitInput{AffiliateCode: "EDGE01"})
		if err != nil {
			t.Fatalf("record visit failed: %v", err)
		}
		backdate(&models.Visit{}, visit.ID, at)
	}

	svc := NewLeaderboardService(env.affiliateRepo, env.visitRepo, env.referralRepo, env.withdrawalRepo, env.settingRepo,
		&config.LeaderboardConfig{PageSize: 10})
	svc.location = time.FixedZone("UTC+8", 8*60*60)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 0, 0, svc.location) }

	result, err := svc.GetPublicLeaderboard(ctx, LeaderboardQuery{TimeFrame: "month", ShowEarnings: true, ShowConversion: true})
	if err != nil {
		t.Fatalf("get month leaderboard failed: %v", err)
	}
	if len(result.Entries) != 1 || result.Entries[0].AffiliateCode != "EDGE01" {
		t.Fatalf("expected only EDGE01 inside the local month, got %+v", result.Entries)
	}
	rate := result.Entries[0].ConversionRate
	if rate == nil || *rate != 100 {
		t.Fatalf("expected one windowed visit and rate 100, got %v", rate)
	}
}
