package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/constants"
	"github.com/dujiao-next/affiliate-ledger/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupLedgerRepositoryTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ledger_repo_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("auto migrate failed: %v", err)
	}
	return db
}

func createRepoTestAffiliate(t *testing.T, db *gorm.DB, code, status string, earnings string) models.Affiliate {
	t.Helper()
	row := models.Affiliate{
		AffiliateCode:  code,
		Email:          code + "@example.com",
		CommissionRate: models.NewMoneyFromDecimal(decimal.NewFromInt(10)),
		Status:         status,
		TotalEarnings:  models.NewMoneyFromDecimal(decimal.RequireFromString(earnings)),
	}
	if err := db.Create(&row).Error; err != nil {
		t.Fatalf("create affiliate failed: %v", err)
	}
	return row
}

func TestAffiliateRepositoryGetByCodeNormalizes(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewAffiliateRepository(db)
	created := createRepoTestAffiliate(t, db, "SMX10", constants.AffiliateStatusActive, "0")

	got, err := repo.GetByCode("  smx10 ")
	if err != nil {
		t.Fatalf("get by code failed: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Fatalf("expected affiliate %d, got %+v", created.ID, got)
	}

	missing, err := repo.GetByCode("NOPE")
	if err != nil {
		t.Fatalf("get missing code failed: %v", err)
	}
	if missing != nil {
		t.Fatalf("expected nil for unknown code, got %+v", missing)
	}
}

func TestAffiliateRepositoryCompareAndSetEarnings(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewAffiliateRepository(db)
	row := createRepoTestAffiliate(t, db, "CAS001", constants.AffiliateStatusActive, "80.25")

	next := models.NewMoneyFromDecimal(decimal.RequireFromString("30.25"))
	ok, err := repo.CompareAndSetEarnings(row.ID, row.TotalEarnings, next, time.Now())
	if err != nil || !ok {
		t.Fatalf("cas should succeed, ok=%v err=%v", ok, err)
	}
	ok, err = repo.CompareAndSetEarnings(row.ID, row.TotalEarnings, models.ZeroMoney(), time.Now())
	if err != nil {
		t.Fatalf("stale cas failed: %v", err)
	}
	if ok {
		t.Fatalf("stale cas must not apply")
	}

	reloaded, err := repo.GetByID(row.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.TotalEarnings.Equal(next.Decimal) {
		t.Fatalf("earnings want %s got %s", next.String(), reloaded.TotalEarnings.String())
	}
}

func TestAffiliateRepositoryListActiveByEarnings(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewAffiliateRepository(db)
	createRepoTestAffiliate(t, db, "LOW001", constants.AffiliateStatusActive, "5")
	high := createRepoTestAffiliate(t, db, "HIGH01", constants.AffiliateStatusActive, "500")
	createRepoTestAffiliate(t, db, "SUSP01", constants.AffiliateStatusSuspended, "9000")

	rows, err := repo.ListActiveByEarnings(0, 10)
	if err != nil {
		t.Fatalf("list by earnings failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 active affiliates, got %d", len(rows))
	}
	if rows[0].ID != high.ID {
		t.Fatalf("expected highest earner first, got %s", rows[0].AffiliateCode)
	}

	ids, err := repo.ListActiveIDsAfter(0, 1)
	if err != nil {
		t.Fatalf("list active ids failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected batch of 1, got %d", len(ids))
	}
	rest, err := repo.ListActiveIDsAfter(ids[0], 10)
	if err != nil {
		t.Fatalf("list remaining ids failed: %v", err)
	}
	if len(rest) != 1 || rest[0] <= ids[0] {
		t.Fatalf("unexpected cursor page: %v after %d", rest, ids[0])
	}
}

func TestVisitRepositoryMarkConvertedOnlyOnce(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewVisitRepository(db)
	affiliate := createRepoTestAffiliate(t, db, "VIS001", constants.AffiliateStatusActive, "0")

	now := time.Now()
	older := &models.Visit{AffiliateID: affiliate.ID, CreatedAt: now.Add(-time.Hour)}
	newer := &models.Visit{AffiliateID: affiliate.ID, CreatedAt: now}
	if err := repo.Create(older); err != nil {
		t.Fatalf("create older visit failed: %v", err)
	}
	if err := repo.Create(newer); err != nil {
		t.Fatalf("create newer visit failed: %v", err)
	}

	latest, err := repo.FindLatestUnconverted(affiliate.ID)
	if err != nil || latest == nil {
		t.Fatalf("find latest failed: %v", err)
	}
	if latest.ID != newer.ID {
		t.Fatalf("expected newest visit %d, got %d", newer.ID, latest.ID)
	}

	ok, err := repo.MarkConverted(latest.ID, 7, now)
	if err != nil || !ok {
		t.Fatalf("first mark should win, ok=%v err=%v", ok, err)
	}
	ok, err = repo.MarkConverted(latest.ID, 8, now)
	if err != nil {
		t.Fatalf("second mark failed: %v", err)
	}
	if ok {
		t.Fatalf("converted visit must not be claimed twice")
	}

	next, err := repo.FindLatestUnconverted(affiliate.ID)
	if err != nil || next == nil || next.ID != older.ID {
		t.Fatalf("expected older visit next, got %+v err=%v", next, err)
	}

	counts, err := repo.CountByAffiliates([]uint{affiliate.ID}, nil)
	if err != nil {
		t.Fatalf("count visits failed: %v", err)
	}
	if counts[affiliate.ID] != 2 {
		t.Fatalf("expected 2 visits, got %d", counts[affiliate.ID])
	}
	since := now.Add(-time.Minute)
	windowed, err := repo.CountByAffiliates([]uint{affiliate.ID}, &since)
	if err != nil {
		t.Fatalf("count windowed visits failed: %v", err)
	}
	if windowed[affiliate.ID] != 1 {
		t.Fatalf("expected 1 windowed visit, got %d", windowed[affiliate.ID])
	}
}

func TestReferralRepositorySumApprovedByAffiliate(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewReferralRepository(db)
	affiliate := createRepoTestAffiliate(t, db, "REF001", constants.AffiliateStatusActive, "0")

	for _, item := range []struct {
		amount string
		status string
	}{
		{"30", constants.ReferralStatusApproved},
		{"12.50", constants.ReferralStatusApproved},
		{"99", constants.ReferralStatusPending},
		{"45", constants.ReferralStatusRejected},
	} {
		row := &models.Referral{
			AffiliateID:      affiliate.ID,
			AffiliateCode:    affiliate.AffiliateCode,
			CommissionAmount: models.NewMoneyFromDecimal(decimal.RequireFromString(item.amount)),
			ConversionType:   constants.ConversionTypePurchase,
			Status:           item.status,
		}
		if err := repo.Create(row); err != nil {
			t.Fatalf("create referral failed: %v", err)
		}
	}

	count, total, err := repo.SumApprovedByAffiliate(affiliate.ID)
	if err != nil {
		t.Fatalf("sum approved failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("approved count want 2 got %d", count)
	}
	if !total.Equal(decimal.RequireFromString("42.50")) {
		t.Fatalf("approved total want 42.50 got %s", total.String())
	}

	rows, listTotal, err := repo.List(ReferralListFilter{AffiliateID: affiliate.ID, Status: constants.ReferralStatusPending, Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("list referrals failed: %v", err)
	}
	if listTotal != 1 || len(rows) != 1 {
		t.Fatalf("pending list want 1 got total=%d len=%d", listTotal, len(rows))
	}
}

func TestWithdrawalRepositorySumByAffiliate(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewWithdrawalRepository(db)
	affiliate := createRepoTestAffiliate(t, db, "WDR001", constants.AffiliateStatusActive, "0")

	for _, item := range []struct {
		amount string
		status string
	}{
		{"10", constants.WithdrawalStatusCompleted},
		{"15", constants.WithdrawalStatusCompleted},
		{"40", constants.WithdrawalStatusFailed},
		{"5", constants.WithdrawalStatusRequested},
	} {
		row := &models.Withdrawal{
			AffiliateID: affiliate.ID,
			Amount:      models.NewMoneyFromDecimal(decimal.RequireFromString(item.amount)),
			Status:      item.status,
		}
		if err := repo.Create(row); err != nil {
			t.Fatalf("create withdrawal failed: %v", err)
		}
	}

	completed, err := repo.SumByAffiliate(affiliate.ID, []string{constants.WithdrawalStatusCompleted})
	if err != nil {
		t.Fatalf("sum completed failed: %v", err)
	}
	if !completed.Equal(decimal.NewFromInt(25)) {
		t.Fatalf("completed total want 25 got %s", completed.String())
	}
}

func TestSettingRepositoryCompareAndSwap(t *testing.T) {
	db := setupLedgerRepositoryTest(t)
	repo := NewSettingRepository(db)
	key := constants.SettingKeyLastLeaderboardUpdate

	created, err := repo.CreateIfAbsent(key, models.JSON{"date": "2026-01-01"})
	if err != nil || !created {
		t.Fatalf("create setting failed: created=%v err=%v", created, err)
	}
	created, err = repo.CreateIfAbsent(key, models.JSON{"date": "2026-01-02"})
	if err != nil {
		t.Fatalf("duplicate create failed: %v", err)
	}
	if created {
		t.Fatalf("duplicate create must be ignored")
	}

	swapped, err := repo.CompareAndSwap(key, 1, models.JSON{"date": "2026-01-03"})
	if err != nil || !swapped {
		t.Fatalf("cas should win: swapped=%v err=%v", swapped, err)
	}
	swapped, err = repo.CompareAndSwap(key, 1, models.JSON{"date": "2026-01-04"})
	if err != nil {
		t.Fatalf("stale cas failed: %v", err)
	}
	if swapped {
		t.Fatalf("stale version must lose")
	}

	setting, err := repo.Upsert(key, models.JSON{"date": "2026-01-05"})
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if setting.Version != 3 || setting.String("date") != "2026-01-05" {
		t.Fatalf("unexpected setting after upsert: %+v", setting)
	}
}
