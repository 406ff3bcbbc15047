package main

import (
	"context"
	"errors"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/shopspring/decimal"
)

type seedAffiliate struct {
	code  string
	name  string
	email string
	rate  string
}

var seedAffiliates = []seedAffiliate{
	{code: "SMX10", name: "SMX Partner", email: "partner@smx.example.com", rate: "10"},
	{code: "DEMO05", name: "Demo Blogger", email: "blogger@demo.example.com", rate: "5"},
	{code: "TRIAL15", name: "Trial Reseller", email: "", rate: "15"},
}

func main() {
	// 连接数据库
	cfg := config.Load()
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer logger.Sync()
	stdLog := logger.StdLogger()
	if err := models.InitDB(cfg.Database.Driver, cfg.Database.DSN, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
		LogLevel:               cfg.Database.LogLevel,
	}); err != nil {
		stdLog.Fatalf("Failed to connect database: %v", err)
	}

	// 自动迁移
	if err := models.AutoMigrate(); err != nil {
		stdLog.Fatalf("Failed to migrate database: %v", err)
	}

	ctx := context.Background()
	affiliateService := service.NewAffiliateService(repository.NewAffiliateRepository(models.DB))
	for _, item := range seedAffiliates {
		rate, err := decimal.NewFromString(item.rate)
		if err != nil {
			stdLog.Fatalf("Invalid commission rate for %s: %v", item.code, err)
		}
		affiliate, err := affiliateService.CreateAffiliate(ctx, service.CreateAffiliateInput{
			AffiliateCode:  item.code,
			Name:           item.name,
			Email:          item.email,
			CommissionRate: models.NewMoneyFromDecimal(rate),
		})
		if errors.Is(err, service.ErrAffiliateCodeTaken) {
			stdLog.Printf("Affiliate already exists: %s", item.code)
			continue
		}
		if err != nil {
			stdLog.Printf("Failed to create affiliate %s: %v", item.code, err)
			continue
		}
		stdLog.Printf("Created affiliate: %s (rate %s%%)", affiliate.AffiliateCode, affiliate.CommissionRate.String())
	}

	stdLog.Println("Seed completed")
}
