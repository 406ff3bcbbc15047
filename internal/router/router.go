package router

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/cache"
	"github.com/dujiao-next/affiliate-ledger/internal/config"
	adminhandlers "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/admin"
	publichandlers "github.com/dujiao-next/affiliate-ledger/internal/http/handlers/public"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	r := gin.New()

	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)

	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "afl"
	}
	redisClient := cache.Client()
	leaderboardRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:leaderboard", redisPrefix),
		WindowSeconds: cfg.Security.RateLimit.Leaderboard.WindowSeconds,
		MaxRequests:   cfg.Security.RateLimit.Leaderboard.MaxRequests,
		Message:       "Too many leaderboard requests",
	}
	intakeRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:intake", redisPrefix),
		WindowSeconds: cfg.Security.RateLimit.Intake.WindowSeconds,
		MaxRequests:   cfg.Security.RateLimit.Intake.MaxRequests,
		Message:       "Too many tracking requests",
	}
	intakeLimit := RateLimitMiddleware(redisClient, intakeRule, KeyByIPAndJSONField("affiliate_code"))

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(logger.Z()))
	r.Use(CORSMiddleware(cfg.CORS))
	r.Use(TimeoutMiddleware(time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiV1 := r.Group("/api/v1")
	{
		// 公开接口
		public := apiV1.Group("/public")
		{
			public.GET("/leaderboard", RateLimitMiddleware(redisClient, leaderboardRule, KeyByIP), publicHandler.GetLeaderboard)
		}

		affiliate := apiV1.Group("/affiliate")
		{
			// 接入方上报
			affiliate.POST("/track-visit", intakeLimit, publicHandler.TrackVisit)
			affiliate.POST("/create-referral", intakeLimit, publicHandler.CreateReferral)
			affiliate.POST("/request-withdrawal", publicHandler.RequestWithdrawal)

			// 运营处理
			affiliate.POST("/process-conversion", adminHandler.ProcessConversion)
			affiliate.POST("/process-withdrawal", adminHandler.ProcessWithdrawal)
			affiliate.POST("/update-leaderboard", adminHandler.UpdateLeaderboard)
			affiliate.GET("/referrals", adminHandler.ListReferrals)
			affiliate.GET("/withdrawals", adminHandler.ListWithdrawals)

			// 推广用户管理
			affiliate.POST("/affiliates", adminHandler.CreateAffiliate)
			affiliate.GET("/affiliates", adminHandler.ListAffiliates)
			affiliate.GET("/affiliates/:code", adminHandler.GetAffiliate)
			affiliate.PUT("/affiliates/:code/status", adminHandler.UpdateAffiliateStatus)
			affiliate.PUT("/affiliates/:code/commission-rate", adminHandler.UpdateCommissionRate)
		}
	}

	r.NoRoute(NoRouteHandler)
	return r
}
