package provider

import (
	"github.com/dujiao-next/affiliate-ledger/internal/cache"
	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"
	"github.com/dujiao-next/affiliate-ledger/internal/repository"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// Repositories
	AffiliateRepo  repository.AffiliateRepository
	VisitRepo      repository.VisitRepository
	ReferralRepo   repository.ReferralRepository
	WithdrawalRepo repository.WithdrawalRepository
	SettingRepo    repository.SettingRepository

	// Services
	EmailService        *service.EmailService
	NotificationService *service.NotificationService
	AffiliateService    *service.AffiliateService
	VisitService        *service.VisitService
	ReferralService     *service.ReferralService
	WithdrawalService   *service.WithdrawalService
	LeaderboardService  *service.LeaderboardService
}

// NewContainer 基于全局数据库连接初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端，未启用时通知直接同步发送
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}
	return NewContainerWithDB(cfg, models.DB, queueClient)
}

// NewContainerWithDB 使用指定数据库连接与队列客户端初始化容器
func NewContainerWithDB(cfg *config.Config, db *gorm.DB, queueClient *queue.Client) *Container {
	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}
	c.initRepositories(db)
	c.initServices()
	return c
}

func (c *Container) initRepositories(db *gorm.DB) {
	c.AffiliateRepo = repository.NewAffiliateRepository(db)
	c.VisitRepo = repository.NewVisitRepository(db)
	c.ReferralRepo = repository.NewReferralRepository(db)
	c.WithdrawalRepo = repository.NewWithdrawalRepository(db)
	c.SettingRepo = repository.NewSettingRepository(db)
}

func (c *Container) initServices() {
	c.EmailService = service.NewEmailService(&c.Config.Email)
	c.NotificationService = service.NewNotificationService(c.EmailService, c.QueueClient)
	c.AffiliateService = service.NewAffiliateService(c.AffiliateRepo)
	c.VisitService = service.NewVisitService(c.AffiliateRepo, c.VisitRepo)
	c.LeaderboardService = service.NewLeaderboardService(
		c.AffiliateRepo,
		c.VisitRepo,
		c.ReferralRepo,
		c.WithdrawalRepo,
		c.SettingRepo,
		&c.Config.Leaderboard,
	)
	c.ReferralService = service.NewReferralService(c.AffiliateRepo, c.VisitRepo, c.ReferralRepo, c.LeaderboardService)
	c.WithdrawalService = service.NewWithdrawalService(c.AffiliateRepo, c.WithdrawalRepo, c.NotificationService)
}

// Close 等待后台通知发送完毕，并释放缓存与队列客户端连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	c.NotificationService.Wait()
	if err := c.QueueClient.Close(); err != nil {
		logger.Warnw("provider_close_queue_client_failed", "error", err)
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
