package worker

import (
	"context"
	"errors"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/logger"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/hibiken/asynq"
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	serverCfg.Logger = newAsynqLogger()
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// LeaderboardUpdater 排行榜每日重算入口
type LeaderboardUpdater interface {
	UpdateLeaderboard(ctx context.Context, force bool) (*service.UpdateLeaderboardResult, error)
}

// LeaderboardTicker 周期触发排行榜重算，每日实际最多执行一次
type LeaderboardTicker struct {
	name     string
	interval time.Duration
	updater  LeaderboardUpdater
}

// NewLeaderboardTicker 创建排行榜定时任务
func NewLeaderboardTicker(cfg *config.LeaderboardConfig, updater LeaderboardUpdater) *LeaderboardTicker {
	normalized := config.LeaderboardConfig{}
	if cfg != nil {
		normalized = *cfg
	}
	normalized = normalized.Normalize()
	return &LeaderboardTicker{
		name:     "leaderboard-ticker",
		interval: time.Duration(normalized.TickIntervalMinutes) * time.Minute,
		updater:  updater,
	}
}

// Name 服务名称
func (t *LeaderboardTicker) Name() string {
	if t == nil || t.name == "" {
		return "leaderboard-ticker"
	}
	return t.name
}

// Start 立即执行一次，之后按间隔执行直到 ctx 取消
func (t *LeaderboardTicker) Start(ctx context.Context) error {
	if t == nil || t.updater == nil {
		return errors.New("leaderboard ticker not initialized")
	}
	t.runOnce(ctx)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

// Stop 由 Start 的 ctx 取消驱动退出
func (t *LeaderboardTicker) Stop(context.Context) error {
	return nil
}

func (t *LeaderboardTicker) runOnce(ctx context.Context) {
	result, err := t.updater.UpdateLeaderboard(ctx, false)
	if err != nil {
		logger.Warnw("worker_leaderboard_update_failed", "error", err)
		return
	}
	if result.AlreadyUpdated {
		logger.Debugw("worker_leaderboard_update_skipped", "last_updated_at", result.Timestamp)
		return
	}
	logger.Infow("worker_leaderboard_updated", "affiliates_updated", result.AffiliatesUpdated)
}

type asynqLogger struct{}

func newAsynqLogger() asynq.Logger {
	return asynqLogger{}
}

func (asynqLogger) Debug(args ...interface{}) { logger.SW("component", "asynq").Debug(args...) }
func (asynqLogger) Info(args ...interface{})  { logger.SW("component", "asynq").Info(args...) }
func (asynqLogger) Warn(args ...interface{})  { logger.SW("component", "asynq").Warn(args...) }
func (asynqLogger) Error(args ...interface{}) { logger.SW("component", "asynq").Error(args...) }
func (asynqLogger) Fatal(args ...interface{}) { logger.SW("component", "asynq").Fatal(args...) }
