package app

import (
	"errors"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"
	"github.com/dujiao-next/affiliate-ledger/internal/router"
	"github.com/dujiao-next/affiliate-ledger/internal/worker"
)

// BuildRunner 构建服务运行器，返回的容器需在退出时关闭
func BuildRunner(cfg *config.Config, mode string) (*Runner, *provider.Container, error) {
	if cfg == nil {
		return nil, nil, errors.New("config is nil")
	}
	container := provider.NewContainer(cfg)
	runner, err := buildServices(cfg, mode, container)
	if err != nil {
		container.Close()
		return nil, nil, err
	}
	return runner, container, nil
}

func buildServices(cfg *config.Config, mode string, container *provider.Container) (*Runner, error) {
	if !isValidMode(mode) {
		return nil, errors.New("unknown mode: " + mode)
	}
	var services []Service

	// HTTP 接口
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		services = append(services, NewHTTPService(listenAddr(cfg), engine))
	}

	if mode == ModeAll || mode == ModeWorker {
		// 队列关闭时通知同步发送，无需消费者
		if cfg.Queue.Enabled {
			consumer := worker.NewConsumer(container)
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		}
		services = append(services, worker.NewLeaderboardTicker(&cfg.Leaderboard, container.LeaderboardService))
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}
	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}

	runner, container, err := BuildRunner(opts.Config, opts.Mode)
	if err != nil {
		return err
	}
	defer container.Close()

	opts.Logger.Infow("app_start",
		"addr", listenAddr(opts.Config),
		"mode", opts.Mode,
		"queue_enabled", opts.Config.Queue.Enabled,
	)
	return RunWithOptions(runner, opts)
}

func listenAddr(cfg *config.Config) string {
	return cfg.Server.Host + ":" + cfg.Server.Port
}

func isValidMode(mode string) bool {
	switch mode {
	case ModeAll, ModeAPI, ModeWorker:
		return true
	default:
		return false
	}
}
