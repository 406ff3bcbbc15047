package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/models"
	"github.com/dujiao-next/affiliate-ledger/internal/provider"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeService struct {
	name     string
	startErr error
	block    bool
	stopped  atomic.Int32
}

func (s *fakeService) Name() string { return s.name }

func (s *fakeService) Start(ctx context.Context) error {
	if s.block {
		<-ctx.Done()
		return nil
	}
	return s.startErr
}

func (s *fakeService) Stop(context.Context) error {
	s.stopped.Add(1)
	return nil
}

func TestRunnerStopsAllWhenOneServiceFails(t *testing.T) {
	failing := &fakeService{name: "failing", startErr: errors.New("listen failed")}
	blocking := &fakeService{name: "blocking", block: true}
	runner := NewRunner(failing, blocking)

	err := runner.Run(context.Background(), time.Second, nil)
	if err == nil || err.Error() != "listen failed" {
		t.Fatalf("expected listen failed, got %v", err)
	}
	if failing.stopped.Load() != 1 || blocking.stopped.Load() != 1 {
		t.Fatalf("all services should be stopped, got %d %d", failing.stopped.Load(), blocking.stopped.Load())
	}
}

func TestRunnerReturnsNilOnCancel(t *testing.T) {
	blocking := &fakeService{name: "blocking", block: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(blocking).Run(ctx, time.Second, nil) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("cancel should exit cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("runner did not stop")
	}
	if err := NewRunner().Run(context.Background(), time.Second, nil); err == nil {
		t.Fatalf("empty runner should fail")
	}
}

func newBootstrapTestContainer(t *testing.T, cfg *config.Config) *provider.Container {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared&_test=app_bootstrap"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite failed: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	queueClient, _ := queue.NewClient(nil)
	return provider.NewContainerWithDB(cfg, db, queueClient)
}

func TestBuildServicesByMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = "0"
	container := newBootstrapTestContainer(t, cfg)
	defer container.Close()

	cases := []struct {
		mode  string
		names []string
	}{
		{mode: ModeAll, names: []string{"http", "leaderboard-ticker"}},
		{mode: ModeAPI, names: []string{"http"}},
		{mode: ModeWorker, names: []string{"leaderboard-ticker"}},
	}
	for _, tc := range cases {
		t.Run(tc.mode, func(t *testing.T) {
			runner, err := buildServices(cfg, tc.mode, container)
			if err != nil {
				t.Fatalf("build services failed: %v", err)
			}
			services := runner.Services()
			if len(services) != len(tc.names) {
				t.Fatalf("expected %d services, got %d", len(tc.names), len(services))
			}
			for i, name := range tc.names {
				if services[i].Name() != name {
					t.Fatalf("service %d want %s got %s", i, name, services[i].Name())
				}
			}
		})
	}

	if _, err := buildServices(cfg, "cron", container); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
