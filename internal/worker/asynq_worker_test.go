package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dujiao-next/affiliate-ledger/internal/config"
	"github.com/dujiao-next/affiliate-ledger/internal/queue"
	"github.com/dujiao-next/affiliate-ledger/internal/service"

	"github.com/hibiken/asynq"
)

func newWithdrawalNotifyTestTask(t *testing.T, payload queue.WithdrawalNotifyPayload) *asynq.Task {
	t.Helper()
	task, err := queue.NewWithdrawalNotifyTask(payload)
	if err != nil {
		t.Fatalf("build task failed: %v", err)
	}
	return task
}

func TestHandleWithdrawalNotifySendsNotice(t *testing.T) {
	var got []service.WithdrawalNotice
	consumer := &Consumer{sendNotice: func(notice service.WithdrawalNotice) error {
		got = append(got, notice)
		return nil
	}}
	task := newWithdrawalNotifyTestTask(t, queue.WithdrawalNotifyPayload{
		WithdrawalID:  9,
		AffiliateCode: "SMX10",
		Email:         "payout@example.com",
		Status:        "completed",
	})

	if err := consumer.handleWithdrawalNotify(context.Background(), task); err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if len(got) != 1 || got[0].WithdrawalID != 9 || got[0].Email != "payout@example.com" {
		t.Fatalf("unexpected notices: %+v", got)
	}
}

func TestHandleWithdrawalNotifyErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		sendErr   error
		wantRetry bool
	}{
		{name: "permanent_rejected", sendErr: service.ErrEmailRecipientRejected, wantRetry: false},
		{name: "permanent_disabled", sendErr: service.ErrEmailServiceDisabled, wantRetry: false},
		{name: "transient", sendErr: errors.New("notification failed: dial tcp timeout"), wantRetry: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			consumer := &Consumer{sendNotice: func(service.WithdrawalNotice) error { return tc.sendErr }}
			task := newWithdrawalNotifyTestTask(t, queue.WithdrawalNotifyPayload{WithdrawalID: 1, Email: "a@example.com"})
			err := consumer.handleWithdrawalNotify(context.Background(), task)
			if (err != nil) != tc.wantRetry {
				t.Fatalf("retry=%v, got err %v", tc.wantRetry, err)
			}
		})
	}
}

func TestHandleWithdrawalNotifySkipsInvalidPayload(t *testing.T) {
	calls := 0
	consumer := &Consumer{sendNotice: func(service.WithdrawalNotice) error {
		calls++
		return nil
	}}
	task := newWithdrawalNotifyTestTask(t, queue.WithdrawalNotifyPayload{WithdrawalID: 0, Email: "a@example.com"})
	if err := consumer.handleWithdrawalNotify(context.Background(), task); err != nil {
		t.Fatalf("invalid payload should be skipped, got %v", err)
	}
	broken := asynq.NewTask(queue.TaskWithdrawalNotify, []byte("{"))
	if err := consumer.handleWithdrawalNotify(context.Background(), broken); err == nil {
		t.Fatalf("malformed payload should return an error")
	}
	if calls != 0 {
		t.Fatalf("expected no sends, got %d", calls)
	}
}

type countingUpdater struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (u *countingUpdater) UpdateLeaderboard(_ context.Context, force bool) (*service.UpdateLeaderboardResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.err != nil {
		return nil, u.err
	}
	return &service.UpdateLeaderboardResult{Updated: !force, AffiliatesUpdated: 1}, nil
}

func (u *countingUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func TestLeaderboardTickerRunsImmediatelyAndStops(t *testing.T) {
	updater := &countingUpdater{err: errors.New("database is locked")}
	ticker := NewLeaderboardTicker(&config.LeaderboardConfig{TickIntervalMinutes: 60}, updater)
	if ticker.interval != time.Hour {
		t.Fatalf("expected 1h interval, got %s", ticker.interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ticker.Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for updater.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ticker should exit cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ticker did not stop after cancel")
	}
	if updater.count() != 1 {
		t.Fatalf("expected exactly one immediate run, got %d", updater.count())
	}
}
