package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stockflow/stockflow-backend/internal/stock/service"
	"github.com/stockflow/stockflow-backend/internal/stock/stocktest"
	"github.com/stockflow/stockflow-backend/pkg/logger"
	"github.com/stockflow/stockflow-backend/pkg/permissions"
	"github.com/stretchr/testify/assert"
)

type fakeLeader struct {
	granted bool
	calls   int
}

func (l *fakeLeader) TryAcquire(context.Context, string, time.Duration) (func(), bool, error) {
	l.calls++
	return func() {}, l.granted, nil
}

func TestLowStockScheduler_InitialScan(t *testing.T) {
	h := stocktest.NewHarness()
	h.Fixtures.Recipient(t, permissions.RoleStockManager)
	h.Fixtures.Item(t, stocktest.WithQuantity("1"), stocktest.WithMinQuantity("3"))

	scheduler := service.NewLowStockScheduler(h.Shortage, nil, time.Hour, logger.Nop())
	scheduler.Start(context.Background())

	assert.Eventually(t, func() bool {
		return len(h.Store.AllNotifications()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	scheduler.Stop()
}

func TestLowStockScheduler_SkipsWithoutLeadership(t *testing.T) {
	h := stocktest.NewHarness()
	h.Fixtures.Recipient(t, permissions.RoleStockManager)
	h.Fixtures.Item(t, stocktest.WithQuantity("1"), stocktest.WithMinQuantity("3"))

	leader := &fakeLeader{granted: false}
	scheduler := service.NewLowStockScheduler(h.Shortage, leader, 20*time.Millisecond, logger.Nop())
	scheduler.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	scheduler.Stop()

	assert.GreaterOrEqual(t, leader.calls, 2)
	assert.Empty(t, h.Store.AllNotifications())
}
