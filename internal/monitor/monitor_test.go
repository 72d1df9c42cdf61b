package monitor

import (
	"context"
	"testing"
	"time"

	"binance-margin-bot-go/internal/config"
	"binance-margin-bot-go/internal/executor"
	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/venue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockVenue struct {
	pingErr  error
	price    float64
	balances models.Balances
}

func (m *mockVenue) Ping(ctx context.Context) error { return m.pingErr }

func (m *mockVenue) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return m.price, nil
}

func (m *mockVenue) GetMarginBalances(ctx context.Context) (models.Balances, error) {
	return m.balances, nil
}

func (m *mockVenue) CreateMarketOrder(ctx context.Context, symbol string, side venue.Side, quantity float64, clientOrderID string) (*models.VenueOrder, error) {
	return nil, nil
}

func (m *mockVenue) GetOrder(ctx context.Context, symbol string, orderID int64) (*models.VenueOrder, error) {
	return nil, nil
}

type failureCall struct {
	t      ledger.Type
	price  float64
	reason string
}

type mockExecutor struct {
	canTrade   bool
	result     *executor.Result
	executeErr error

	executedSides []venue.Side
	failures      []failureCall
}

func (m *mockExecutor) CanTrade() bool { return m.canTrade }

func (m *mockExecutor) Execute(ctx context.Context, side venue.Side, amountBTC float64) (*executor.Result, error) {
	m.executedSides = append(m.executedSides, side)
	return m.result, m.executeErr
}

func (m *mockExecutor) RecordFailure(t ledger.Type, price float64, reason string) {
	m.failures = append(m.failures, failureCall{t: t, price: price, reason: reason})
}

type mockPusher struct {
	heartbeats int
	updates    []models.StatusUpdate
}

func (m *mockPusher) Heartbeat(ctx context.Context) error { return nil }

func (m *mockPusher) PushData(ctx context.Context, update models.StatusUpdate) error {
	m.updates = append(m.updates, update)
	return nil
}

func newTestEngine(t *testing.T, v *mockVenue, exec *mockExecutor, pusher *mockPusher) *Engine {
	t.Helper()
	cfg := config.Defaults()
	log := zap.NewNop().Sugar()
	l, err := ledger.New(t.TempDir(), cfg.LedgerMaxLines, log)
	require.NoError(t, err)
	e := NewEngine(cfg, v, exec, pusher, l, log)
	e.sleep = func(time.Duration) {}
	return e
}

func TestCycleCalibratesBasePriceWithoutTrading(t *testing.T) {
	v := &mockVenue{price: 100.0, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true}
	e := newTestEngine(t, v, exec, &mockPusher{})

	e.cycle(context.Background())

	assert.InDelta(t, 100.0, e.BasePrice(), 1e-9)
	assert.Empty(t, exec.executedSides)
	assert.Empty(t, exec.failures)
}

func TestCycleSlippageGuardBlocksTradeAndKeepsBasePrice(t *testing.T) {
	v := &mockVenue{price: 100.6, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true}
	e := newTestEngine(t, v, exec, &mockPusher{})
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, exec.failures, 1)
	assert.Equal(t, ledger.TypeFailedPriceChange, exec.failures[0].t)
	assert.Empty(t, exec.executedSides)
	// an anomalous tick must not move the base price
	assert.InDelta(t, 100.0, e.BasePrice(), 1e-9)
}

func TestCycleSellTriggeredAboveThreshold(t *testing.T) {
	// +0.12% exceeds the 0.1% sell threshold
	v := &mockVenue{price: 100.12, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true, result: &executor.Result{Submitted: true, Record: ledger.TypeSell}}
	e := newTestEngine(t, v, exec, &mockPusher{})
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, exec.executedSides, 1)
	assert.Equal(t, venue.Sell, exec.executedSides[0])
	assert.InDelta(t, 100.12, e.BasePrice(), 1e-9)
}

func TestCycleBuyTriggeredBelowThreshold(t *testing.T) {
	// -0.10% is below the -0.05% buy threshold
	v := &mockVenue{price: 99.90, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true, result: &executor.Result{Submitted: true, Record: ledger.TypeBuy}}
	e := newTestEngine(t, v, exec, &mockPusher{})
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, exec.executedSides, 1)
	assert.Equal(t, venue.Buy, exec.executedSides[0])
	assert.InDelta(t, 99.90, e.BasePrice(), 1e-9)
}

func TestCycleSmallMovesDoNotTrade(t *testing.T) {
	for _, price := range []float64{100.05, 99.97} {
		v := &mockVenue{price: price, balances: models.Balances{BTC: 1, USDT: 100}}
		exec := &mockExecutor{canTrade: true}
		e := newTestEngine(t, v, exec, &mockPusher{})
		e.SetBasePrice(100.0)

		e.cycle(context.Background())

		assert.Empty(t, exec.executedSides, "price %.2f should not trade", price)
		assert.InDelta(t, 100.0, e.BasePrice(), 1e-9)
	}
}

func TestCycleInsufficientFundsRecordsFailureAndResetsBase(t *testing.T) {
	// buy triggers but the USDT balance is short
	v := &mockVenue{price: 99.90, balances: models.Balances{BTC: 1, USDT: 0.5}}
	exec := &mockExecutor{canTrade: true}
	e := newTestEngine(t, v, exec, &mockPusher{})
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, exec.failures, 1)
	assert.Equal(t, ledger.TypeFailedBuy, exec.failures[0].t)
	assert.Empty(t, exec.executedSides)
	assert.InDelta(t, 99.90, e.BasePrice(), 1e-9)
}

func TestCycleCooldownSkipsTradeButStillPushes(t *testing.T) {
	v := &mockVenue{price: 100.12, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: false}
	pusher := &mockPusher{}
	e := newTestEngine(t, v, exec, pusher)
	e.SetBasePrice(100.0)
	e.lastPushTime = time.Time{}

	e.cycle(context.Background())

	assert.Empty(t, exec.executedSides)
	require.Len(t, pusher.updates, 1)
	assert.Equal(t, "100.12", pusher.updates[0].PriceData.CurrentPrice)
}

func TestCycleDisconnectedPushesEmptyUpdate(t *testing.T) {
	v := &mockVenue{pingErr: assert.AnError}
	exec := &mockExecutor{canTrade: true}
	pusher := &mockPusher{}
	e := newTestEngine(t, v, exec, pusher)
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, pusher.updates, 1)
	assert.Nil(t, pusher.updates[0].PriceData)
	assert.Nil(t, pusher.updates[0].Balances)
	assert.Empty(t, exec.executedSides)
}

func TestPushThrottle(t *testing.T) {
	v := &mockVenue{price: 100.0, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true}
	pusher := &mockPusher{}
	e := newTestEngine(t, v, exec, pusher)
	e.SetBasePrice(100.0)

	base := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	now := base
	e.now = func() time.Time { return now }

	e.cycle(context.Background())
	require.Len(t, pusher.updates, 1)

	// within the throttle window nothing is pushed
	now = base.Add(2 * time.Second)
	e.cycle(context.Background())
	assert.Len(t, pusher.updates, 1)

	// pushes resume once the window has elapsed
	now = base.Add(6 * time.Second)
	e.cycle(context.Background())
	assert.Len(t, pusher.updates, 2)
}

func TestAbortedAttemptKeepsBasePrice(t *testing.T) {
	// the executor aborted before submitting (nil, nil); base price stays put
	v := &mockVenue{price: 100.12, balances: models.Balances{BTC: 1, USDT: 100}}
	exec := &mockExecutor{canTrade: true, result: nil, executeErr: nil}
	e := newTestEngine(t, v, exec, &mockPusher{})
	e.SetBasePrice(100.0)

	e.cycle(context.Background())

	require.Len(t, exec.executedSides, 1)
	assert.InDelta(t, 100.0, e.BasePrice(), 1e-9)
}
