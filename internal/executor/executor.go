// Package executor places and confirms margin market orders. Every
// trade attempt walks a fixed pipeline - price fetch, minimum size
// validation, submit, confirm, log - and writes exactly one ledger
// record whatever the outcome. The cooldown window is consumed on
// success and failure alike so a persistent venue error cannot
// hot-loop submissions.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/retry"
	"binance-margin-bot-go/internal/venue"

	"github.com/jxskiss/base62"
	"go.uber.org/zap"
)

// Result reports what a trade attempt did. Exactly one of the ledger
// record types has been appended by the time Execute returns.
type Result struct {
	Submitted   bool
	Filled      float64
	ActualPrice float64
	OrderID     int64
	Record      ledger.Type
}

// Executor drives the per-attempt order state machine.
type Executor struct {
	cfg    *models.Config
	venue  venue.Venue
	ledger *ledger.Ledger
	log    *zap.SugaredLogger

	mu        sync.Mutex
	lastTrade time.Time

	// test seams
	now   func() time.Time
	sleep func(time.Duration)
}

// New creates an executor with an open cooldown gate, so the first
// attempt of a run is never blocked.
func New(cfg *models.Config, v venue.Venue, l *ledger.Ledger, log *zap.SugaredLogger) *Executor {
	return &Executor{
		cfg:    cfg,
		venue:  v,
		ledger: l,
		log:    log,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// CanTrade reports whether the per-trade cooldown has elapsed.
func (e *Executor) CanTrade() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastTrade.IsZero() {
		return true
	}
	return e.now().Sub(e.lastTrade) >= time.Duration(e.cfg.TradeCooldownSec)*time.Second
}

// LastTradeTime returns the timestamp of the most recent attempt.
func (e *Executor) LastTradeTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastTrade
}

// resetCooldown updates the last-trade timestamp. Called on every
// executed attempt, whether the submission succeeded or not.
func (e *Executor) resetCooldown() {
	e.mu.Lock()
	e.lastTrade = e.now()
	e.mu.Unlock()
}

// Execute runs one trade attempt. For buys the size is derived from
// the configured USD notional at the current price; for sells
// amountBTC is used as given. A nil Result with a nil error means the
// attempt was aborted before submission without consuming the
// cooldown (no price, or the gate was closed).
func (e *Executor) Execute(ctx context.Context, side venue.Side, amountBTC float64) (*Result, error) {
	if !e.CanTrade() {
		e.log.Infof("cooldown active, last trade at %s", e.LastTradeTime().Format("15:04:05"))
		return nil, nil
	}

	// PRICE_FETCH: without a trustworthy price no order is placed.
	price, err := retry.Do(e.cfg.RetryAttempts, time.Duration(e.cfg.RetryBaseDelayMs)*time.Millisecond,
		func() (float64, error) { return e.venue.GetPrice(ctx, e.cfg.Symbol) })
	if err != nil {
		e.log.Warnf("failed to get a valid price, aborting %s attempt: %v", side, err)
		return nil, nil
	}

	// VALIDATE_MIN_SIZE
	quantity := amountBTC
	if side == venue.Buy {
		quantity = e.cfg.TradeAmountUSD / price
	}
	quantity = roundDown8(quantity)
	if quantity < e.cfg.MinTradeAmount {
		e.log.Warnf("%s amount %.8f BTC is below the minimum %.8f BTC, rejecting",
			side, quantity, e.cfg.MinTradeAmount)
		return nil, nil
	}

	// SUBMIT
	clientOrderID := "mb-" + string(base62.FormatInt(e.now().UnixNano()))
	order, err := e.venue.CreateMarketOrder(ctx, e.cfg.Symbol, side, quantity, clientOrderID)
	if err != nil {
		record := failedRecord(side)
		e.appendRecord(ledger.NewTransaction(record, 0, price, 0, fmt.Sprintf("API error: %v", err)))
		e.resetCooldown()
		return &Result{Record: record}, fmt.Errorf("%s order error: %w", side, err)
	}

	// CONFIRM: give the venue a moment to settle, then read back the
	// fill. A confirm failure falls back to the submit response.
	e.sleep(time.Duration(e.cfg.SettleDelaySec) * time.Second)
	confirmed, err := e.venue.GetOrder(ctx, e.cfg.Symbol, order.OrderID)
	if err != nil {
		e.log.Warnf("could not confirm order %d, using submit response: %v", order.OrderID, err)
		confirmed = order
	}

	filled := confirmed.ExecutedQty
	actualPrice := confirmed.AvgPrice
	if actualPrice <= 0 {
		actualPrice = price
	}
	totalValue := filled * actualPrice

	// LOG: exactly one record per attempt. Unfilled orders are marked
	// PARTIAL and not polled again for eventual completion.
	result := &Result{
		Submitted:   true,
		Filled:      filled,
		ActualPrice: actualPrice,
		OrderID:     order.OrderID,
	}
	if filled > 0 {
		result.Record = executedRecord(side)
		e.log.Infof("%s executed: %.8f BTC at %.2f USDT (order %d)", side, filled, actualPrice, order.OrderID)
	} else {
		result.Record = partialRecord(side)
		e.log.Warnf("%s order %d has no fill yet, recording as partial", side, order.OrderID)
	}
	e.appendRecord(ledger.NewTransaction(result.Record, filled, actualPrice, totalValue,
		fmt.Sprintf("%d", order.OrderID)))

	// COOLDOWN_RESET
	e.resetCooldown()
	return result, nil
}

// RecordFailure writes a synthetic failure record for attempts that
// were rejected before submission (insufficient funds, slippage).
func (e *Executor) RecordFailure(t ledger.Type, price float64, reason string) {
	e.appendRecord(ledger.NewTransaction(t, 0, price, 0, reason))
}

func (e *Executor) appendRecord(tx ledger.Transaction) {
	if err := e.ledger.Append(tx); err != nil {
		e.log.Errorf("failed to append ledger record: %v", err)
	}
}

func executedRecord(side venue.Side) ledger.Type {
	if side == venue.Buy {
		return ledger.TypeBuy
	}
	return ledger.TypeSell
}

func partialRecord(side venue.Side) ledger.Type {
	if side == venue.Buy {
		return ledger.TypePartialBuy
	}
	return ledger.TypePartialSell
}

func failedRecord(side venue.Side) ledger.Type {
	if side == venue.Buy {
		return ledger.TypeFailedBuy
	}
	return ledger.TypeFailedSell
}

// roundDown8 truncates to the 8 decimal places the venue accepts for
// BTC quantities.
func roundDown8(v float64) float64 {
	return float64(int64(v*1e8)) / 1e8
}
