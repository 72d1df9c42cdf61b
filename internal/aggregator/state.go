// Package aggregator holds the server-side merged view of a single trading
// bot: latest price data, balances, transaction history and liveness status.
// All mutation happens inside one mutex; persistence runs asynchronously so
// HTTP handlers never wait on the database.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"binance-margin-bot-go/internal/ledger"
	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/persistence"
	"binance-margin-bot-go/internal/venue"

	"go.uber.org/zap"
)

var (
	ErrInvalidAction     = errors.New("action must be 'buy' or 'sell'")
	ErrInvalidAmount     = errors.New("amount must be a positive number")
	ErrInvalidStatus     = errors.New("status must be 'active' or 'inactive'")
	ErrNoPrice           = errors.New("no current price available")
	ErrInsufficientFunds = errors.New("insufficient funds for trade")
)

// Aggregator merges bot status pushes into a single live state and watches
// for heartbeat loss. It is safe for concurrent use by HTTP handlers.
type Aggregator struct {
	cfg models.ServerConfig
	log *zap.SugaredLogger

	mu    sync.Mutex
	state models.LiveState

	pinger venue.Pinger                  // nil means connection status follows bot status only
	repo   persistence.LiveStateRepository // nil disables persistence
	trades *ledger.Ledger                // nil disables the server-side trade file
	hub    *Hub                          // nil disables websocket broadcast

	persistChan chan *models.LiveState
	stopChan    chan struct{}
	wg          sync.WaitGroup

	now func() time.Time
}

// New creates an aggregator with a fresh empty state. Pass nil for pinger,
// repo, trades or hub to disable the corresponding feature.
func New(cfg models.ServerConfig, pinger venue.Pinger, repo persistence.LiveStateRepository, trades *ledger.Ledger, hub *Hub, log *zap.SugaredLogger) *Aggregator {
	return &Aggregator{
		cfg:         cfg,
		log:         log,
		state:       models.NewLiveState(),
		pinger:      pinger,
		repo:        repo,
		trades:      trades,
		hub:         hub,
		persistChan: make(chan *models.LiveState, 128),
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

// Restore replaces the in-memory state with a previously persisted snapshot.
// A restored bot is always considered inactive until it reports in again.
func (a *Aggregator) Restore(state *models.LiveState) {
	if state == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = state.Clone()
	a.state.BotStatus = models.BotStatusInactive
	a.state.ConnectionStatus = models.ConnectionDisconnected
	a.log.Infow("restored persisted live state", "transactions", len(a.state.Transactions))
}

// SeedFromLedger backfills transaction history from the local trade file
// when neither the persisted state nor a bot push has provided any. It is
// a startup-only convenience; once transactions exist it does nothing, so
// records are never double counted.
func (a *Aggregator) SeedFromLedger(n int) {
	if a.trades == nil {
		return
	}
	recent, err := a.trades.ReadRecent(n)
	if err != nil {
		a.log.Errorf("failed to read local trade history: %v", err)
		return
	}
	if len(recent) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.state.Transactions) > 0 {
		return
	}
	for _, tx := range recent {
		a.state.Transactions = append(a.state.Transactions, tx.Live())
	}
	a.log.Infof("seeded %d transactions from local trade history", len(recent))
}

// Start launches the watchdog and persistence goroutines.
func (a *Aggregator) Start() {
	a.wg.Add(2)
	go a.watchdogLoop()
	go a.persistenceLoop()
}

// Stop shuts down the background goroutines and performs one final
// synchronous save so no in-flight snapshot is lost.
func (a *Aggregator) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	if a.repo != nil {
		a.mu.Lock()
		snapshot := a.state.Clone()
		a.mu.Unlock()
		if err := a.repo.SaveState(&snapshot); err != nil {
			a.log.Errorf("final state save failed: %v", err)
		}
	}
}

// Heartbeat marks the bot active and refreshes the liveness timestamp.
func (a *Aggregator) Heartbeat() models.LiveState {
	a.mu.Lock()
	a.state.BotStatus = models.BotStatusActive
	a.state.LastUpdate = a.now()
	snapshot := a.state.Clone()
	a.mu.Unlock()

	a.queuePersist(snapshot)
	a.broadcast(snapshot)
	return snapshot
}

// SetStatus forces the bot status to the given value. Used by the bot's
// shutdown sequence and by operators.
func (a *Aggregator) SetStatus(status string) (models.LiveState, error) {
	if status != models.BotStatusActive && status != models.BotStatusInactive {
		return models.LiveState{}, ErrInvalidStatus
	}

	a.mu.Lock()
	a.state.BotStatus = status
	if status == models.BotStatusActive {
		a.state.LastUpdate = a.now()
	}
	snapshot := a.state.Clone()
	a.mu.Unlock()

	a.log.Infof("bot status set to %s", status)
	a.queuePersist(snapshot)
	a.broadcast(snapshot)
	return snapshot, nil
}

// UpdateData merges a status push into the live state. Price data and
// balances are last-write-wins; transactions are appended with order-id
// deduplication. Records without an order id (synthetic failure entries)
// are always appended.
func (a *Aggregator) UpdateData(update models.StatusUpdate) models.LiveState {
	a.mu.Lock()
	if update.PriceData != nil {
		a.state.PriceData = *update.PriceData
	}
	if update.Balances != nil {
		a.state.Balances = *update.Balances
	}
	if len(update.Transactions) > 0 {
		seen := make(map[string]struct{}, len(a.state.Transactions))
		for _, tx := range a.state.Transactions {
			if tx.OrderID != "" {
				seen[tx.OrderID] = struct{}{}
			}
		}
		for _, tx := range update.Transactions {
			if tx.OrderID != "" {
				if _, dup := seen[tx.OrderID]; dup {
					continue
				}
				seen[tx.OrderID] = struct{}{}
			}
			a.state.Transactions = append(a.state.Transactions, tx)
		}
	}
	a.state.LastUpdate = a.now()
	snapshot := a.state.Clone()
	a.mu.Unlock()

	a.queuePersist(snapshot)
	a.broadcast(snapshot)
	return snapshot
}

// ExecuteTrade records a manually requested trade against the aggregator's
// view of the balances. It never talks to the exchange; the entry is
// synthetic and carries no order id.
func (a *Aggregator) ExecuteTrade(req models.TradeRequest) (models.LiveTransaction, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if action != "buy" && action != "sell" {
		return models.LiveTransaction{}, ErrInvalidAction
	}
	if req.Amount <= 0 {
		return models.LiveTransaction{}, ErrInvalidAmount
	}

	a.mu.Lock()
	price := req.Price
	if price <= 0 {
		price = parseQuoted(a.state.PriceData.CurrentPrice)
	}
	if price <= 0 {
		a.mu.Unlock()
		return models.LiveTransaction{}, ErrNoPrice
	}
	totalValue := req.TotalValue
	if totalValue <= 0 {
		totalValue = req.Amount * price
	}

	// Both balances are tracked in USDT terms, so the check is uniform:
	// buys spend free USDT, sells spend the USDT value of held BTC.
	available := parseQuoted(a.state.Balances.USDTBalance)
	if action == "sell" {
		available = parseQuoted(a.state.Balances.BTCBalance)
	}
	if available < totalValue {
		a.mu.Unlock()
		return models.LiveTransaction{}, fmt.Errorf("%w: need %.2f USDT, have %.2f USDT", ErrInsufficientFunds, totalValue, available)
	}

	timestamp := req.Timestamp
	if timestamp == "" {
		timestamp = a.now().Format(models.TimeLayout)
	}
	tx := models.LiveTransaction{
		Timestamp:  timestamp,
		Type:       strings.ToUpper(action),
		Amount:     fmt.Sprintf("%.8f", req.Amount),
		Price:      fmt.Sprintf("%.2f", price),
		TotalValue: fmt.Sprintf("%.2f", totalValue),
	}
	a.state.Transactions = append(a.state.Transactions, tx)
	a.state.LastUpdate = a.now()
	snapshot := a.state.Clone()
	a.mu.Unlock()

	if a.trades != nil {
		t := ledger.TypeBuy
		if action == "sell" {
			t = ledger.TypeSell
		}
		if err := a.trades.Append(ledger.NewTransaction(t, req.Amount, price, totalValue, "")); err != nil {
			a.log.Errorf("failed to append manual trade record: %v", err)
		}
	}

	a.log.Infow("manual trade recorded", "action", action, "amount", req.Amount, "price", price)
	a.queuePersist(snapshot)
	a.broadcast(snapshot)
	return tx, nil
}

// Snapshot recomputes the connection status and returns a copy of the state.
// The dashboard always gets a 200 with whatever is known; a broken exchange
// link only degrades the connection field.
func (a *Aggregator) Snapshot(ctx context.Context) models.LiveState {
	connected := a.pinger != nil
	if connected {
		if err := a.pinger.Ping(ctx); err != nil {
			a.log.Debugf("exchange ping failed: %v", err)
			connected = false
		}
	}

	a.mu.Lock()
	if connected && a.state.BotStatus == models.BotStatusActive {
		a.state.ConnectionStatus = models.ConnectionConnected
	} else {
		a.state.ConnectionStatus = models.ConnectionDisconnected
	}
	snapshot := a.state.Clone()
	a.mu.Unlock()
	return snapshot
}

// expireIfStale flips an active bot to inactive once the heartbeat window
// has elapsed. Returns true when a transition happened.
func (a *Aggregator) expireIfStale() bool {
	timeout := time.Duration(a.cfg.HeartbeatTimeoutSec) * time.Second

	a.mu.Lock()
	stale := a.state.BotStatus == models.BotStatusActive &&
		a.now().Sub(a.state.LastUpdate) > timeout
	if stale {
		a.state.BotStatus = models.BotStatusInactive
		a.state.ConnectionStatus = models.ConnectionDisconnected
	}
	snapshot := a.state.Clone()
	a.mu.Unlock()

	if stale {
		a.log.Warnf("no heartbeat for more than %s, marking bot inactive", timeout)
		a.queuePersist(snapshot)
		a.broadcast(snapshot)
	}
	return stale
}

func (a *Aggregator) watchdogLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(time.Duration(a.cfg.WatchdogIntervalSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			a.expireIfStale()
		case <-a.stopChan:
			return
		}
	}
}

// persistenceLoop drains state snapshots so handler latency stays
// independent of disk speed.
func (a *Aggregator) persistenceLoop() {
	defer a.wg.Done()
	for {
		select {
		case snapshot := <-a.persistChan:
			if a.repo != nil {
				if err := a.repo.SaveState(snapshot); err != nil {
					a.log.Errorf("failed to persist live state: %v", err)
				}
			}
		case <-a.stopChan:
			return
		}
	}
}

// queuePersist never blocks; under pressure older snapshots are simply
// superseded by the final synchronous save on Stop.
func (a *Aggregator) queuePersist(snapshot models.LiveState) {
	if a.repo == nil {
		return
	}
	select {
	case a.persistChan <- &snapshot:
	default:
		a.log.Debug("persistence queue full, dropping snapshot")
	}
}

func (a *Aggregator) broadcast(snapshot models.LiveState) {
	if a.hub != nil {
		a.hub.BroadcastState(snapshot)
	}
}

// parseQuoted extracts the numeric part of display strings like
// "123.45 USDT" or "0.00150000 BTC". "N/A" and garbage parse to 0.
func parseQuoted(s string) float64 {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
