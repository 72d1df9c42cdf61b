// Package runstate persists a single run's start/end balances and
// derives the profit summary. The external shape stays a JSON file
// (information.txt) for compatibility with existing tooling; all
// mutation goes through a single writer lock to rule out partial
// writes.
package runstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"binance-margin-bot-go/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoRunState means finalize/summarize was called before a run was
// ever initialized. Logged and skipped by callers, never fatal.
var ErrNoRunState = errors.New("runstate: no run state on disk")

// ErrIncompleteRun means the record lacks a start or end timestamp and
// no summary can be produced yet.
var ErrIncompleteRun = errors.New("runstate: run has no start or end time")

// Store owns information.txt and the generated summary report file.
type Store struct {
	infoPath   string
	reportPath string
	mu         sync.Mutex
	log        *zap.SugaredLogger
	now        func() time.Time
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, log *zap.SugaredLogger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create runstate directory: %w", err)
	}
	return &Store{
		infoPath:   filepath.Join(dir, "information.txt"),
		reportPath: filepath.Join(dir, "trading_summary_report.txt"),
		log:        log,
		now:        time.Now,
	}, nil
}

// ReportPath returns the location of the generated summary artifact.
func (s *Store) ReportPath() string {
	return s.reportPath
}

// Initialize creates the run-state record iff it is absent or empty.
// The process cannot safely start without a base price, so a
// non-positive price is rejected; the caller treats that as fatal.
func (s *Store) Initialize(balances models.Balances, price float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if price <= 0 {
		return fmt.Errorf("runstate: refusing to initialize with price %.2f", price)
	}

	if existing, err := s.loadLocked(); err == nil && existing.BotStartTime != "" {
		s.log.Infof("run state already present (run %s started %s), keeping it",
			existing.RunID, existing.BotStartTime)
		return nil
	}

	state := models.RunState{
		RunID:        uuid.NewString(),
		BotStartTime: s.now().UTC().Format(models.TimeLayout),
		StartPrice:   price,
		InitialBTC:   balances.BTC,
		InitialUSDT:  balances.USDT,
		TotalInitial: balances.Value(price),
	}

	if err := s.saveLocked(&state); err != nil {
		return err
	}
	s.log.Infof("initialized run state: BTC %.8f, USDT %.2f, start price %.2f",
		balances.BTC, balances.USDT, price)
	return nil
}

// Finalize loads the existing record and writes the end-of-run fields
// and derived profit numbers. A missing or corrupt record aborts the
// update (logged by the caller), not the process. A non-positive end
// price falls back to the recorded start price for valuation.
func (s *Store) Finalize(final models.Balances, endPrice float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.loadLocked()
	if err != nil {
		return err
	}

	if endPrice <= 0 {
		s.log.Warnf("no valid end price, falling back to start price %.2f", state.StartPrice)
		endPrice = state.StartPrice
	}

	totalInitial := state.StartPrice*state.InitialBTC + state.InitialUSDT
	totalFinal := final.Value(endPrice)

	finalBTC, finalUSDT := final.BTC, final.USDT
	state.FinalBTC = &finalBTC
	state.FinalUSDT = &finalUSDT
	state.EndPrice = &endPrice
	state.BotEndTime = s.now().UTC().Format(models.TimeLayout)
	state.ProfitBTC = final.BTC - state.InitialBTC
	state.ProfitTotal = totalFinal - totalInitial
	state.USDTChange = final.USDT - state.InitialUSDT
	state.TotalInitial = totalInitial
	state.TotalFinal = totalFinal

	if err := s.saveLocked(state); err != nil {
		return err
	}
	s.log.Infof("finalized run state: BTC %.8f, USDT %.2f, total %.2f USDT",
		final.BTC, final.USDT, totalFinal)
	return nil
}

// Load returns the current record, ErrNoRunState if none exists.
func (s *Store) Load() (*models.RunState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (*models.RunState, error) {
	data, err := os.ReadFile(s.infoPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoRunState
		}
		return nil, fmt.Errorf("read run state: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrNoRunState
	}

	var state models.RunState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("run state file is corrupt: %w", err)
	}
	return &state, nil
}

func (s *Store) saveLocked(state *models.RunState) error {
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	tmp := s.infoPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write run state: %w", err)
	}
	return os.Rename(tmp, s.infoPath)
}
