package runstate

import (
	"fmt"
	"os"
	"strings"
	"time"

	"binance-margin-bot-go/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
)

// Summary holds the derived numbers of a completed run alongside the
// rendered report text.
type Summary struct {
	StartTime    string
	EndTime      string
	Duration     time.Duration
	TotalInitial float64
	TotalFinal   float64
	ProfitTotal  float64
	ProfitBTC    float64
	USDTChange   float64
	Report       string
}

// Summarize computes the run's P&L and writes the human-readable
// report to trading_summary_report.txt. Both start and end timestamps
// must be present; a missing or zero end price defaults to the start
// price for valuation.
func (s *Store) Summarize() (*Summary, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	if state.BotStartTime == "" || state.BotEndTime == "" {
		return nil, ErrIncompleteRun
	}
	return s.summarizeState(state)
}

// SummarizeInterim renders a report for a run still in progress, valuing
// the given balances at the given price as of now. The run record itself
// is not modified.
func (s *Store) SummarizeInterim(balances models.Balances, price float64) (*Summary, error) {
	state, err := s.Load()
	if err != nil {
		return nil, err
	}
	if state.BotStartTime == "" {
		return nil, ErrIncompleteRun
	}

	interim := *state
	interim.BotEndTime = s.now().Format(models.TimeLayout)
	btc, usdt := balances.BTC, balances.USDT
	if price <= 0 {
		price = interim.StartPrice
	}
	interim.FinalBTC, interim.FinalUSDT, interim.EndPrice = &btc, &usdt, &price
	return s.summarizeState(&interim)
}

func (s *Store) summarizeState(state *models.RunState) (*Summary, error) {
	startAt, err := time.Parse(models.TimeLayout, state.BotStartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	endAt, err := time.Parse(models.TimeLayout, state.BotEndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	startPrice := state.StartPrice
	endPrice := startPrice
	if state.EndPrice != nil && *state.EndPrice > 0 {
		endPrice = *state.EndPrice
	}

	var finalBTC, finalUSDT float64
	if state.FinalBTC != nil {
		finalBTC = *state.FinalBTC
	}
	if state.FinalUSDT != nil {
		finalUSDT = *state.FinalUSDT
	}

	totalInitial := state.InitialBTC*startPrice + state.InitialUSDT
	totalFinal := finalBTC*endPrice + finalUSDT

	summary := &Summary{
		StartTime:    state.BotStartTime,
		EndTime:      state.BotEndTime,
		Duration:     endAt.Sub(startAt),
		TotalInitial: totalInitial,
		TotalFinal:   totalFinal,
		ProfitTotal:  totalFinal - totalInitial,
		ProfitBTC:    finalBTC - state.InitialBTC,
		USDTChange:   finalUSDT - state.InitialUSDT,
	}
	summary.Report = renderReport(state, summary, finalBTC, finalUSDT)

	if err := os.WriteFile(s.reportPath, []byte(summary.Report), 0o644); err != nil {
		return nil, fmt.Errorf("write summary report: %w", err)
	}
	s.log.Infof("trading summary report saved to %s", s.reportPath)
	return summary, nil
}

func renderReport(state *models.RunState, sum *Summary, finalBTC, finalUSDT float64) string {
	var sb strings.Builder

	t := table.NewWriter()
	t.SetOutputMirror(&sb)
	t.SetStyle(table.StyleLight)
	t.SetTitle("TRADING BOT SUMMARY REPORT")
	t.AppendRows([]table.Row{
		{"Bot Start Time", sum.StartTime},
		{"Bot End Time", sum.EndTime},
		{"Total Duration", sum.Duration.String()},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"BTC Balance (Initial)", fmt.Sprintf("%.8f BTC", state.InitialBTC)},
		{"USDT Balance (Initial)", fmt.Sprintf("%.2f USDT", state.InitialUSDT)},
		{"Total Initial Value", fmt.Sprintf("%.2f USDT", sum.TotalInitial)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"BTC Balance (Final)", fmt.Sprintf("%.8f BTC", finalBTC)},
		{"USDT Balance (Final)", fmt.Sprintf("%.2f USDT", finalUSDT)},
		{"Total Final Value", fmt.Sprintf("%.2f USDT", sum.TotalFinal)},
	})
	t.AppendSeparator()
	t.AppendRows([]table.Row{
		{"Total Profit/Loss", fmt.Sprintf("%.2f USDT", sum.ProfitTotal)},
		{"BTC Profit/Loss", fmt.Sprintf("%.8f BTC", sum.ProfitBTC)},
		{"USDT Change", fmt.Sprintf("%.2f USDT", sum.USDTChange)},
	})
	t.Render()

	return sb.String()
}
