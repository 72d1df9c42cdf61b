// Package ledger implements the append-only, retention-capped
// transaction history file. The on-disk format is line-oriented and
// pipe-delimited so existing tooling that tails the file keeps
// working:
//
//	TS | TYPE | Amount: A BTC | Price: P USDT | Total: V USDT | Order ID: ID
//
// Records are immutable once appended. Concurrent writers within the
// process are serialized by an internal mutex; cross-process writers
// are not supported.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"binance-margin-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Type classifies a ledger record. Failure and partial records are
// synthetic: they carry a reason instead of an order ID and are never
// deduplicated against each other.
type Type string

const (
	TypeBuy               Type = "BUY"
	TypeSell              Type = "SELL"
	TypePartialBuy        Type = "PARTIAL BUY"
	TypePartialSell       Type = "PARTIAL SELL"
	TypeFailedBuy         Type = "FAILED BUY"
	TypeFailedSell        Type = "FAILED SELL"
	TypeFailedPriceChange Type = "FAILED PRICE CHANGE"
)

// Transaction is a single ledger record. Amounts are decimals so the
// stored textual precision (8 dp amount, 2 dp price/total) round-trips
// without float drift.
type Transaction struct {
	Timestamp  time.Time
	Type       Type
	Amount     decimal.Decimal
	Price      decimal.Decimal
	TotalValue decimal.Decimal
	// OrderID holds the venue order ID for executed trades, or a
	// human-readable failure reason for synthetic records.
	OrderID string
}

// NewTransaction builds a record from float inputs, quantizing to the
// stored precision.
func NewTransaction(t Type, amount, price, total float64, orderID string) Transaction {
	return Transaction{
		Timestamp:  time.Now().UTC(),
		Type:       t,
		Amount:     decimal.NewFromFloat(amount).Round(8),
		Price:      decimal.NewFromFloat(price).Round(2),
		TotalValue: decimal.NewFromFloat(total).Round(2),
		OrderID:    orderID,
	}
}

// Live converts the record to the wire representation pushed to the
// aggregator. Synthetic records keep their reason in order_id and are
// therefore never deduplicated server-side.
func (tx Transaction) Live() models.LiveTransaction {
	return models.LiveTransaction{
		Timestamp:  tx.Timestamp.Format(models.TimeLayout),
		Type:       string(tx.Type),
		Amount:     tx.Amount.StringFixed(8),
		Price:      tx.Price.StringFixed(2),
		TotalValue: tx.TotalValue.StringFixed(2),
		OrderID:    tx.OrderID,
	}
}

// Ledger is the single-writer handle on the transaction history file.
type Ledger struct {
	path     string
	maxLines int
	mu       sync.Mutex
	log      *zap.SugaredLogger
}

// New opens a ledger at dir/transaction_history.txt with the given
// retention cap. The file is created lazily on first append.
func New(dir string, maxLines int, log *zap.SugaredLogger) (*Ledger, error) {
	if maxLines <= 0 {
		maxLines = 500
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{
		path:     filepath.Join(dir, "transaction_history.txt"),
		maxLines: maxLines,
		log:      log,
	}, nil
}

// Path returns the location of the backing file.
func (l *Ledger) Path() string {
	return l.path
}

// Append rotates the file down to the retention cap and writes exactly
// one record. The write is a single buffered line followed by a flush,
// so a crash never leaves a torn record visible to the parser (the
// parser skips partial lines regardless).
func (l *Ledger) Append(tx Transaction) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.rotateLocked(); err != nil {
		// Rotation failure must not lose the record itself.
		l.log.Errorf("ledger rotation failed: %v", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(formatLine(tx) + "\n"); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	return nil
}

// ReadRecent parses the last n records in file order. Malformed lines
// are skipped, a missing file yields an empty slice.
func (l *Ledger) ReadRecent(n int) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lines, err := l.readLines()
	if err != nil {
		if os.IsNotExist(err) {
			return []Transaction{}, nil
		}
		return nil, err
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	txs := make([]Transaction, 0, len(lines))
	for _, line := range lines {
		tx, err := parseLine(line)
		if err != nil {
			l.log.Warnf("skipping malformed ledger line: %v", err)
			continue
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// rotateLocked truncates the file to the most recent maxLines records,
// oldest first. Called under the mutex before every append.
func (l *Ledger) rotateLocked() error {
	lines, err := l.readLines()
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(lines) <= l.maxLines {
		return nil
	}

	keep := lines[len(lines)-l.maxLines:]
	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for _, line := range keep {
		if _, err := w.WriteString(line + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *Ledger) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func formatLine(tx Transaction) string {
	return fmt.Sprintf("%s | %s | Amount: %s BTC | Price: %s USDT | Total: %s USDT | Order ID: %s",
		tx.Timestamp.Format(models.TimeLayout),
		tx.Type,
		tx.Amount.StringFixed(8),
		tx.Price.StringFixed(2),
		tx.TotalValue.StringFixed(2),
		tx.OrderID,
	)
}

func parseLine(line string) (Transaction, error) {
	parts := strings.Split(line, " | ")
	if len(parts) != 6 {
		return Transaction{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}

	ts, err := time.Parse(models.TimeLayout, parts[0])
	if err != nil {
		return Transaction{}, fmt.Errorf("bad timestamp %q: %w", parts[0], err)
	}

	amount, err := parseLabeledDecimal(parts[2], "Amount")
	if err != nil {
		return Transaction{}, err
	}
	price, err := parseLabeledDecimal(parts[3], "Price")
	if err != nil {
		return Transaction{}, err
	}
	total, err := parseLabeledDecimal(parts[4], "Total")
	if err != nil {
		return Transaction{}, err
	}

	orderID := strings.TrimPrefix(parts[5], "Order ID: ")

	return Transaction{
		Timestamp:  ts.UTC(),
		Type:       Type(parts[1]),
		Amount:     amount,
		Price:      price,
		TotalValue: total,
		OrderID:    orderID,
	}, nil
}

// parseLabeledDecimal extracts the decimal out of a field such as
// "Amount: 0.00001500 BTC", preserving the literal textual value.
func parseLabeledDecimal(field, label string) (decimal.Decimal, error) {
	rest, ok := strings.CutPrefix(field, label+": ")
	if !ok {
		return decimal.Zero, fmt.Errorf("field %q missing label %q", field, label)
	}
	value := strings.Fields(rest)
	if len(value) == 0 {
		return decimal.Zero, fmt.Errorf("field %q has no value", field)
	}
	d, err := decimal.NewFromString(value[0])
	if err != nil {
		return decimal.Zero, fmt.Errorf("field %q: %w", field, err)
	}
	return d, nil
}
