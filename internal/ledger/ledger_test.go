package ledger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T, maxLines int) *Ledger {
	t.Helper()
	l, err := New(t.TempDir(), maxLines, zap.NewNop().Sugar())
	require.NoError(t, err)
	return l
}

func tx(orderID string, amount float64) Transaction {
	return Transaction{
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Type:       TypeBuy,
		Amount:     decimal.NewFromFloat(amount).Round(8),
		Price:      decimal.NewFromFloat(88185.00).Round(2),
		TotalValue: decimal.NewFromFloat(1.32).Round(2),
		OrderID:    orderID,
	}
}

func TestReadRecentMissingFileIsEmpty(t *testing.T) {
	l := newTestLedger(t, 500)

	txs, err := l.ReadRecent(20)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestAppendAndReadBackRoundTrip(t *testing.T) {
	l := newTestLedger(t, 500)

	in := NewTransaction(TypeSell, 0.000015, 88185.004, 1.3227, "ord-1")
	require.NoError(t, l.Append(in))

	txs, err := l.ReadRecent(10)
	require.NoError(t, err)
	require.Len(t, txs, 1)

	out := txs[0]
	assert.Equal(t, TypeSell, out.Type)
	assert.Equal(t, "0.00001500", out.Amount.StringFixed(8))
	assert.Equal(t, "88185.00", out.Price.StringFixed(2))
	assert.Equal(t, "1.32", out.TotalValue.StringFixed(2))
	assert.Equal(t, "ord-1", out.OrderID)
}

// Appends beyond the retention cap must leave exactly the most recent
// min(n, cap) records, in original order.
func TestRotationKeepsMostRecentRecordsInOrder(t *testing.T) {
	const cap = 50
	l := newTestLedger(t, cap)

	for i := 0; i < cap+25; i++ {
		require.NoError(t, l.Append(tx(orderIDFor(i), 0.001)))
	}

	txs, err := l.ReadRecent(0)
	require.NoError(t, err)
	require.Len(t, txs, cap)

	// Oldest 25 dropped; survivors keep append order.
	for i, got := range txs {
		assert.Equal(t, orderIDFor(25+i), got.OrderID)
	}

	recent, err := l.ReadRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, orderIDFor(cap+24), recent[len(recent)-1].OrderID)
}

func TestMalformedLinesAreSkippedNotFatal(t *testing.T) {
	l := newTestLedger(t, 500)

	require.NoError(t, l.Append(tx("good-1", 0.001)))

	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("this line is garbage\n2025-03-01 12:00:00 | BUY | truncated\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, l.Append(tx("good-2", 0.002)))

	txs, err := l.ReadRecent(10)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	assert.Equal(t, "good-1", txs[0].OrderID)
	assert.Equal(t, "good-2", txs[1].OrderID)
}

func TestFailureRecordKeepsReasonInOrderIDField(t *testing.T) {
	l := newTestLedger(t, 500)

	reason := "Insufficient USDT. Required: 1.30 USDT, Available: 0.52 USDT"
	require.NoError(t, l.Append(NewTransaction(TypeFailedBuy, 0, 88000, 0, reason)))

	txs, err := l.ReadRecent(1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, TypeFailedBuy, txs[0].Type)
	assert.Equal(t, reason, txs[0].OrderID)
}

func TestLedgerFileLocation(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 500, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "transaction_history.txt"), l.Path())
}

func orderIDFor(i int) string {
	return "order-" + decimal.NewFromInt(int64(i)).String()
}
