package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"binance-margin-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testToken = "secret-token"

func newTestServer(t *testing.T) (*Server, *Aggregator) {
	t.Helper()
	agg := newTestAggregator(nil)
	srv := NewServer(5000, testToken, agg, nil, zap.NewNop().Sugar())
	return srv, agg
}

func doRequest(t *testing.T, srv *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(apiKeyHeader, token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAuthRejectsMissingAndWrongToken(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/update_bot_status", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/update_bot_status", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsBearerToken(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/update_bot_status", nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHeartbeatEndpointActivatesBot(t *testing.T) {
	srv, agg := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/update_bot_status", testToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status    string `json:"status"`
		BotStatus string `json:"bot_status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, models.BotStatusActive, resp.BotStatus)

	state := agg.Snapshot(context.Background())
	assert.Equal(t, models.BotStatusActive, state.BotStatus)
}

func TestSetStatusEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/set_bot_status", testToken, map[string]string{"status": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/set_bot_status", testToken, map[string]string{"status": "inactive"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateDataEndpointReturnsMergedState(t *testing.T) {
	srv, _ := newTestServer(t)

	update := models.StatusUpdate{
		PriceData: &models.PriceData{BotStartPrice: "100.00", CurrentPrice: "100.50", PriceChange: "0.50%"},
		Transactions: []models.LiveTransaction{
			{Timestamp: "2026-08-28 10:00:00", Type: "BUY", OrderID: "42"},
		},
	}
	rec := doRequest(t, srv, http.MethodPost, "/update_data", testToken, update)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string           `json:"status"`
		UpdatedData models.LiveState `json:"updated_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "100.50", resp.UpdatedData.PriceData.CurrentPrice)
	assert.Len(t, resp.UpdatedData.Transactions, 1)
}

func TestUpdateDataEndpointRejectsBadJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/update_data", bytes.NewBufferString("{not json"))
	req.Header.Set(apiKeyHeader, testToken)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExecuteTradeEndpoint(t *testing.T) {
	srv, agg := newTestServer(t)
	agg.UpdateData(models.StatusUpdate{
		PriceData: &models.PriceData{CurrentPrice: "100.00"},
		Balances:  &models.LiveBalances{BTCBalance: "50.00 USDT", USDTBalance: "50.00 USDT"},
	})

	rec := doRequest(t, srv, http.MethodPost, "/execute_trade", testToken, models.TradeRequest{Action: "buy", Amount: 0.1})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string                 `json:"status"`
		Transaction models.LiveTransaction `json:"transaction"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "BUY", resp.Transaction.Type)
	assert.Equal(t, "10.00", resp.Transaction.TotalValue)

	rec = doRequest(t, srv, http.MethodPost, "/execute_trade", testToken, models.TradeRequest{Action: "buy", Amount: 100})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetDataAlwaysReturns200(t *testing.T) {
	srv, _ := newTestServer(t)

	// no auth required, empty initial state still answers 200
	rec := doRequest(t, srv, http.MethodGet, "/api/data", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status string           `json:"status"`
		Data   models.LiveState `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "N/A", resp.Data.PriceData.CurrentPrice)
	assert.Equal(t, models.ConnectionDisconnected, resp.Data.ConnectionStatus)
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/update_data", testToken, nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/data", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
