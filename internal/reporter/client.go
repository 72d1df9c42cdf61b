// Package reporter is the bot-side client of the live-state
// aggregator. Every call is a best-effort authenticated POST wrapped
// in the shared bounded backoff; a push that exhausts its retries is
// logged by the caller and never aborts the polling loop.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"binance-margin-bot-go/internal/models"
	"binance-margin-bot-go/internal/retry"

	"go.uber.org/zap"
)

// 与交易所客户端保持一致的认证头。
const apiKeyHeader = "X-MBX-APIKEY"

// Client pushes bot status and data snapshots to the aggregator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	attempts   int
	baseDelay  time.Duration
	log        *zap.SugaredLogger
}

// NewClient builds a client for the aggregator at baseURL. The apiKey
// doubles as the shared bearer token.
func NewClient(baseURL, apiKey string, cfg *models.Config, log *zap.SugaredLogger) *Client {
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		attempts:   cfg.RetryAttempts,
		baseDelay:  time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
		log:        log,
	}
}

// Heartbeat marks the bot alive on the aggregator.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.post(ctx, "/update_bot_status", nil)
}

// SetStatus explicitly flips the bot status, used on shutdown.
func (c *Client) SetStatus(ctx context.Context, status string) error {
	return c.post(ctx, "/set_bot_status", map[string]string{"status": status})
}

// PushData sends a price/balance/transaction snapshot. An empty
// update is valid and signals a disconnected venue.
func (c *Client) PushData(ctx context.Context, update models.StatusUpdate) error {
	return c.post(ctx, "/update_data", update)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", path, err)
		}
	}

	return retry.Run(c.attempts, c.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(apiKeyHeader, c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post %s: %w", path, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, raw)
		}
		return nil
	})
}
