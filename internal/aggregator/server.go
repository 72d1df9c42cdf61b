package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"binance-margin-bot-go/internal/models"

	"go.uber.org/zap"
)

// apiKeyHeader matches the header the bot uses to authenticate pushes.
const apiKeyHeader = "X-MBX-APIKEY"

// Server exposes the aggregator over HTTP. Endpoints that mutate state
// require the shared token; read endpoints are open to the dashboard.
type Server struct {
	agg   *Aggregator
	hub   *Hub
	token string
	log   *zap.SugaredLogger

	httpServer *http.Server
}

// NewServer wires the aggregator into an HTTP server listening on port.
// An empty token disables authentication (useful for local testing).
func NewServer(port int, token string, agg *Aggregator, hub *Hub, log *zap.SugaredLogger) *Server {
	s := &Server{agg: agg, hub: hub, token: token, log: log}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux through httptest without opening a socket.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/update_bot_status", s.requireAuth(s.handleHeartbeat))
	mux.HandleFunc("/set_bot_status", s.requireAuth(s.handleSetStatus))
	mux.HandleFunc("/update_data", s.requireAuth(s.handleUpdateData))
	mux.HandleFunc("/execute_trade", s.requireAuth(s.handleExecuteTrade))
	mux.HandleFunc("/api/data", s.handleGetData)
	if s.hub != nil {
		mux.HandleFunc("/ws/live", s.handleLiveWS)
	}
	return mux
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Infof("aggregator server listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests and closes websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return s.httpServer.Shutdown(ctx)
}

// requireAuth accepts either the exchange-style API key header or a bearer
// token. Both carry the same shared secret.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			provided := r.Header.Get(apiKeyHeader)
			if provided == "" {
				provided = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if provided != s.token {
				writeError(w, http.StatusUnauthorized, "invalid or missing API token")
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state := s.agg.Heartbeat()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"bot_status": state.BotStatus,
	})
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state, err := s.agg.SetStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"bot_status": state.BotStatus,
	})
}

func (s *Server) handleUpdateData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var update models.StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	state := s.agg.UpdateData(update)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "success",
		"updated_data": state,
	})
}

func (s *Server) handleExecuteTrade(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req models.TradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tx, err := s.agg.ExecuteTrade(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "success",
		"transaction": tx,
	})
}

// handleGetData always answers 200; a bot outage only shows up in the
// connection_status field, never as an HTTP error.
func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state := s.agg.Snapshot(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data":   state,
	})
}

func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(w, r, s.agg.Snapshot(r.Context()))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Too late for a status change; the connection is likely gone.
		return
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{
		"status":  "error",
		"message": message,
	})
}
