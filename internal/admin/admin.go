// Package admin provides the operator HTTP endpoints: read-only views of
// positions, ledger and the daily report, plus a TOTP-guarded forced
// liquidation.
package admin

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/pquerna/otp/totp"

	"rebound-trader/internal/logger"
	"rebound-trader/internal/markethours"
	"rebound-trader/internal/model"
)

// LedgerView is the capital ledger as shown to operators.
type LedgerView struct {
	TotalCapital int64            `json:"total_capital"`
	PerSymbolCap int64            `json:"per_symbol_cap"`
	Allocated    map[string]int64 `json:"allocated"`
	Available    int64            `json:"available"`
	OpenSlots    int              `json:"open_slots"`
}

// Engine is the slice of the trading engine the admin surface needs.
type Engine interface {
	Positions() []model.Position
	Ledger() LedgerView
	Report(ctx context.Context, day time.Time) (model.DailyReport, error)
	Liquidate(ctx context.Context, symbol string) error
}

// Handler serves the admin API.
type Handler struct {
	engine     Engine
	totpSecret string
}

// New creates the admin handler. totpSecret guards POST /api/liquidate;
// an empty secret disables forced liquidation entirely.
func New(engine Engine, totpSecret string) *Handler {
	return &Handler{engine: engine, totpSecret: totpSecret}
}

// Routes returns the admin endpoints under /api/, each request tagged
// with a trace ID for the structured access log.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/positions", h.handlePositions)
	mux.HandleFunc("/api/ledger", h.handleLedger)
	mux.HandleFunc("/api/report", h.handleReport)
	mux.HandleFunc("/api/liquidate", h.handleLiquidate)
	return traceMiddleware(mux)
}

func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithTraceID(r.Context(), logger.NewTraceID("admin", time.Now()))
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		attrs := append(logger.Attrs(ctx),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Duration("took", time.Since(start)),
		)
		slog.Info("admin request", attrs...)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	positions := h.engine.Positions()
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) handleLedger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Ledger())
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	day := time.Now().In(markethours.KST)
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, markethours.KST)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}

	report, err := h.engine.Report(r.Context(), day)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleLiquidate force-sells one position. Requires a valid TOTP code in
// the X-Admin-OTP header so a leaked URL alone cannot trigger sells.
func (h *Handler) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if h.totpSecret == "" {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "forced liquidation disabled"})
		return
	}
	if code := r.Header.Get("X-Admin-OTP"); !totp.Validate(code, h.totpSecret) {
		log.Printf("[admin] liquidate rejected: bad OTP from %s", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid OTP"})
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "symbol required"})
		return
	}

	if err := h.engine.Liquidate(r.Context(), symbol); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	log.Printf("[admin] forced liquidation of %s accepted", symbol)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "symbol": symbol})
}
