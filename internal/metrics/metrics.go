// Package metrics exposes Prometheus metrics and the health endpoint for
// the trading engine.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	ScansTotal       prometheus.Counter
	CandidatesTotal  prometheus.Counter
	EntriesTotal     *prometheus.CounterVec // labels: stage=first|average_down
	ExitsTotal       *prometheus.CounterVec // labels: reason
	ExitRetriesTotal prometheus.Counter
	OrdersFailed     *prometheus.CounterVec // labels: kind=transient|rejected
	ModelOutages     prometheus.Counter

	OpenPositions    prometheus.Gauge
	AllocatedCapital prometheus.Gauge // won
	AvailableCapital prometheus.Gauge // won
	MarketState      prometheus.Gauge // 0=closed, 1=open

	CycleDur      prometheus.Histogram
	QuoteFetchDur prometheus.Histogram
	ModelScore    prometheus.Histogram

	WSReconnects         prometheus.Counter
	SnapshotBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_scans_total",
			Help: "Total crash scans executed",
		}),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_candidates_total",
			Help: "Total crash candidates that cleared threshold and confidence",
		}),
		EntriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_entries_total",
			Help: "Buy fills by entry stage",
		}, []string{"stage"}),
		ExitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exits_total",
			Help: "Sell fills by exit reason",
		}, []string{"reason"}),
		ExitRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_exit_retries_total",
			Help: "Retried sells for positions flagged exit-pending",
		}),
		OrdersFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_orders_failed_total",
			Help: "Failed orders by failure kind",
		}, []string{"kind"}),
		ModelOutages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_model_outages_total",
			Help: "Scan cycles aborted because the rebound model was unavailable",
		}),

		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_open_positions",
			Help: "Currently open positions",
		}),
		AllocatedCapital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_allocated_capital_won",
			Help: "Capital currently reserved in the ledger",
		}),
		AvailableCapital: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_available_capital_won",
			Help: "Capital still available for new entries",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_market_state",
			Help: "KRX session state (0=closed, 1=open)",
		}),

		CycleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_cycle_duration_seconds",
			Help:    "Full decision cycle latency (exits then entries)",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		QuoteFetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_quote_fetch_duration_seconds",
			Help:    "Watchlist quote fan-out latency per scan",
			Buckets: prometheus.DefBuckets,
		}),
		ModelScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_model_score",
			Help:    "Rebound probability of scored candidates",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
		}),

		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Realtime feed reconnection attempts",
		}),
		SnapshotBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trader_snapshot_breaker_state",
			Help: "Redis snapshot circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
	}

	prometheus.MustRegister(
		m.ScansTotal,
		m.CandidatesTotal,
		m.EntriesTotal,
		m.ExitsTotal,
		m.ExitRetriesTotal,
		m.OrdersFailed,
		m.ModelOutages,
		m.OpenPositions,
		m.AllocatedCapital,
		m.AvailableCapital,
		m.MarketState,
		m.CycleDur,
		m.QuoteFetchDur,
		m.ModelScore,
		m.WSReconnects,
		m.SnapshotBreakerState,
	)

	return m
}

// HealthStatus represents engine health for the /healthz probe.
type HealthStatus struct {
	mu sync.RWMutex

	EngineRunning  bool      `json:"engine_running"`
	LastCycleTime  time.Time `json:"last_cycle_time"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	WSConnected    bool      `json:"ws_connected"`
	OpenPositions  int       `json:"open_positions"`

	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{StartedAt: time.Now()}
}

func (h *HealthStatus) SetEngineRunning(v bool) {
	h.mu.Lock()
	h.EngineRunning = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastCycleTime(t time.Time) {
	h.mu.Lock()
	h.LastCycleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetOpenPositions(n int) {
	h.mu.Lock()
	h.OpenPositions = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings the journal database and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !h.EngineRunning || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	cycleAge := ""
	if !h.LastCycleTime.IsZero() {
		cycleAge = time.Since(h.LastCycleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		EngineRunning   bool    `json:"engine_running"`
		LastCycleTime   string  `json:"last_cycle_time"`
		CycleAge        string  `json:"cycle_age"`
		OpenPositions   int     `json:"open_positions"`
		WSConnected     bool    `json:"ws_connected"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		EngineRunning:   h.EngineRunning,
		LastCycleTime:   h.LastCycleTime.Format(time.RFC3339),
		CycleAge:        cycleAge,
		OpenPositions:   h.OpenPositions,
		WSConnected:     h.WSConnected,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics, /healthz and any extra
// handlers mounted before Start.
type Server struct {
	health *HealthStatus
	addr   string
	mux    *http.ServeMux
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		mux:    mux,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handle mounts an additional handler. Call before Start.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
