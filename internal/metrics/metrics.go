// Package metrics exposes Prometheus counters/histograms/gauges for the
// trading pipeline and a /healthz liveness endpoint, grounded on the
// teacher's metrics.go: the same NewMetrics/MustRegister/HealthStatus/Server
// shape, generalized from the market-data engine's tick/candle/Redis/SQLite
// health surface to the confluence engine's scanner/AI/execution surface.
package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus metric the pipeline emits.
type Metrics struct {
	TicksTotal   prometheus.Counter
	CandlesTotal *prometheus.CounterVec // labels: timeframe
	WSReconnects prometheus.Counter

	SwingsDetected *prometheus.CounterVec // labels: timeframe, kind
	SweepsDetected *prometheus.CounterVec // labels: bias
	SweepsExpired  prometheus.Counter

	ConfluenceAdvances *prometheus.CounterVec // labels: to_phase
	ConfluenceComplete prometheus.Counter
	ConfluenceExpired  prometheus.Counter

	AIDecisionsTotal   *prometheus.CounterVec // labels: outcome=approved|rejected
	AIOverridesTotal   *prometheus.CounterVec // labels: reason
	AIRejectsTotal     *prometheus.CounterVec // labels: reason
	AILatency          prometheus.Histogram
	RiskGateBlocks     *prometheus.CounterVec // labels: check

	TradesOpened      prometheus.Counter
	TradesClosed      *prometheus.CounterVec // labels: outcome
	TradeExecutionDur prometheus.Histogram
	TrailingPromotions prometheus.Counter

	SQLiteCommitDur prometheus.Histogram

	ExchangeRequestDur *prometheus.HistogramVec // labels: route
	ExchangeErrors     *prometheus.CounterVec   // labels: route
}

// NewMetrics registers and returns every metric.
func NewMetrics() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ticks_total",
			Help: "Total BTC-USD trade ticks received from the exchange feed",
		}),
		CandlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_candles_total",
			Help: "Total closed candles processed, by timeframe",
		}, []string{"timeframe"}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_ws_reconnects_total",
			Help: "Total tick-stream reconnection attempts",
		}),

		SwingsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_swings_detected_total",
			Help: "Confirmed swing highs/lows, by timeframe and kind",
		}, []string{"timeframe", "kind"}),
		SweepsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_sweeps_detected_total",
			Help: "Liquidity sweeps detected, by implied bias",
		}, []string{"bias"}),
		SweepsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_sweeps_expired_total",
			Help: "Sweeps expired without reaching COMPLETE",
		}),

		ConfluenceAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_confluence_advances_total",
			Help: "Confluence state phase advances, by destination phase",
		}, []string{"to_phase"}),
		ConfluenceComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_confluence_complete_total",
			Help: "Confluence states that reached COMPLETE",
		}),
		ConfluenceExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_confluence_expired_total",
			Help: "Confluence states that expired before COMPLETE",
		}),

		AIDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_ai_decisions_total",
			Help: "AI adapter verdicts, by outcome",
		}, []string{"outcome"}),
		AIOverridesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_ai_overrides_total",
			Help: "Market-safety overrides that forced a no-decision, by reason",
		}, []string{"reason"}),
		AIRejectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_ai_rejects_total",
			Help: "Validation rejections of the model's response, by reason",
		}, []string{"reason"}),
		AILatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_ai_latency_seconds",
			Help:    "Time spent in the AI adapter's prompt/response round trip",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		RiskGateBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_risk_gate_blocks_total",
			Help: "Setups blocked by the pre-trade risk gate, by failing check",
		}, []string{"check"}),

		TradesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_trades_opened_total",
			Help: "Trades opened by the executor",
		}),
		TradesClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_trades_closed_total",
			Help: "Trades closed, by outcome",
		}, []string{"outcome"}),
		TradeExecutionDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_trade_execution_duration_seconds",
			Help:    "Duration of a successful executor.Execute call: entry fill, stop and take-profit placement, and trade persistence",
			Buckets: prometheus.DefBuckets,
		}),
		TrailingPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trader_trailing_promotions_total",
			Help: "Stop-loss trailing promotions applied by the monitor",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trader_sqlite_commit_duration_seconds",
			Help:    "SQLite write latency",
			Buckets: prometheus.DefBuckets,
		}),

		ExchangeRequestDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trader_exchange_request_duration_seconds",
			Help:    "Exchange REST request latency, by logical route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		ExchangeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trader_exchange_errors_total",
			Help: "Exchange REST request failures, by logical route",
		}, []string{"route"}),
	}

	prometheus.MustRegister(
		m.TicksTotal,
		m.CandlesTotal,
		m.WSReconnects,
		m.SwingsDetected,
		m.SweepsDetected,
		m.SweepsExpired,
		m.ConfluenceAdvances,
		m.ConfluenceComplete,
		m.ConfluenceExpired,
		m.AIDecisionsTotal,
		m.AIOverridesTotal,
		m.AIRejectsTotal,
		m.AILatency,
		m.RiskGateBlocks,
		m.TradesOpened,
		m.TradesClosed,
		m.TradeExecutionDur,
		m.TrailingPromotions,
		m.SQLiteCommitDur,
		m.ExchangeRequestDur,
		m.ExchangeErrors,
	)

	return m
}

// HealthStatus tracks the pipeline's liveness for the /healthz endpoint.
type HealthStatus struct {
	mu sync.RWMutex

	FeedConnected  bool      `json:"feed_connected"`
	LastTickTime   time.Time `json:"last_tick_time"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	ExchangeOK     bool      `json:"exchange_ok"`
	PaperMode      bool      `json:"paper_mode"`

	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

func NewHealthStatus(paperMode bool) *HealthStatus {
	return &HealthStatus{StartedAt: time.Now(), PaperMode: paperMode}
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetExchangeOK(v bool) {
	h.mu.Lock()
	h.ExchangeOK = v
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
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
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
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

	if !h.FeedConnected || !h.SQLiteOK || !h.ExchangeOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		PaperMode       bool    `json:"paper_mode"`
		FeedConnected   bool    `json:"feed_connected"`
		LastTickTime    string  `json:"last_tick_time"`
		TickAge         string  `json:"tick_age"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		ExchangeOK      bool    `json:"exchange_ok"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		PaperMode:       h.PaperMode,
		FeedConnected:   h.FeedConnected,
		LastTickTime:    h.LastTickTime.Format(time.RFC3339),
		TickAge:         tickAge,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		ExchangeOK:      h.ExchangeOK,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
