package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trading-systemv1/config"
	"trading-systemv1/internal/ai"
	"trading-systemv1/internal/bus"
	"trading-systemv1/internal/candleagg"
	"trading-systemv1/internal/candlestore"
	"trading-systemv1/internal/confluence"
	"trading-systemv1/internal/econcalendar"
	"trading-systemv1/internal/exchange"
	"trading-systemv1/internal/exchange/authtoken"
	"trading-systemv1/internal/exchange/coinbase"
	"trading-systemv1/internal/exchange/paper"
	"trading-systemv1/internal/exchange/wsfeed"
	"trading-systemv1/internal/executor"
	"trading-systemv1/internal/llmclient/httpclient"
	"trading-systemv1/internal/logger"
	"trading-systemv1/internal/marketcond"
	"trading-systemv1/internal/metrics"
	"trading-systemv1/internal/model"
	"trading-systemv1/internal/monitor"
	"trading-systemv1/internal/notification"
	"trading-systemv1/internal/pipeline"
	"trading-systemv1/internal/ratelimit"
	"trading-systemv1/internal/risk"
	"trading-systemv1/internal/scheduler"
	"trading-systemv1/internal/sizer"
	sqlitestore "trading-systemv1/internal/store/sqlite"
	"trading-systemv1/internal/sweep"
	"trading-systemv1/internal/swing"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[trader] starting...")

	cfg := config.Load()
	slogLog := logger.Init("trader", slog.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus(cfg.PaperMode)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Durable store ----
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		log.Fatalf("[trader] data dir init failed: %v", err)
	}
	store, err := sqlitestore.Open(sqlitestore.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trader] sqlite init failed: %v", err)
	}
	defer store.Close()
	health.SetFeedConnected(false)
	go health.StartLivenessChecker(ctx, store.DB(), 10*time.Second)
	slogLog.Info("trader: sqlite store ready", "path", cfg.SQLitePath)

	candles := candlestore.New(store.Candles())
	swings := swing.New(store.Swings())
	sweeps := sweep.New(store.Swings(), store.Sweeps())
	eventBus := bus.New(5000, slogLog)
	confluenceMachine := confluence.New(store.Confluences(), eventBus)

	// ---- Startup recovery: expire stale confluence states, re-arm the rest ----
	validator := confluence.NewValidator(store.Confluences(), store.Sweeps(), prom, slogLog)
	recovered, err := validator.Recover(ctx)
	if err != nil {
		log.Fatalf("[trader] confluence recovery failed: %v", err)
	}
	slogLog.Info("trader: confluence recovery complete", "expired", recovered.Expired, "re_armed", recovered.ReArmed, "invalid", len(recovered.Invalid))

	// ---- Prime swing windows from the most recent closed candles ----
	for _, tf := range []model.Timeframe{model.TF4H, model.TF5M} {
		recent, err := candles.Latest(ctx, tf, 5)
		if err != nil {
			slogLog.Error("trader: seed swing window failed", "timeframe", tf, "error", err)
			continue
		}
		swings.Seed(tf, recent)
	}

	// ---- Exchange adapters ----
	limits := ratelimit.New(ratelimit.DefaultLimits())
	coinbaseClient := coinbase.New(coinbase.Config{
		APIKey:    cfg.CoinbaseAPIKey,
		APISecret: cfg.CoinbaseAPISecret,
		ProductID: cfg.CoinbaseProductID,
	}, limits)

	var restClient exchange.RESTClient = coinbaseClient
	if cfg.PaperMode {
		restClient = paper.New(cfg.PaperStartingBalance, cfg.PaperSlippageBps)
		slogLog.Info("trader: paper mode active", "starting_balance", cfg.PaperStartingBalance)
	}

	var minter exchange.TokenMinter
	if !cfg.PaperMode && cfg.CoinbaseTOTPSecret != "" {
		minter = authtoken.New(authtoken.Config{TOTPSecret: cfg.CoinbaseTOTPSecret}, coinbaseClient)
	}
	feed := wsfeed.New(wsfeed.Config{ProductID: cfg.CoinbaseProductID}, minter, slogLog)
	feed.OnReconnect = func() { prom.WSReconnects.Inc() }

	exchangeHealth := exchange.Health{Client: restClient}

	// ---- Market conditions (AI safety inputs) ----
	market := marketcond.New(marketcond.Config{}, restClient)

	// ---- Domain collaborators ----
	sizerC := sizer.New(store.Swings())
	riskGate := risk.New(store.Trades(), exchangeHealth, risk.Limits{MinAccountBalance: cfg.MinAccountBalance})

	llm := httpclient.New(httpclient.Config{
		BaseURL: cfg.LLMEndpoint,
		Model:   cfg.LLMModel,
		APIKey:  cfg.LLMAPIKey,
		Timeout: cfg.LLMTimeout,
	})
	aiAdapter := ai.New(llm)
	exec := executor.New(restClient, store.Trades(), slogLog)

	trailingMode := monitor.TrailingBreakeven
	if cfg.TrailingMode == "dynamic_lock" {
		trailingMode = monitor.TrailingDynamicLock
	}
	mon := monitor.New(monitor.Config{Mode: trailingMode, LockInFraction: cfg.LockInFraction}, restClient, store.Trades(), prom, slogLog)

	econCal := econcalendar.New(loadEconEvents())

	var telegram notification.Notifier
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		telegram = notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
	}
	var webhook notification.Notifier
	if cfg.WebhookURL != "" {
		webhook = notification.NewWebhookNotifier(cfg.WebhookURL)
	}
	notifier := notification.NewMultiNotifier(notification.NewLogNotifier(), telegram, webhook)

	// ---- Wire the scanner chain to the bus ----
	sched := scheduler.New(scheduler.Config{MonitorInterval: cfg.MonitorInterval}, scheduler.Dependencies{
		Bus:        eventBus,
		Candles:    candles,
		Swings:     swings,
		Sweeps:     sweeps,
		Confluence: confluenceMachine,
		SweepRepo:  store.Sweeps(),
		CandleRepo: store.Candles(),
		Monitor:    mon,
		Metrics:    prom,
	}, slogLog)

	pipe := pipeline.New(pipeline.Dependencies{
		Bus:        eventBus,
		Sweeps:     store.Sweeps(),
		Confluence: store.Confluences(),
		Flags:      store.Flags(),
		Sizer:      sizerC,
		Risk:       riskGate,
		AI:         aiAdapter,
		Executor:   exec,
		Exchange:   restClient,
		Market:     market,
		Econ:       econCal,
		Notifier:   notifier,
		Metrics:    prom,
	}, slogLog)

	go sched.Run(ctx)
	go pipe.Run(ctx)

	// ---- Tick ingestion: feed -> candle aggregation -> bus, and emergency
	// stop polling ----
	tickCh := make(chan model.Tick, 1000)
	go func() {
		if err := feed.Start(ctx, tickCh); err != nil && ctx.Err() == nil {
			slogLog.Error("trader: tick feed stopped", "stage", "wsfeed", "error", err)
		}
	}()

	agg := candleagg.New()
	agg.OnLateTick = func() { /* dropped tick behind watermark, not worth a metric on its own */ }

	go func() {
		emergencyPoll := time.NewTicker(10 * time.Second)
		defer emergencyPoll.Stop()
		wasStopped := false

		for {
			select {
			case <-ctx.Done():
				for _, c := range agg.Flush() {
					persistAndPublish(ctx, candles, eventBus, market, slogLog, c)
				}
				return

			case t, ok := <-tickCh:
				if !ok {
					return
				}
				health.SetFeedConnected(true)
				health.SetLastTickTime(t.At)
				eventBus.PublishTick(t)
				for _, c := range agg.Ingest(t) {
					persistAndPublish(ctx, candles, eventBus, market, slogLog, c)
				}

			case <-emergencyPoll.C:
				stopped, _, err := store.Flags().Get(ctx, pipeline.EmergencyStopFlag)
				isStopped := err == nil && stopped == "true"
				if isStopped && !wasStopped {
					slogLog.Warn("trader: emergency stop activated, closing all open trades", "stage", "emergency_stop")
					if price, err := market.CurrentPrice(ctx); err == nil {
						mon.ForceCloseAll(ctx, price)
					}
				}
				wasStopped = isStopped
			}
		}
	}()

	exchangeOK := exchangeHealth.Reachable(ctx)
	health.SetExchangeOK(exchangeOK)
	slogLog.Info("trader: pipeline ready", "paper_mode", cfg.PaperMode, "product", cfg.CoinbaseProductID)

	<-sigCh
	slogLog.Info("trader: shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	slogLog.Info("trader: shutdown complete.")
}

func persistAndPublish(ctx context.Context, candles *candlestore.Store, eventBus *bus.Bus, market *marketcond.Tracker, slogLog *slog.Logger, c model.Candle) {
	if !c.Valid() {
		slogLog.Warn("trader: dropping invalid candle", "timeframe", c.Timeframe, "bucket_start", c.BucketStart)
		return
	}
	if _, err := candles.Insert(ctx, c); err != nil {
		slogLog.Error("trader: candle insert failed", "stage", "candle_insert", "timeframe", c.Timeframe, "error", err)
		return
	}
	market.OnCandleClose(c)
	eventBus.PublishCandleClose(c)
}

// loadEconEvents is a placeholder operator-maintained schedule; production
// deployments populate this from whatever calendar feed ops wires in. Empty
// by default so a fresh deployment never spuriously blackouts.
func loadEconEvents() []econcalendar.Event {
	return nil
}
