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

	"rebound-trader/config"
	"rebound-trader/internal/admin"
	"rebound-trader/internal/broker"
	"rebound-trader/internal/engine"
	"rebound-trader/internal/journal"
	"rebound-trader/internal/ledger"
	"rebound-trader/internal/logger"
	"rebound-trader/internal/markethours"
	"rebound-trader/internal/metrics"
	"rebound-trader/internal/notification"
	"rebound-trader/internal/position"
	"rebound-trader/internal/predictor"
	"rebound-trader/internal/scanner"
	"rebound-trader/internal/scheduler"
	"rebound-trader/internal/snapshot"
	"rebound-trader/pkg/kis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("rebound-trader", slog.LevelInfo)
	log.Println("[trader] starting...")

	cfg := config.Load()

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath, cfg)
	if err != nil {
		log.Fatalf("[trader] watchlist: %v", err)
	}
	watch := make([]engine.WatchSymbol, 0, len(watchlist.Symbols))
	symbols := make([]string, 0, len(watchlist.Symbols))
	for _, item := range watchlist.Symbols {
		watch = append(watch, engine.WatchSymbol{
			Symbol: item.Symbol,
			Name:   item.Name,
			Params: position.EntryParams{
				Name:          item.Name,
				TakeProfitPct: item.TakeProfitPct,
				StopLossPct:   item.StopLossPct,
				RebuyDropPct:  item.RebuyDropPct,
			},
		})
		symbols = append(symbols, item.Symbol)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	// ---- Trade journal ----
	if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("[trader] mkdir %s: %v", dir, err)
		}
	}
	journ, err := journal.Open(journal.Config{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trader] journal init failed: %v", err)
	}
	defer journ.Close()
	health.CheckSQLite(ctx, journ.DB())

	// ---- Snapshot store (best-effort) ----
	var snapStore *snapshot.Store
	snapStore, err = snapshot.New(snapshot.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[trader] WARNING: redis init failed: %v (continuing without crash recovery)", err)
		snapStore = nil
	}

	if snapStore != nil {
		health.StartLivenessChecker(ctx, snapStore.Client(), journ.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, journ.DB(), 10*time.Second)
	}

	// ---- Broker ----
	var (
		brk    broker.Broker
		quotes broker.QuoteSource
		feed   *kis.RealtimeFeed
	)
	kisCfg := kis.Config{
		AppKey:    cfg.KISAppKey,
		AppSecret: cfg.KISAppSecret,
		AccountNo: cfg.KISAccountNo,
		Paper:     cfg.KISPaper,
	}
	switch cfg.BrokerMode {
	case "kis":
		client := kis.NewClient(kisCfg)
		brk = client
		quotes = client
		feed = kis.NewRealtimeFeed(kisCfg, symbols)
	default:
		paper := broker.NewPaperBroker(cfg.TotalCapital, 5)
		brk = paper
		quotes = paper
		if cfg.KISAppKey != "" {
			// Real quotes, simulated fills.
			quotes = kis.NewClient(kisCfg)
			feed = kis.NewRealtimeFeed(kisCfg, symbols)
		}
		log.Println("[trader] paper broker active, no real orders will be placed")
	}

	// ---- Predictor ----
	var pred predictor.Predictor
	switch cfg.PredictorMode {
	case "onnx":
		onnx, err := predictor.NewONNXPredictor(cfg.ONNXModelPath, cfg.ONNXLibPath)
		if err != nil {
			log.Fatalf("[trader] onnx predictor init failed: %v", err)
		}
		defer onnx.Close()
		pred = onnx
	default:
		pred = predictor.NewRemotePredictor(cfg.PredictorURL, 0)
	}

	// ---- Notifier ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	notifier := notification.NewMulti(backends...)

	// ---- Engine ----
	led := ledger.New(cfg.TotalCapital, cfg.PerSymbolCap, cfg.MaxPositions)
	positions := position.NewStore()
	scn := scanner.New(quotes, pred, scanner.Config{
		CrashThresholdPct: cfg.CrashThresholdPct,
		MinConfidence:     cfg.MinConfidence,
		Workers:           8,
	})
	defer scn.Close()

	eng := engine.New(engine.Config{
		FirstStageFraction: cfg.FirstStageFraction,
		MaxHoldingDays:     cfg.MaxHoldingDays,
		ScanInterval:       cfg.ScanInterval,
		RetrainCmd:         cfg.RetrainCmd,
	}, engine.Deps{
		Broker:    brk,
		Scanner:   scn,
		Watchlist: watch,
		Ledger:    led,
		Positions: positions,
		Journal:   journ,
		Snapshot:  snapshotOrNil(snapStore),
		Notifier:  notifier,
		Metrics:   prom,
		Health:    health,
	})
	eng.SetDefaultParams(position.EntryParams{
		TakeProfitPct: cfg.TakeProfitPct,
		StopLossPct:   cfg.StopLossPct,
		RebuyDropPct:  cfg.RebuyDropPct,
	})

	if err := eng.Reconcile(ctx); err != nil {
		log.Fatalf("[trader] reconciliation failed: %v", err)
	}

	// ---- Admin + metrics server ----
	adminHandler := admin.New(eng, cfg.AdminTOTPSecret)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Handle("/api/", adminHandler.Routes())
	metricsSrv.Start()

	// ---- Realtime feed (optional) ----
	if feed != nil {
		feed.OnTick = func(t kis.Tick) {
			positions.UpdatePrice(t.Symbol, t.Price)
		}
		go func() {
			health.SetWSConnected(true)
			feed.Run(ctx)
			health.SetWSConnected(false)
		}()
	}

	// ---- Scheduler: daily report 15:40 KST, retrain window Sat 01:00 ----
	sched := scheduler.New(scheduler.RealClock{}, 30*time.Second)
	sched.DailyAt("daily-report", markethours.ReportHour, markethours.ReportMinute, eng.PublishDailyReport)
	sched.WeeklyAt("model-retrain", time.Saturday, 1, 0, eng.RetrainHook)
	go sched.Run(ctx)

	// ---- Engine loop ----
	go eng.Run(ctx)

	log.Printf("[trader] ready: %d symbols, capital %d won, %s", len(symbols), cfg.TotalCapital,
		markethours.StatusString(time.Now()))

	<-sigCh
	log.Println("[trader] shutdown signal received, cleaning up...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if snapStore != nil {
		snapStore.Close()
	}
	log.Println("[trader] shutdown complete.")
}

// snapshotOrNil keeps a typed nil out of the engine's interface field.
func snapshotOrNil(s *snapshot.Store) engine.StateStore {
	if s == nil {
		return nil
	}
	return s
}
