// Command marketpulse runs the ETH/USDT market-microstructure engine:
// ingest, liquidity analysis, classification, notification and the HTTP
// control plane, wired together and run until an OS signal arrives.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/marketpulse/engine/internal/classifier"
	"github.com/marketpulse/engine/internal/config"
	"github.com/marketpulse/engine/internal/engine"
	"github.com/marketpulse/engine/internal/httpapi"
	"github.com/marketpulse/engine/internal/ingest"
	"github.com/marketpulse/engine/internal/liquidity"
	"github.com/marketpulse/engine/internal/logx"
	"github.com/marketpulse/engine/internal/metrics"
	"github.com/marketpulse/engine/internal/notify"
	"github.com/marketpulse/engine/internal/scheduler"
)

func main() {
	cfg := config.Load()

	lg := logx.New(
		logx.WithMinLevel(logx.ParseLevel(cfg.LogMinLevel)),
		logx.WithFileSink(cfg.LogDir, cfg.LogFileMaxBytes, cfg.LogFileRetention),
	)
	defer lg.Close()

	if err := run(cfg, lg); err != nil {
		lg.Critical("marketpulse.fatal", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, lg *logx.Logger) error {
	met := metrics.New()

	schedCfg := scheduler.DefaultConfig()
	schedCfg.MaxConcurrentTasks = cfg.MaxConcurrentTasks
	schedCfg.MaxQueueSize = cfg.MaxQueueSize
	schedCfg.TickInterval = cfg.SchedulerTick
	schedCfg.ShutdownDeadline = cfg.ShutdownDeadline
	sched := scheduler.New(schedCfg, lg)

	analyzer := liquidity.New(cfg.DLSRingCapacity, liquidity.ConstantVolumeProfile{})
	clf := classifier.New(classifier.ProfileFor(cfg.ClassifierProfile))

	sink := buildNotifySink(cfg)

	engCfg := engine.DefaultConfig(cfg.Symbol)
	engCfg.PressureLevels = cfg.PressureLevels
	engCfg.MomentumWindow = cfg.MomentumWindow
	engCfg.EtherscanAPIKey = cfg.EtherscanAPIKey
	engCfg.EtherscanBaseURL = cfg.EtherscanBaseURL
	engCfg.WatchlistAddresses = cfg.WatchlistAddresses
	engCfg.APIHealthURLs = cfg.APIHealthURLs

	eng := engine.New(engCfg, lg, met, sched, analyzer, clf, sink)

	futures.UseTestnet = !cfg.EnableRealTimeFeed
	client := binance.NewFuturesClient(cfg.BinanceAPIKey, cfg.BinanceAPISecret)

	ingestCfg := ingest.DefaultConfig(cfg.Symbol)
	ingestCfg.OrderBookDepth = cfg.OrderBookDepth
	ingestCfg.MaxReconnectAttempts = cfg.MaxReconnectAttempts

	sup := ingest.New(ingestCfg, lg, client, eng.HandleSnapshot, eng.HandleAlert, eng.HandleIntent)
	eng.AttachSupervisor(sup)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	eng.Start(ctx)

	server := httpapi.New(httpapi.Config{WebhookSecurityToken: cfg.WebhookSecurityToken}, eng, met)
	server.SetReady(true)

	httpSrv := &http.Server{Addr: ":" + cfg.Port, Handler: server}
	srvErr := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
			return
		}
		srvErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		lg.Info("marketpulse.shutdown", map[string]any{"reason": "signal"})
	case err := <-srvErr:
		if err != nil {
			lg.Error("marketpulse.http_failed", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownDeadline)
	defer shutdownCancel()

	_ = httpSrv.Shutdown(shutdownCtx)
	return eng.Shutdown(shutdownCtx)
}

// buildNotifySink wires the Telegram sink around a real bot client when a
// token is configured, degrading to a nil Sender otherwise (spec.md §4.6:
// the notifier is non-critical — the Engine runs without it).
func buildNotifySink(cfg *config.Config) *notify.Sink {
	zl := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()

	if cfg.TelegramBotToken == "" {
		return notify.NewSink(nil, cfg.TelegramChatID, zl)
	}

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		log.Printf("warning: telegram bot init failed, notifications disabled: %v", err)
		return notify.NewSink(nil, cfg.TelegramChatID, zl)
	}
	return notify.NewSink(bot, cfg.TelegramChatID, zl)
}
