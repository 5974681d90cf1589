package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

// Config tunes the supervisor's sub-streams.
type Config struct {
	Symbol                string
	OrderBookDepth        int
	MaxReconnectAttempts  int
	LiquidationThresholdUSD float64
	WhaleClusterWindow    time.Duration
	WhaleClusterScore     float64
	NativeUnitUSDPrice    float64 // static fallback price used to value native-token whale intents
}

func DefaultConfig(symbol string) Config {
	return Config{
		Symbol:                  symbol,
		OrderBookDepth:          50,
		MaxReconnectAttempts:    10,
		LiquidationThresholdUSD: 2_000_000,
		WhaleClusterWindow:      60 * time.Second,
		WhaleClusterScore:       3.0,
		NativeUnitUSDPrice:      3000,
	}
}

// Supervisor is component D: it owns every external input stream and
// reports per-substream health alongside the data each one produces
// (spec.md §4.3).
type Supervisor struct {
	cfg    Config
	log    *logx.Logger
	client *futures.Client

	orderBook   *OrderBookStream
	derivatives *DerivativesSupervisor
	liquidation *LiquidationStream

	whaleMu  sync.Mutex
	whaleDet *whaleSpikeDetector

	onSnapshot func(domain.OrderBookSnapshot)
	onAlert    func(domain.DerivativesAlert)
	onIntent   func(domain.WhaleIntent)
}

// New builds the supervisor. Callbacks fire from stream goroutines; the
// Engine is responsible for making them cheap and non-blocking.
func New(cfg Config, log *logx.Logger, client *futures.Client, onSnapshot func(domain.OrderBookSnapshot), onAlert func(domain.DerivativesAlert), onIntent func(domain.WhaleIntent)) *Supervisor {
	s := &Supervisor{
		cfg:      cfg,
		log:      log,
		client:   client,
		whaleDet: newWhaleSpikeDetector(cfg.WhaleClusterWindow, cfg.WhaleClusterScore),
		onSnapshot: onSnapshot,
		onAlert:    onAlert,
		onIntent:   onIntent,
	}

	s.orderBook = NewOrderBookStream(cfg.Symbol, cfg.OrderBookDepth, client, log, s.onSnapshot)
	s.derivatives = NewDerivativesSupervisor(cfg.Symbol, client, log, s.emitAlert)
	s.liquidation = NewLiquidationStream(cfg.Symbol, cfg.LiquidationThresholdUSD, log, s.emitAlert)

	return s
}

func (s *Supervisor) emitAlert(a domain.DerivativesAlert) {
	if s.onAlert != nil {
		s.onAlert(a)
	}
}

// Run starts every sub-stream and blocks until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.orderBook.Run(ctx, s.cfg.MaxReconnectAttempts) }()
	go func() { defer wg.Done(); s.derivatives.Run(ctx, s.cfg.MaxReconnectAttempts) }()
	go func() { defer wg.Done(); s.liquidation.Run(ctx, s.cfg.MaxReconnectAttempts) }()
	wg.Wait()
}

// IntakeWhaleWebhook decodes a webhook payload, forwards every decoded
// intent to onIntent, and folds each into the cluster detector — firing a
// WHALE_SPIKE alert once the weighted score crosses the configured
// threshold (spec.md's supplemented institutional-cluster feature).
func (s *Supervisor) IntakeWhaleWebhook(payload WhaleTransactionsPayload) WhaleIntakeResult {
	result := IntakeWhaleTransactions(payload, s.cfg.NativeUnitUSDPrice)

	for _, intent := range result.Intents {
		if s.onIntent != nil {
			s.onIntent(intent)
		}

		s.whaleMu.Lock()
		score, fired := s.whaleDet.observe(intent)
		s.whaleMu.Unlock()

		if fired {
			now := time.Now()
			s.emitAlert(domain.DerivativesAlert{
				ID:   uuid.NewString(),
				Type: domain.AlertWhaleSpike,
				Data: map[string]any{
					"cluster_score": score,
					"trigger":       intent.ID,
				},
				Timestamp: now,
				ExpiresAt: now.Add(30 * time.Second),
			})
		}
	}

	return result
}

// Health reports per-substream state for /health and /status.
type Health struct {
	OrderBook   domain.HealthState
	Derivatives domain.HealthState
	Liquidation domain.HealthState
}

func (s *Supervisor) Health() Health {
	return Health{
		OrderBook:   s.orderBook.Health(),
		Derivatives: s.derivatives.Health(),
		Liquidation: s.liquidation.Health(),
	}
}

// Overall collapses per-substream health into one state: ONLINE only if
// every substream is online, OFFLINE only if every substream is offline,
// LIMITED otherwise.
func (h Health) Overall() domain.HealthState {
	states := []domain.HealthState{h.OrderBook, h.Derivatives, h.Liquidation}
	online, offline := 0, 0
	for _, st := range states {
		switch st {
		case domain.HealthOnline:
			online++
		case domain.HealthOffline:
			offline++
		}
	}
	switch {
	case online == len(states):
		return domain.HealthOnline
	case offline == len(states):
		return domain.HealthOffline
	default:
		return domain.HealthLimited
	}
}
