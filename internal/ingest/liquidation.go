package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

// liquidationWindow tracks aggregated forced-liquidation notional per side
// within a rolling window, adapted from the teacher's LiquidationMonitor:
// same lazy-cleanup-on-write shape, generalized to emit a HIGH_VOLATILITY
// side-channel alert instead of a standalone metric.
type liquidationWindow struct {
	mu     sync.Mutex
	events []liquidationEvent
	window time.Duration
}

type liquidationEvent struct {
	side      string // "BUY" (shorts liquidated) or "SELL" (longs liquidated)
	notional  float64
	timestamp time.Time
}

func newLiquidationWindow(window time.Duration) *liquidationWindow {
	return &liquidationWindow{window: window}
}

func (w *liquidationWindow) add(side string, notional float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, liquidationEvent{side: side, notional: notional, timestamp: time.Now()})
	w.cleanupLocked()
}

func (w *liquidationWindow) volume(side string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	total := 0.0
	for _, ev := range w.events {
		if ev.side == side {
			total += ev.notional
		}
	}
	return total
}

func (w *liquidationWindow) cleanupLocked() {
	cutoff := time.Now().Add(-w.window)
	valid := w.events[:0]
	for _, ev := range w.events {
		if ev.timestamp.After(cutoff) {
			valid = append(valid, ev)
		}
	}
	w.events = valid
}

// LiquidationStream consumes Binance's forced-order WS feed and raises
// HIGH_VOLATILITY alerts when the combined (BUY plus SELL) liquidation
// notional in the trailing window reaches the configured threshold, at most
// once per minute.
type LiquidationStream struct {
	symbol    string
	threshold float64
	window    *liquidationWindow
	log       *logx.Logger
	dialer    dialer
	onAlert   func(domain.DerivativesAlert)

	mu       sync.Mutex
	health   domain.HealthState
	lastFire time.Time
}

func NewLiquidationStream(symbol string, thresholdUSD float64, log *logx.Logger, onAlert func(domain.DerivativesAlert)) *LiquidationStream {
	return &LiquidationStream{
		symbol:    strings.ToUpper(symbol),
		threshold: thresholdUSD,
		window:    newLiquidationWindow(5 * time.Minute),
		log:       log,
		dialer:    defaultDialer{},
		onAlert:   onAlert,
		health:    domain.HealthOffline,
	}
}

func (s *LiquidationStream) Health() domain.HealthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

type forceOrderMsg struct {
	Order struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Qty    string `json:"q"`
		Side   string `json:"S"`
	} `json:"o"`
}

func (s *LiquidationStream) Run(ctx context.Context, maxReconnectAttempts int) {
	bo := &backoff{}
	url := "wss://fstream.binance.com/ws/!forceOrder@arr"

	for ctx.Err() == nil {
		conn, err := s.dialer.Dial(url)
		if err != nil {
			s.setHealth(domain.HealthOffline)
			if bo.attempts >= maxReconnectAttempts {
				s.setHealth(domain.HealthLimited)
			}
			sleepCtx(ctx, bo.next())
			continue
		}

		for ctx.Err() == nil {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.handle(msg)
			bo.reset()
			s.setHealth(domain.HealthOnline)
		}
		conn.Close()
		s.setHealth(domain.HealthOffline)
		sleepCtx(ctx, bo.next())
	}
}

func (s *LiquidationStream) handle(raw []byte) {
	var msg forceOrderMsg
	if json.Unmarshal(raw, &msg) != nil {
		return
	}
	if !strings.EqualFold(msg.Order.Symbol, s.symbol) {
		return
	}
	price, err1 := strconv.ParseFloat(msg.Order.Price, 64)
	qty, err2 := strconv.ParseFloat(msg.Order.Qty, 64)
	if err1 != nil || err2 != nil {
		return
	}
	notional := price * qty
	s.window.add(msg.Order.Side, notional)

	total := s.window.volume("BUY") + s.window.volume("SELL")
	if total < s.threshold {
		return
	}

	s.mu.Lock()
	fireAgain := time.Since(s.lastFire) > time.Minute
	if fireAgain {
		s.lastFire = time.Now()
	}
	s.mu.Unlock()
	if !fireAgain {
		return
	}

	if s.onAlert == nil {
		return
	}
	now := time.Now()
	s.onAlert(domain.DerivativesAlert{
		ID:   uuid.NewString(),
		Type: domain.AlertHighVolatility,
		Data: map[string]any{
			"liquidation_volume_usd": total,
			"window":                 "5m",
		},
		Timestamp: now,
		ExpiresAt: now.Add(60 * time.Second),
	})
}

func (s *LiquidationStream) setHealth(h domain.HealthState) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}
