package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

// OrderBookStream maintains one symbol's top-depth book: a REST snapshot
// followed by incremental WS deltas, re-synced from a fresh snapshot on
// every reconnect (spec.md §4.3.1). Grounded on the teacher's
// BinanceFutures.Start (stream dial/reconnect loop) and the orderbook
// book.go example's single-writer level map.
type OrderBookStream struct {
	symbol string
	depth  int
	client *futures.Client

	log *logx.Logger

	mu           sync.RWMutex
	bids, asks   map[string]decimal.Decimal // price string -> qty
	lastUpdateID int64
	health       domain.HealthState

	onSnapshot func(domain.OrderBookSnapshot)

	dialer dialer
}

// dialer abstracts websocket.DefaultDialer so tests can substitute a fake.
type dialer interface {
	Dial(url string) (*websocket.Conn, error)
}

type defaultDialer struct{}

func (defaultDialer) Dial(url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	return conn, err
}

// NewOrderBookStream builds a stream for symbol (lowercase Binance futures
// convention, e.g. "ethusdt") with the given top-N depth.
func NewOrderBookStream(symbol string, depth int, client *futures.Client, log *logx.Logger, onSnapshot func(domain.OrderBookSnapshot)) *OrderBookStream {
	return &OrderBookStream{
		symbol:     strings.ToLower(symbol),
		depth:      depth,
		client:     client,
		log:        log,
		bids:       make(map[string]decimal.Decimal),
		asks:       make(map[string]decimal.Decimal),
		health:     domain.HealthOffline,
		onSnapshot: onSnapshot,
		dialer:     defaultDialer{},
	}
}

// Health reports the stream's current reported state.
func (s *OrderBookStream) Health() domain.HealthState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.health
}

// Run drives the reconnect loop until ctx is cancelled.
func (s *OrderBookStream) Run(ctx context.Context, maxReconnectAttempts int) {
	bo := &backoff{}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.resync(ctx); err != nil {
			s.log.Warn("ingest.orderbook.snapshot_failed", map[string]any{"symbol": s.symbol, "error": err.Error()})
			s.setHealth(domain.HealthOffline)
			s.sleep(ctx, bo.next())
			continue
		}

		if err := s.streamDeltas(ctx, bo); err != nil {
			s.log.Warn("ingest.orderbook.stream_error", map[string]any{"symbol": s.symbol, "error": err.Error()})
		}
		attempts := bo.attempts
		if attempts >= maxReconnectAttempts {
			s.setHealth(domain.HealthLimited)
			s.log.Warn("ingest.orderbook.degraded", map[string]any{"symbol": s.symbol, "attempts": attempts})
		}
		s.sleep(ctx, bo.next())
	}
}

func (s *OrderBookStream) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// resync fetches a fresh REST snapshot via go-binance's futures depth
// service and resets local book state (spec.md §4.3: "resubscribe ...
// with a fresh snapshot").
func (s *OrderBookStream) resync(ctx context.Context) error {
	res, err := s.client.NewDepthService().Symbol(strings.ToUpper(s.symbol)).Limit(s.depth).Do(ctx)
	if err != nil {
		return fmt.Errorf("depth snapshot: %w", err)
	}

	s.mu.Lock()
	s.bids = make(map[string]decimal.Decimal, len(res.Bids))
	s.asks = make(map[string]decimal.Decimal, len(res.Asks))
	for _, b := range res.Bids {
		qty, _ := decimal.NewFromString(b.Quantity)
		if qty.IsPositive() {
			s.bids[b.Price] = qty
		}
	}
	for _, a := range res.Asks {
		qty, _ := decimal.NewFromString(a.Quantity)
		if qty.IsPositive() {
			s.asks[a.Price] = qty
		}
	}
	s.lastUpdateID = res.LastUpdateID
	s.mu.Unlock()

	s.publish()
	return nil
}

type depthDiffMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		FinalUpdateID int64      `json:"u"`
		Bids          [][]string `json:"b"`
		Asks          [][]string `json:"a"`
	} `json:"data"`
}

func (s *OrderBookStream) streamDeltas(ctx context.Context, bo *backoff) error {
	url := fmt.Sprintf("wss://fstream.binance.com/stream?streams=%s@depth@100ms", s.symbol)
	conn, err := s.dialer.Dial(url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		conn.Close()
		close(done)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-done:
			default:
			}
			return fmt.Errorf("read: %w", err)
		}

		var msg depthDiffMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		s.applyDelta(msg.Data.FinalUpdateID, msg.Data.Bids, msg.Data.Asks)
		bo.reset()
		s.setHealth(domain.HealthOnline)
	}
}

// applyDelta implements spec.md §4.3's drop/replace semantics: an update
// with quantity 0 removes the level, any other update replaces it, and
// updates with updateId <= lastUpdateId are dropped for monotonicity.
func (s *OrderBookStream) applyDelta(updateID int64, bids, asks [][]string) {
	s.mu.Lock()
	if updateID <= s.lastUpdateID {
		s.mu.Unlock()
		return
	}
	s.lastUpdateID = updateID

	applySide := func(side map[string]decimal.Decimal, levels [][]string) {
		for _, lvl := range levels {
			if len(lvl) != 2 {
				continue
			}
			qty, err := decimal.NewFromString(lvl[1])
			if err != nil {
				continue
			}
			if qty.IsZero() {
				delete(side, lvl[0])
			} else {
				side[lvl[0]] = qty
			}
		}
	}
	applySide(s.bids, bids)
	applySide(s.asks, asks)
	s.mu.Unlock()

	s.publish()
}

func (s *OrderBookStream) publish() {
	s.mu.RLock()
	snap := domain.OrderBookSnapshot{
		Symbol:    strings.ToUpper(s.symbol),
		Bids:      sortedLevels(s.bids, true, s.depth),
		Asks:      sortedLevels(s.asks, false, s.depth),
		UpdateID:  s.lastUpdateID,
		Timestamp: time.Now(),
	}
	s.mu.RUnlock()

	if s.onSnapshot != nil {
		s.onSnapshot(snap)
	}
}

func (s *OrderBookStream) setHealth(h domain.HealthState) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

func sortedLevels(side map[string]decimal.Decimal, descending bool, depth int) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(side))
	for priceStr, qty := range side {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		out = append(out, domain.PriceLevel{Price: price, Qty: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if len(out) > depth {
		out = out[:depth]
	}
	return out
}
