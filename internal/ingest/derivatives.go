package ingest

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
	"github.com/marketpulse/engine/internal/logx"
)

// DerivativesSupervisor runs the two independent derivatives venues
// spec.md §4.3.2 names: a mark-price/funding-rate WS ticker and a polled
// open-interest feed. Each is supervised on its own reconnect/poll loop so
// one venue's failure leaves the other's coverage intact (LIMITED, not
// DOWN).
type DerivativesSupervisor struct {
	symbol string
	client *futures.Client
	log    *logx.Logger
	dialer dialer

	onAlert func(domain.DerivativesAlert)

	mu           sync.RWMutex
	markHealth   domain.HealthState
	oiHealth     domain.HealthState
	lastFunding  float64
	lastOI       float64
	haveLastOI   bool
}

func NewDerivativesSupervisor(symbol string, client *futures.Client, log *logx.Logger, onAlert func(domain.DerivativesAlert)) *DerivativesSupervisor {
	return &DerivativesSupervisor{
		symbol:     strings.ToUpper(symbol),
		client:     client,
		log:        log,
		dialer:     defaultDialer{},
		onAlert:    onAlert,
		markHealth: domain.HealthOffline,
		oiHealth:   domain.HealthOffline,
	}
}

// Health reports the combined venue state: ONLINE if both are up, LIMITED
// if exactly one is, OFFLINE if neither is (spec.md §4.3 "partial coverage
// is a LIMITED state, not a failure").
func (d *DerivativesSupervisor) Health() domain.HealthState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case d.markHealth == domain.HealthOnline && d.oiHealth == domain.HealthOnline:
		return domain.HealthOnline
	case d.markHealth == domain.HealthOnline || d.oiHealth == domain.HealthOnline:
		return domain.HealthLimited
	default:
		return domain.HealthOffline
	}
}

// Run launches both venue loops and blocks until ctx is cancelled.
func (d *DerivativesSupervisor) Run(ctx context.Context, maxReconnectAttempts int) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.runMarkPrice(ctx, maxReconnectAttempts) }()
	go func() { defer wg.Done(); d.runOpenInterestPoll(ctx) }()
	wg.Wait()
}

type markPriceMsg struct {
	Stream string `json:"stream"`
	Data   struct {
		MarkPrice   string `json:"p"`
		FundingRate string `json:"r"`
	} `json:"data"`
}

func (d *DerivativesSupervisor) runMarkPrice(ctx context.Context, maxReconnectAttempts int) {
	bo := &backoff{}
	stream := strings.ToLower(d.symbol) + "@markPrice@1s"
	url := "wss://fstream.binance.com/stream?streams=" + stream

	for ctx.Err() == nil {
		conn, err := d.dialer.Dial(url)
		if err != nil {
			d.setMarkHealth(domain.HealthOffline)
			d.log.Warn("ingest.derivatives.mark_dial_failed", map[string]any{"error": err.Error()})
			if bo.attempts >= maxReconnectAttempts {
				d.setMarkHealth(domain.HealthLimited)
			}
			sleepCtx(ctx, bo.next())
			continue
		}

		for ctx.Err() == nil {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			var m markPriceMsg
			if json.Unmarshal(msg, &m) != nil {
				continue
			}
			d.setMarkHealth(domain.HealthOnline)
			bo.reset()
			d.checkFundingSpike(m.Data.FundingRate)
		}
		conn.Close()
		d.setMarkHealth(domain.HealthOffline)
		sleepCtx(ctx, bo.next())
	}
}

// checkFundingSpike alerts when the funding rate moves more than 2x its
// previous reading in magnitude (a cheap, adaptive-in-spirit proxy — the
// absolute threshold the classifier reacts to is the alert's mere presence,
// not its payload, per spec.md §4.5).
func (d *DerivativesSupervisor) checkFundingSpike(raw string) {
	rate, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return
	}

	d.mu.Lock()
	prev := d.lastFunding
	d.lastFunding = rate
	d.mu.Unlock()

	if prev == 0 {
		return
	}
	if absF(rate) > absF(prev)*2 && absF(rate) > 0.0005 {
		d.emit(domain.AlertFundingSpike, map[string]any{"rate": rate, "previous": prev}, 60*time.Second)
	}
}

func (d *DerivativesSupervisor) runOpenInterestPoll(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	d.pollOpenInterest(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.pollOpenInterest(ctx)
		}
	}
}

func (d *DerivativesSupervisor) pollOpenInterest(ctx context.Context) {
	res, err := d.client.NewOpenInterestService().Symbol(d.symbol).Do(ctx)
	if err != nil {
		d.setOIHealth(domain.HealthOffline)
		d.log.Warn("ingest.derivatives.oi_poll_failed", map[string]any{"error": err.Error()})
		return
	}
	d.setOIHealth(domain.HealthOnline)

	oi, err := strconv.ParseFloat(res.OpenInterest, 64)
	if err != nil {
		return
	}

	d.mu.Lock()
	prev := d.lastOI
	hadPrev := d.haveLastOI
	d.lastOI = oi
	d.haveLastOI = true
	d.mu.Unlock()

	if !hadPrev || prev == 0 {
		return
	}
	changePct := (oi - prev) / prev * 100
	if absF(changePct) >= 5 {
		d.emit(domain.AlertOISpike, map[string]any{"open_interest": oi, "previous": prev, "change_pct": changePct}, 60*time.Second)
	}
}

func (d *DerivativesSupervisor) emit(t domain.DerivativesAlertType, data map[string]any, ttl time.Duration) {
	if d.onAlert == nil {
		return
	}
	now := time.Now()
	d.onAlert(domain.DerivativesAlert{
		ID:        uuid.NewString(),
		Type:      t,
		Data:      data,
		Timestamp: now,
		ExpiresAt: now.Add(ttl),
	})
}

func (d *DerivativesSupervisor) setMarkHealth(h domain.HealthState) {
	d.mu.Lock()
	d.markHealth = h
	d.mu.Unlock()
}

func (d *DerivativesSupervisor) setOIHealth(h domain.HealthState) {
	d.mu.Lock()
	d.oiHealth = h
	d.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
