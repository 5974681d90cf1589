package ingest

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marketpulse/engine/internal/domain"
)

// erc20TransferTopic is the canonical Transfer(address,address,uint256)
// event signature (spec.md §6).
const erc20TransferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

// WhaleTransactionsPayload mirrors the webhook body spec.md §6 defines.
type WhaleTransactionsPayload struct {
	MatchingTransactions []NativeTransaction `json:"matchingTransactions"`
	MatchingReceipts     []TransactionReceipt `json:"matchingReceipts"`
}

type NativeTransaction struct {
	Hash        string  `json:"hash"`
	From        string  `json:"from"`
	To          string  `json:"to"`
	ValueWei    string  `json:"value"`
	ObservedAt  int64   `json:"observedAt"` // unix ms
}

type TransactionReceipt struct {
	Logs []TransactionLog `json:"logs"`
}

type TransactionLog struct {
	Topics     []string `json:"topics"`
	Data       string   `json:"data"`
	ObservedAt int64    `json:"observedAt"`
}

// WhaleIntakeResult reports how many of each kind were decoded, for the
// webhook handler's 200 JSON response.
type WhaleIntakeResult struct {
	TransactionsProcessed int
	ReceiptsProcessed     int
	Intents               []domain.WhaleIntent
}

// IntakeWhaleTransactions decodes a webhook payload into WhaleIntent events
// (spec.md §6): one per native transaction, one per ERC-20 Transfer log.
func IntakeWhaleTransactions(payload WhaleTransactionsPayload, usdPerNativeUnit float64) WhaleIntakeResult {
	var result WhaleIntakeResult

	for _, tx := range payload.MatchingTransactions {
		intent, ok := decodeNativeIntent(tx, usdPerNativeUnit)
		result.TransactionsProcessed++
		if ok {
			result.Intents = append(result.Intents, intent)
		}
	}

	for _, receipt := range payload.MatchingReceipts {
		result.ReceiptsProcessed++
		for _, lg := range receipt.Logs {
			intent, ok := decodeERC20Intent(lg, usdPerNativeUnit)
			if ok {
				result.Intents = append(result.Intents, intent)
			}
		}
	}

	return result
}

func decodeNativeIntent(tx NativeTransaction, usdPerNativeUnit float64) (domain.WhaleIntent, bool) {
	var wei *big.Int
	var ok bool
	if strings.HasPrefix(tx.ValueWei, "0x") {
		wei, ok = new(big.Int).SetString(strings.TrimPrefix(tx.ValueWei, "0x"), 16)
	} else {
		wei, ok = new(big.Int).SetString(tx.ValueWei, 10)
	}
	if !ok {
		return domain.WhaleIntent{}, false
	}
	native := weiToEtherValue(wei)

	observed := time.UnixMilli(tx.ObservedAt)
	if tx.ObservedAt == 0 {
		observed = time.Now()
	}

	return domain.WhaleIntent{
		ID:                fmt.Sprintf("native:%s", tx.Hash),
		WhaleAddress:      tx.From,
		EstimatedValueUSD: native * usdPerNativeUnit,
		TargetExchange:    tx.To,
		ThreatLevel:       threatLevelFor(native * usdPerNativeUnit),
		DetectionLatency:  time.Since(observed),
		Timestamp:         time.Now(),
	}, true
}

func decodeERC20Intent(lg TransactionLog, usdPerNativeUnit float64) (domain.WhaleIntent, bool) {
	if len(lg.Topics) < 3 || !strings.EqualFold(lg.Topics[0], erc20TransferTopic) {
		return domain.WhaleIntent{}, false
	}

	from := "0x" + safeSlice(lg.Topics[1], 26)
	to := "0x" + safeSlice(lg.Topics[2], 26)

	value, ok := new(big.Int).SetString(strings.TrimPrefix(lg.Data, "0x"), 16)
	if !ok {
		return domain.WhaleIntent{}, false
	}
	native := weiToEtherValue(value)

	observed := time.UnixMilli(lg.ObservedAt)
	if lg.ObservedAt == 0 {
		observed = time.Now()
	}

	return domain.WhaleIntent{
		ID:                fmt.Sprintf("erc20:%s:%s", from, strconv.FormatInt(time.Now().UnixNano(), 36)),
		WhaleAddress:      from,
		EstimatedValueUSD: native * usdPerNativeUnit,
		TargetExchange:    to,
		ThreatLevel:       threatLevelFor(native * usdPerNativeUnit),
		DetectionLatency:  time.Since(observed),
		Timestamp:         time.Now(),
	}, true
}

func safeSlice(s string, from int) string {
	if from >= len(s) {
		return ""
	}
	return s[from:]
}

func threatLevelFor(usd float64) domain.ThreatLevel {
	switch {
	case usd >= 5_000_000:
		return domain.ThreatCritical
	case usd >= 1_000_000:
		return domain.ThreatHigh
	case usd >= 250_000:
		return domain.ThreatMedium
	default:
		return domain.ThreatLow
	}
}

var weiPerEtherFloat = new(big.Float).SetFloat64(1e18)

func weiToEtherValue(wei *big.Int) float64 {
	f := new(big.Float).SetInt(wei)
	f.Quo(f, weiPerEtherFloat)
	v, _ := f.Float64()
	return v
}

// whaleSpikeDetector adapts the teacher's SignalFilter institutional-cluster
// logic (signal_filter.go) into a WHALE_SPIKE side-channel alert: a
// weighted cluster score over recent high-value whale intents within a
// price-independent time window, since whale intents carry no price.
type whaleSpikeDetector struct {
	window     time.Duration
	minCluster float64

	buffer []domain.WhaleIntent
}

func newWhaleSpikeDetector(window time.Duration, minCluster float64) *whaleSpikeDetector {
	return &whaleSpikeDetector{window: window, minCluster: minCluster}
}

// observe folds a new whale intent into the cluster buffer and returns
// true once the weighted score crosses minCluster (default 3.0, matching
// the teacher's RequiredClusterCnt), clearing the buffer on fire to avoid
// double-firing on the same wave.
func (d *whaleSpikeDetector) observe(intent domain.WhaleIntent) (float64, bool) {
	now := intent.Timestamp
	valid := d.buffer[:0]
	for _, i := range d.buffer {
		if now.Sub(i.Timestamp) < d.window {
			valid = append(valid, i)
		}
	}
	d.buffer = append(valid, intent)

	score := 0.0
	for _, i := range d.buffer {
		switch i.ThreatLevel {
		case domain.ThreatCritical:
			score += 2.0
		case domain.ThreatHigh:
			score += 1.0
		default:
			score += 0.3
		}
	}

	if score >= d.minCluster {
		d.buffer = nil
		return score, true
	}
	return score, false
}
