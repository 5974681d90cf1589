package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/marketpulse/engine/internal/domain"
)

// httpClientFor returns a client that respects ctx's deadline via its
// Timeout as a backstop (ctx itself is also threaded through the request).
func httpClientFor(ctx context.Context) *http.Client {
	timeout := 10 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 && remaining < timeout {
			timeout = remaining
		}
	}
	return &http.Client{Timeout: timeout}
}

// WhaleBalanceCheckHandler looks up one address's native-unit balance via
// an Etherscan-style API (spec.md §6): GET with
// module=account&action=balance&address=<addr>&tag=latest&apikey=<key>.
func WhaleBalanceCheckHandler(apiKey, baseURL string) Handler {
	if baseURL == "" {
		baseURL = "https://api.etherscan.io/api"
	}
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		address, _ := task.Payload["address"].(string)
		if address == "" {
			return nil, fmt.Errorf("%w: missing address in payload", ErrUnknownTaskType)
		}

		url := fmt.Sprintf("%s?module=account&action=balance&address=%s&tag=latest&apikey=%s", baseURL, address, apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		resp, err := httpClientFor(ctx).Do(req)
		if err != nil {
			return nil, fmt.Errorf("balance lookup: %w", err)
		}
		defer resp.Body.Close()

		var payload struct {
			Status string `json:"status"`
			Result string `json:"result"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, fmt.Errorf("decode balance response: %w", err)
		}
		if payload.Status != "1" {
			return nil, fmt.Errorf("balance provider rejected request: status=%s", payload.Status)
		}

		wei, ok := new(bigInt).SetString(payload.Result, 10)
		if !ok {
			return nil, fmt.Errorf("non-numeric balance result %q", payload.Result)
		}
		native := weiToEther(wei)

		return map[string]any{
			"address":      address,
			"balance_wei":  payload.Result,
			"balance_unit": native,
		}, nil
	}
}

// SystemHealthCheckHandler reports system-wide memory use, CPU and host
// uptime via gopsutil and classifies HEALTHY/WARNING/CRITICAL on the
// system memory used percent (returned under "heap_percent"). The
// process's own heap is not measured.
func SystemHealthCheckHandler() Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		vm, err := mem.VirtualMemoryWithContext(ctx)
		if err != nil {
			return nil, fmt.Errorf("read memory stats: %w", err)
		}
		percents, err := cpu.PercentWithContext(ctx, 0, false)
		cpuPct := 0.0
		if err == nil && len(percents) > 0 {
			cpuPct = percents[0]
		}
		uptime, _ := host.UptimeWithContext(ctx)

		status := "HEALTHY"
		switch {
		case vm.UsedPercent > 95:
			status = "CRITICAL"
		case vm.UsedPercent >= 90:
			status = "WARNING"
		}

		return map[string]any{
			"status":       status,
			"heap_percent": vm.UsedPercent,
			"cpu_percent":  cpuPct,
			"uptime_secs":  uptime,
		}, nil
	}
}

// PerformanceMetricsHandler merges process-level metrics with whatever the
// caller supplied in task.Payload["metrics"].
func PerformanceMetricsHandler() Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		out := map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heap_alloc":  ms.HeapAlloc,
			"heap_sys":    ms.HeapSys,
			"num_gc":      ms.NumGC,
			"collected_at": time.Now().UTC(),
		}
		if caller, ok := task.Payload["metrics"].(map[string]any); ok {
			for k, v := range caller {
				out[k] = v
			}
		}
		return out, nil
	}
}

// APIHealthCheckHandler GETs task.Payload["url"] and classifies
// HEALTHY/DEGRADED/UNHEALTHY from status code + latency (spec.md §4.2).
func APIHealthCheckHandler() Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		url, _ := task.Payload["url"].(string)
		if url == "" {
			return nil, fmt.Errorf("%w: missing url in payload", ErrUnknownTaskType)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}

		start := time.Now()
		resp, err := httpClientFor(ctx).Do(req)
		latency := time.Since(start)
		if err != nil {
			return map[string]any{"status": "UNHEALTHY", "error": err.Error(), "latency_ms": latency.Milliseconds()}, nil
		}
		defer func() {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}()

		status := "HEALTHY"
		switch {
		case resp.StatusCode >= 500:
			status = "UNHEALTHY"
		case resp.StatusCode >= 400:
			status = "DEGRADED"
		case latency > 2*time.Second:
			status = "DEGRADED"
		}

		return map[string]any{
			"status":      status,
			"status_code": resp.StatusCode,
			"latency_ms":  latency.Milliseconds(),
		}, nil
	}
}

// MemoryCleanupHandler requests a GC run and reports before/after usage.
func MemoryCleanupHandler() Handler {
	return func(ctx context.Context, task *domain.Task) (map[string]any, error) {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		runtime.GC()
		runtime.ReadMemStats(&after)

		return map[string]any{
			"heap_before": before.HeapAlloc,
			"heap_after":  after.HeapAlloc,
			"freed":       int64(before.HeapAlloc) - int64(after.HeapAlloc),
		}, nil
	}
}
