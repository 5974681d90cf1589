// Package logx implements the stateful logger (component A): a
// dedupe-by-(key,value-hash) logger with level filtering and an optional
// rotating file sink, built around github.com/rs/zerolog the way the
// example corpus wires a component-scoped logger into every subsystem
// (aristath-sentinel's queue.Scheduler.SetLogger, the atlas trading
// backend's RegimeDetector.logger field).
package logx

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// cacheEntry is the last-seen state for one key. Its own mutex makes
// updates atomic per key without a single contended global lock.
type cacheEntry struct {
	mu    sync.Mutex
	hash  uint64
	count uint64
}

// Stats summarizes cumulative logger activity.
type Stats struct {
	Calls      uint64
	Emitted    uint64
	Suppressed uint64
	Dropped    uint64 // below min level, after suppression accounting
}

// Logger is the stateful logger. It is reentrant and safe to call from any
// goroutine (spec.md §5): cache lookups and updates are per-key atomic.
type Logger struct {
	zl              zerolog.Logger
	minLevel        Level
	stateChangeOnly bool
	cache           sync.Map // string -> *cacheEntry
	sink            *fileSink

	calls, emitted, suppressed, dropped atomic.Uint64
}

// Option configures a Logger at construction time.
type Option func(*Logger)

// WithMinLevel sets the floor below which entries are dropped (after
// suppression accounting still runs).
func WithMinLevel(l Level) Option {
	return func(lg *Logger) { lg.minLevel = l }
}

// WithStateChangeOnly toggles dedup-by-hash suppression. Default true.
func WithStateChangeOnly(on bool) Option {
	return func(lg *Logger) { lg.stateChangeOnly = on }
}

// WithFileSink attaches a rotating file sink under dir.
func WithFileSink(dir string, maxBytes int64, retention int) Option {
	return func(lg *Logger) {
		sink, err := newFileSink(dir, maxBytes, retention)
		if err != nil {
			// Degraded to console-only from the start; never fatal.
			return
		}
		lg.sink = sink
		lg.zl = lg.zl.Output(zerolog.MultiLevelWriter(consoleWriter(), sink))
	}
}

func consoleWriter() io.Writer {
	return zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
}

// New builds a Logger. stateChangeOnly defaults on, minLevel defaults Info.
func New(opts ...Option) *Logger {
	lg := &Logger{
		zl:              zerolog.New(consoleWriter()).With().Timestamp().Logger(),
		minLevel:        LevelInfo,
		stateChangeOnly: true,
	}
	for _, o := range opts {
		o(lg)
	}
	return lg
}

// Close releases the file sink, if any.
func (l *Logger) Close() error {
	if l.sink != nil {
		return l.sink.Close()
	}
	return nil
}

// Log emits (key, value) at level with metadata, unless state-change-only
// mode is active and the (key,value) hash matches the last emission for
// key. Returns true iff the entry was actually written out. The per-key
// cache is updated regardless of whether the entry is ultimately written,
// per spec.md §4.1's "dropped after suppression accounting" rule.
func (l *Logger) Log(key string, value any, level Level, metadata map[string]any) bool {
	return l.log(key, value, level, metadata, false)
}

// Force logs (key, value) bypassing suppression for this one call, but
// still updates the cache as if it had gone through the normal path.
func (l *Logger) Force(key string, value any, level Level) bool {
	return l.log(key, value, level, nil, true)
}

func (l *Logger) log(key string, value any, level Level, metadata map[string]any, force bool) bool {
	l.calls.Add(1)
	hash := stableHash(key, value)

	raw, _ := l.cache.LoadOrStore(key, &cacheEntry{})
	entry := raw.(*cacheEntry)

	entry.mu.Lock()
	isDuplicate := l.stateChangeOnly && !force && entry.hash == hash && entry.count > 0
	entry.hash = hash
	entry.count++
	entry.mu.Unlock()

	if isDuplicate {
		l.suppressed.Add(1)
		return false
	}

	if level < l.minLevel {
		l.dropped.Add(1)
		return false
	}

	l.emit(key, value, level, metadata)
	l.emitted.Add(1)
	return true
}

func (l *Logger) emit(key string, value any, level Level, metadata map[string]any) {
	ev := l.eventFor(level)
	ev = ev.Str("key", key).Interface("value", value)
	for k, v := range metadata {
		ev = ev.Interface(k, v)
	}
	ev.Msg(key)
}

func (l *Logger) eventFor(level Level) *zerolog.Event {
	switch level {
	case LevelDebug:
		return l.zl.Debug()
	case LevelWarn:
		return l.zl.Warn()
	case LevelError:
		return l.zl.Error()
	case LevelCritical:
		return l.zl.Error().Bool("critical", true)
	default:
		return l.zl.Info()
	}
}

func (l *Logger) Debug(key string, value any) bool    { return l.Log(key, value, LevelDebug, nil) }
func (l *Logger) Info(key string, value any) bool     { return l.Log(key, value, LevelInfo, nil) }
func (l *Logger) Warn(key string, value any) bool     { return l.Log(key, value, LevelWarn, nil) }
func (l *Logger) Error(key string, value any) bool    { return l.Log(key, value, LevelError, nil) }
func (l *Logger) Critical(key string, value any) bool { return l.Log(key, value, LevelCritical, nil) }

// ClearStateCache drops all remembered (key,hash) pairs.
func (l *Logger) ClearStateCache() {
	l.cache.Range(func(k, _ any) bool {
		l.cache.Delete(k)
		return true
	})
}

// CacheEntry is a snapshot of one key's dedup state, for GetStateCache.
type CacheEntry struct {
	Hash  uint64
	Count uint64
}

// GetStateCache returns a point-in-time copy of the dedup cache.
func (l *Logger) GetStateCache() map[string]CacheEntry {
	out := make(map[string]CacheEntry)
	l.cache.Range(func(k, v any) bool {
		e := v.(*cacheEntry)
		e.mu.Lock()
		out[k.(string)] = CacheEntry{Hash: e.hash, Count: e.count}
		e.mu.Unlock()
		return true
	})
	return out
}

// GetStats returns cumulative counters.
func (l *Logger) GetStats() Stats {
	return Stats{
		Calls:      l.calls.Load(),
		Emitted:    l.emitted.Load(),
		Suppressed: l.suppressed.Load(),
		Dropped:    l.dropped.Load(),
	}
}
