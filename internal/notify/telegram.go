// Package notify implements the Telegram Sink (component C, external):
// a serial, rate-limited outbound message queue with priority ordering
// and a plain-text fallback on markdown failure. Grounded on the
// teacher's notification_service.go's Notify method for the shape of
// the fire-and-forget send call; the interactive approval-button flow,
// slash-command listener, chat-ID file persistence and app-push stub
// in that file are all out of scope per spec.md §1 ("the Telegram
// notifier and its message formatting" is an external collaborator —
// only the queue contract and the HTTP call shape are implemented
// here, not message copy).
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Priority orders queued messages; higher values dequeue first within a
// tick of the serial loop (spec.md §5: CRITICAL > HIGH > NORMAL > LOW).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// minInterval is the minimum spacing between sends the sink's serial
// dequeue loop honors (spec.md §5, default 1s).
const minInterval = time.Second

// Sender is the minimal surface the sink needs from the bot client,
// narrowed for testing without a live Telegram connection.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type queuedMessage struct {
	text     string
	priority Priority
}

// Sink is the prioritized, rate-limited Telegram outbound queue.
type Sink struct {
	bot    Sender
	chatID int64
	log    zerolog.Logger

	mu      sync.Mutex
	queues  [PriorityCritical + 1][]string
	wake    chan struct{}
	closed  bool
	dropped uint64
}

// NewSink builds a Sink. bot may be nil, in which case Enqueue still
// accepts messages but Run drops them with a logged warning — this
// mirrors spec.md §4.6's "Telegram sink" being a non-critical component
// the Engine degrades around rather than fails on.
func NewSink(bot Sender, chatID int64, log zerolog.Logger) *Sink {
	return &Sink{
		bot:    bot,
		chatID: chatID,
		log:    log.With().Str("component", "notify").Logger(),
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue admits a message at the given priority. Non-blocking: the
// queue is unbounded in memory, matching the teacher's fire-and-forget
// Notify() shape rather than introducing backpressure the source never
// had.
func (s *Sink) Enqueue(text string, priority Priority) {
	if priority < PriorityLow {
		priority = PriorityLow
	}
	if priority > PriorityCritical {
		priority = PriorityCritical
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queues[priority] = append(s.queues[priority], text)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Dropped returns the count of messages discarded because the sink had
// no bot client configured.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Run drives the serial dequeue loop until ctx is canceled, sending at
// most one message per minInterval, highest priority first.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(minInterval)
	defer ticker.Stop()

	var lastAttempt time.Time
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			return
		case <-ticker.C:
		case <-s.wake:
		}
		if time.Since(lastAttempt) < minInterval {
			continue
		}
		lastAttempt = time.Now()
		s.sendNext(ctx)
	}
}

func (s *Sink) sendNext(ctx context.Context) {
	text, ok := s.popNextLocked()
	if !ok {
		return
	}

	if s.bot == nil {
		s.mu.Lock()
		s.dropped++
		s.mu.Unlock()
		s.log.Warn().Msg("telegram sink has no bot configured, dropping message")
		return
	}

	if err := s.send(text, true); err != nil {
		s.log.Warn().Err(err).Msg("markdown send failed, retrying as plain text")
		if err := s.send(stripMarkdown(text), false); err != nil {
			s.log.Error().Err(err).Msg("plain text fallback send failed")
		}
	}
	_ = ctx
}

// popNextLocked drains the highest-nonempty-priority queue's oldest
// entry. Must not be called with s.mu held.
func (s *Sink) popNextLocked() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for p := PriorityCritical; p >= PriorityLow; p-- {
		if len(s.queues[p]) == 0 {
			continue
		}
		text := s.queues[p][0]
		s.queues[p] = s.queues[p][1:]
		return text, true
	}
	return "", false
}

func (s *Sink) send(text string, markdown bool) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	if markdown {
		msg.ParseMode = tgbotapi.ModeMarkdown
	}
	msg.DisableWebPagePreview = true
	_, err := s.bot.Send(msg)
	return err
}

// stripMarkdown removes the handful of markdown control characters the
// Telegram Bot API rejects most often, per spec.md §6's fallback
// contract ("On markdown error, fall back to stripped plain text").
func stripMarkdown(text string) string {
	replacer := strings.NewReplacer(
		"*", "", "_", "", "`", "", "[", "", "]", "", "~", "",
	)
	return replacer.Replace(text)
}
