// Package batcher turns a stream of chat messages into fixed-window batches,
// one independent window per chat.
//
// The first message a chat sends while idle opens a window and starts its
// timer; later messages only join the buffer, the timer is never reset. When
// the timer fires the buffer is snapshotted and handed to the flush function on
// the timer's goroutine. Messages that arrive while a flush is running are
// buffered and open the next window as soon as the flush returns, so a chat
// never has more than one timer or more than one flush at a time.
package batcher

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/tripsync-bot/internal/models"
	"go.uber.org/zap"
)

// DefaultWindow is used when a registry is built with a non-positive window.
const DefaultWindow = 10 * time.Second

// FlushFunc processes one batch. It is never called with an empty batch.
type FlushFunc func(ctx context.Context, chatID string, batch []models.Message)

// Timer is the subset of *time.Timer the batcher needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateCollecting
	stateFlushing
)

func (s sessionState) String() string {
	switch s {
	case stateCollecting:
		return "collecting"
	case stateFlushing:
		return "flushing"
	default:
		return "idle"
	}
}

// session is the window state of one chat.
type session struct {
	chatID string
	reg    *Registry

	mu      sync.Mutex
	state   sessionState
	buffer  []models.Message
	timer   Timer
	gen     uint64
	stopped bool
}

func (s *session) add(msg models.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.buffer = append(s.buffer, msg)
	if s.state == stateIdle {
		s.openWindowLocked()
	}
	return true
}

func (s *session) openWindowLocked() {
	s.state = stateCollecting
	s.gen++
	gen := s.gen
	s.timer = s.reg.after(s.reg.window, func() { s.expire(gen, false) })
}

// expire closes the window opened as generation gen. A forced expiry stops
// the pending timer first; a late callback from that timer sees a newer
// generation and returns.
func (s *session) expire(gen uint64, forced bool) {
	s.mu.Lock()
	if s.stopped || s.state != stateCollecting || (!forced && gen != s.gen) {
		s.mu.Unlock()
		return
	}
	if forced && s.timer != nil {
		s.timer.Stop()
	}
	batch := s.buffer
	s.buffer = nil
	s.timer = nil
	s.state = stateFlushing
	if len(batch) > 0 {
		// Registered under the session lock so Stop cannot miss it.
		s.reg.inflight.Add(1)
	}
	s.mu.Unlock()

	if len(batch) > 0 {
		s.reg.runFlush(s.chatID, batch)
		s.reg.inflight.Done()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = stateIdle
	if len(s.buffer) > 0 && !s.stopped {
		s.openWindowLocked()
	}
}

func (s *session) stop() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	dropped := len(s.buffer)
	s.buffer = nil
	return dropped
}

// Registry owns one session per chat.
type Registry struct {
	ctx    context.Context
	window time.Duration
	flush  FlushFunc
	after  AfterFunc
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
	inflight sync.WaitGroup
}

type Option func(*Registry)

// WithAfterFunc replaces the timer source, which tests use to fire windows by hand.
func WithAfterFunc(after AfterFunc) Option {
	return func(r *Registry) { r.after = after }
}

// NewRegistry creates a registry whose flushes run with ctx.
func NewRegistry(ctx context.Context, window time.Duration, flush FlushFunc, logger *zap.Logger, opts ...Option) *Registry {
	if window <= 0 {
		window = DefaultWindow
	}
	r := &Registry{
		ctx:      ctx,
		window:   window,
		flush:    flush,
		after:    realAfterFunc,
		logger:   logger,
		sessions: make(map[string]*session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add buffers msg in its chat's window. It reports false once the registry is stopped.
func (r *Registry) Add(msg models.Message) bool {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return false
	}
	s, ok := r.sessions[msg.ChatID]
	if !ok {
		s = &session{chatID: msg.ChatID, reg: r}
		r.sessions[msg.ChatID] = s
	}
	r.mu.Unlock()

	return s.add(msg)
}

// closeWindow closes the chat's open window now instead of waiting for its
// timer. It does nothing when the chat has no open window.
func (r *Registry) closeWindow(chatID string) {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	r.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.expire(gen, true)
}

// Buffered returns how many messages wait in the chat's buffer.
func (r *Registry) Buffered(chatID string) int {
	r.mu.Lock()
	s, ok := r.sessions[chatID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Stop cancels every pending window and drops buffered messages, then waits
// for flushes that are already running to return.
func (r *Registry) Stop() {
	r.mu.Lock()
	r.stopped = true
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		if dropped := s.stop(); dropped > 0 {
			r.logger.Warn("Dropping buffered messages on shutdown",
				zap.String("chat_id", s.chatID),
				zap.Int("messages", dropped))
		}
	}
	r.inflight.Wait()
}

func (r *Registry) runFlush(chatID string, batch []models.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Batch flush panicked",
				zap.String("chat_id", chatID),
				zap.Any("panic", rec))
		}
	}()

	r.logger.Debug("Flushing batch",
		zap.String("chat_id", chatID),
		zap.Int("messages", len(batch)))
	r.flush(r.ctx, chatID, batch)
}
