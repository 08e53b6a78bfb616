package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TobiSchelling/pegasus/internal/events"
)

// ErrExhausted matches every error returned after all retry and fallback
// paths have failed.
var ErrExhausted = errors.New("llm retries exhausted")

// ExhaustedError carries the last underlying failure.
type ExhaustedError struct {
	Model    string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("llm call failed after %d attempts (last model %s): %v", e.Attempts, e.Model, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Session is the per-run LLM state: the active model identity and the
// retry policy. Once the fallback model is engaged it stays engaged for
// the lifetime of the session.
type Session struct {
	chatter    Chatter
	primary    string
	fallback   string
	maxRetries int
	backoff    time.Duration
	emit       events.Emitter
	sleep      func(context.Context, time.Duration) error

	mu       sync.Mutex
	model    string
	switched bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithModels sets the primary and fallback model identities.
func WithModels(primary, fallback string) SessionOption {
	return func(s *Session) {
		s.primary = primary
		s.fallback = fallback
	}
}

// WithMaxRetries sets how many times a failed call is retried on the
// active model before falling back.
func WithMaxRetries(n int) SessionOption {
	return func(s *Session) { s.maxRetries = max(n, 0) }
}

// WithBackoff sets the linear backoff unit: retry N waits N*d.
func WithBackoff(d time.Duration) SessionOption {
	return func(s *Session) { s.backoff = d }
}

// WithEmitter routes attempt warnings to em.
func WithEmitter(em events.Emitter) SessionOption {
	return func(s *Session) { s.emit = em }
}

// NewSession creates a session starting on the primary model.
func NewSession(c Chatter, opts ...SessionOption) *Session {
	s := &Session{
		chatter:    c,
		maxRetries: 2,
		emit:       events.Discard,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.model = s.primary
	return s
}

// NewSessionFromConfig creates a session using the llm section of cfg.
func NewSessionFromConfig(c Chatter, primary, fallback string, maxRetries int, backoff time.Duration, em events.Emitter) *Session {
	return NewSession(c,
		WithModels(primary, fallback),
		WithMaxRetries(maxRetries),
		WithBackoff(backoff),
		WithEmitter(em),
	)
}

// Model returns the active model identity.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

// FallbackEngaged reports whether the session has switched to the
// fallback model.
func (s *Session) FallbackEngaged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switched
}

// Prompt sends a single user message.
func (s *Session) Prompt(ctx context.Context, prompt string) (string, error) {
	return s.Converse(ctx, User(prompt))
}

// Converse runs messages against the active model with retries, then
// once against the fallback model. The returned error is an
// *ExhaustedError when every path failed.
func (s *Session) Converse(ctx context.Context, messages []Message) (string, error) {
	model := s.Model()
	attempts := s.maxRetries + 1

	var lastErr error
	calls := 0
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && s.backoff > 0 {
			// cancellation never engages the fallback
			if err := s.sleep(ctx, time.Duration(attempt)*s.backoff); err != nil {
				return "", &ExhaustedError{Model: model, Attempts: calls, Err: err}
			}
		}
		calls++
		text, err := s.chatter.Chat(ctx, model, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		events.Logf(s.emit, events.SeverityWarn, "LLM call failed (attempt %d/%d): %v", attempt+1, attempts, err)
	}

	if next, ok := s.engageFallback(model); ok {
		events.Logf(s.emit, events.SeverityWarn, "Switching to fallback model: %s", next)
		calls++
		text, err := s.chatter.Chat(ctx, next, messages)
		if err == nil {
			return text, nil
		}
		lastErr = err
		model = next
		events.Logf(s.emit, events.SeverityWarn, "Fallback model %s failed: %v", next, err)
	}

	return "", &ExhaustedError{Model: model, Attempts: calls, Err: lastErr}
}

// engageFallback moves the session to the fallback model if one is
// configured and differs from the model that just failed. The switch is
// permanent. If another caller already switched, the active model is
// returned so this call still gets one attempt on it.
func (s *Session) engageFallback(failed string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model != failed {
		return s.model, true
	}
	if s.fallback == "" || s.fallback == failed {
		return "", false
	}
	s.model = s.fallback
	s.switched = true
	return s.model, true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
