package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/TobiSchelling/pegasus/internal/events"
)

func TestDecodeJSONObjectPlain(t *testing.T) {
	var result map[string]any
	if err := DecodeJSONObject(`{"key": "value", "num": 42}`, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestDecodeJSONObjectWithCodeFence(t *testing.T) {
	var result map[string]any
	err := DecodeJSONObject("```json\n{\"key\": \"value\"}\n```", &result)
	if err != nil || result["key"] != "value" {
		t.Errorf("expected key='value', got %v (err %v)", result, err)
	}
}

func TestDecodeJSONObjectWithProse(t *testing.T) {
	var result map[string]any
	err := DecodeJSONObject("Here is the data you asked for:\n{\"key\": \"value\"}\nLet me know.", &result)
	if err != nil || result["key"] != "value" {
		t.Errorf("expected key='value', got %v (err %v)", result, err)
	}
}

func TestDecodeJSONObjectInvalid(t *testing.T) {
	for _, text := range []string{"not json at all", "", "{broken"} {
		var result map[string]any
		if err := DecodeJSONObject(text, &result); err == nil {
			t.Errorf("expected error for %q", text)
		}
	}
}

func TestDecodeJSONObjectNoObject(t *testing.T) {
	var v map[string]any
	err := DecodeJSONObject("[1, 2, 3]", &v)
	assert.ErrorIs(t, err, ErrNoJSON)
}

// scriptedChatter fails the first n calls for each model listed in fails.
type scriptedChatter struct {
	mu     sync.Mutex
	fails  map[string]int
	calls  []string
	answer string
}

func (s *scriptedChatter) Chat(_ context.Context, model string, _ []Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, model)
	if s.fails[model] != 0 {
		if s.fails[model] > 0 {
			s.fails[model]--
		}
		return "", fmt.Errorf("%s unavailable", model)
	}
	return s.answer + " from " + model, nil
}

func (s *scriptedChatter) modelCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newTestSession(c Chatter, retries int, em events.Emitter) (*Session, *[]time.Duration) {
	var slept []time.Duration
	s := NewSession(c,
		WithModels("primary", "fallback"),
		WithMaxRetries(retries),
		WithBackoff(5*time.Second),
		WithEmitter(em),
	)
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestSessionSucceedsFirstTry(t *testing.T) {
	c := &scriptedChatter{answer: "ok"}
	s, slept := newTestSession(c, 2, nil)

	out, err := s.Prompt(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok from primary", out)
	assert.Empty(t, *slept)
	assert.Equal(t, "primary", s.Model())
	assert.False(t, s.FallbackEngaged())
}

func TestSessionRetriesWithLinearBackoff(t *testing.T) {
	c := &scriptedChatter{answer: "ok", fails: map[string]int{"primary": 2}}
	s, slept := newTestSession(c, 2, nil)

	out, err := s.Prompt(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "ok from primary", out)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *slept)
	assert.False(t, s.FallbackEngaged())
}

func TestSessionFallbackIsSticky(t *testing.T) {
	c := &scriptedChatter{answer: "ok", fails: map[string]int{"primary": -1}}
	var rec events.Recorder
	s, _ := newTestSession(c, 2, &rec)

	out, err := s.Prompt(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, "ok from fallback", out)
	assert.True(t, s.FallbackEngaged())
	assert.Equal(t, "fallback", s.Model())

	out, err = s.Prompt(context.Background(), "second")
	require.NoError(t, err)
	assert.Equal(t, "ok from fallback", out)

	// three primary attempts, then only fallback from here on
	assert.Equal(t, []string{"primary", "primary", "primary", "fallback", "fallback"}, c.modelCalls())

	var switches int
	for _, e := range rec.OfKind(events.KindLog) {
		if strings.HasPrefix(e.Message, "Switching to fallback model") {
			switches++
		}
	}
	assert.Equal(t, 1, switches)
}

func TestSessionExhausted(t *testing.T) {
	c := &scriptedChatter{fails: map[string]int{"primary": -1, "fallback": -1}}
	s, _ := newTestSession(c, 1, nil)

	_, err := s.Prompt(context.Background(), "hello")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, "fallback", ex.Model)
	assert.Contains(t, ex.Err.Error(), "fallback unavailable")

	// next call retries on the fallback only; there is nothing left to switch to
	_, err = s.Prompt(context.Background(), "again")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []string{"primary", "primary", "fallback", "fallback", "fallback"}, c.modelCalls())
}

func TestSessionNoFallbackConfigured(t *testing.T) {
	c := &scriptedChatter{fails: map[string]int{"only": -1}}
	s := NewSession(c, WithModels("only", ""), WithMaxRetries(0))

	_, err := s.Prompt(context.Background(), "hello")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, []string{"only"}, c.modelCalls())
	assert.False(t, s.FallbackEngaged())
}

func TestSessionCancelledDuringBackoff(t *testing.T) {
	c := &scriptedChatter{fails: map[string]int{"primary": -1}}
	s := NewSession(c, WithModels("primary", ""), WithMaxRetries(3), WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Prompt(ctx, "hello")
	require.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, c.modelCalls(), 1)
}

func TestSessionCancelledBackoffKeepsPrimary(t *testing.T) {
	c := &scriptedChatter{fails: map[string]int{"primary": -1}}
	s := NewSession(c, WithModels("primary", "fallback"), WithMaxRetries(2), WithBackoff(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Prompt(ctx, "hello")

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "primary", ex.Model)
	assert.Equal(t, 1, ex.Attempts)
	assert.Equal(t, []string{"primary"}, c.modelCalls())
	assert.False(t, s.FallbackEngaged())
	assert.Equal(t, "primary", s.Model())
}

// fakeModel is a minimal llms.Model for Client tests.
type fakeModel struct {
	gotModel string
	gotTypes []llms.ChatMessageType
	choices  []*llms.ContentChoice
	err      error
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	f.gotModel = opts.Model
	for _, m := range messages {
		f.gotTypes = append(f.gotTypes, m.Role)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: f.choices}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestClientChatPassesModelAndRoles(t *testing.T) {
	fm := &fakeModel{choices: []*llms.ContentChoice{{Content: "answer"}}}
	c := newClientFromModel(fm, time.Second)

	out, err := c.Chat(context.Background(), "llama3.1", []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, "llama3.1", fm.gotModel)
	assert.Equal(t, []llms.ChatMessageType{llms.ChatMessageTypeSystem, llms.ChatMessageTypeHuman}, fm.gotTypes)
}

func TestClientChatNoChoices(t *testing.T) {
	c := newClientFromModel(&fakeModel{}, 0)
	_, err := c.Chat(context.Background(), "m", User("hi"))
	assert.ErrorContains(t, err, "no choices")
}

func TestClientChatWrapsError(t *testing.T) {
	boom := errors.New("boom")
	c := newClientFromModel(&fakeModel{err: boom}, 0)
	_, err := c.Chat(context.Background(), "m", User("hi"))
	assert.ErrorIs(t, err, boom)
}
