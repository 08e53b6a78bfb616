// Package events defines the one-way notifications a research run emits
// and the emitters that carry them to observers.
package events

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind tags an Event.
type Kind string

const (
	KindLog              Kind = "log"
	KindQueryDiscovered  Kind = "query_discovered"
	KindURLDiscovered    Kind = "url_discovered"
	KindVectorIntelReady Kind = "vector_intel_ready"
	KindAnalyticalMap    Kind = "analytical_map_ready"
	KindSectionReady     Kind = "section_ready"
	KindChartReady       Kind = "chart_ready"
	KindProgress         Kind = "progress"
	KindFinished         Kind = "finished"
)

// Severity tags a log event.
type Severity string

const (
	SeveritySystem    Severity = "SYSTEM"
	SeverityAI        Severity = "AI"
	SeverityAIThought Severity = "AI_THOUGHT"
	SeverityWarn      Severity = "WARN"
	SeverityError     Severity = "ERROR"
	SeveritySuccess   Severity = "SUCCESS"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity,omitempty"`
	Message  string   `json:"message,omitempty"`
	Query    string   `json:"query,omitempty"`
	URL      string   `json:"url,omitempty"`
	Title    string   `json:"title,omitempty"`
	Content  string   `json:"content,omitempty"`
	Progress int      `json:"progress"`
	State    string   `json:"state,omitempty"`
	Chart    any      `json:"chart,omitempty"`
}

// Emitter receives events. Implementations must not block the caller for
// long and must be safe for concurrent use.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

// Emit calls f(e).
func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

type multi []Emitter

func (m multi) Emit(e Event) {
	for _, em := range m {
		em.Emit(e)
	}
}

// Multi fans every event out to each emitter in order.
func Multi(emitters ...Emitter) Emitter {
	var out multi
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

// Logf emits a log event and mirrors it to the process logger.
func Logf(em Emitter, sev Severity, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch sev {
	case SeverityWarn:
		log.Warn().Str("severity", string(sev)).Msg(msg)
	case SeverityError:
		log.Error().Str("severity", string(sev)).Msg(msg)
	default:
		log.Info().Str("severity", string(sev)).Msg(msg)
	}
	if em != nil {
		em.Emit(Event{Kind: KindLog, Severity: sev, Message: msg})
	}
}

// Recorder keeps every event it receives. It is used by tests and by
// callers that only need the final list.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of all recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns the recorded events with the given kind, in order.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
