package events

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestQueueDeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue()
	for i := 0; i < 100; i++ {
		q.Emit(Event{Kind: KindProgress, Progress: i})
	}
	q.Close()

	var got []int
	for e := range q.Events() {
		got = append(got, e.Progress)
	}
	require.Len(t, got, 100)
	for i, p := range got {
		assert.Equal(t, i, p)
	}
}

func TestQueueEmitDoesNotBlockWithoutConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Emit(Event{Kind: KindLog, Message: fmt.Sprint(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked while nobody was reading")
	}

	q.Close()
	n := 0
	for range q.Events() {
		n++
	}
	assert.Equal(t, 10000, n)
}

func TestQueueDropsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	q := NewQueue()
	q.Emit(Event{Kind: KindLog, Message: "kept"})
	q.Close()
	q.Emit(Event{Kind: KindLog, Message: "dropped"})

	var msgs []string
	for e := range q.Events() {
		msgs = append(msgs, e.Message)
	}
	assert.Equal(t, []string{"kept"}, msgs)
}

func TestMultiFansOut(t *testing.T) {
	var a, b Recorder
	m := Multi(&a, nil, &b)
	m.Emit(Event{Kind: KindFinished})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestLogfEmitsLogEvent(t *testing.T) {
	var r Recorder
	Logf(&r, SeverityWarn, "attempt %d failed", 2)

	logs := r.OfKind(KindLog)
	require.Len(t, logs, 1)
	assert.Equal(t, SeverityWarn, logs[0].Severity)
	assert.Equal(t, "attempt 2 failed", logs[0].Message)
}

func TestProgressZeroIsEncoded(t *testing.T) {
	data, err := json.Marshal(Event{Kind: KindProgress, Progress: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"progress","progress":0}`, string(data))
}
