package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu       sync.Mutex
	messages []memMessage
	failures atomic.Int32
	closed   atomic.Bool
}

type memMessage struct {
	topic string
	key   string
	value string
}

func (m *memSink) Publish(topic, key string, value []byte) error {
	if m.failures.Load() > 0 {
		m.failures.Add(-1)
		return errors.New("sink unavailable")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, memMessage{topic: topic, key: key, value: string(value)})
	return nil
}

func (m *memSink) Close() error {
	m.closed.Store(true)
	return nil
}

func (m *memSink) sent() []memMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memMessage(nil), m.messages...)
}

type seqTransformer struct{}

func (seqTransformer) Transform(ev BatchEvent) ([]byte, error) {
	return []byte(fmt.Sprintf("%d:%s:%s", ev.Seq, ev.ChannelID, ev.NodeID)), nil
}

func newTestWorker(t *testing.T, pl *PublishLog, snk Sink, filter Filter) *Worker {
	t.Helper()
	if filter == nil {
		filter, _ = NewGlobFilter(nil, nil)
	}
	w, err := NewWorker(WorkerConfig{
		Name:         "test",
		Log:          pl,
		Sink:         snk,
		Transformer:  seqTransformer{},
		Filter:       filter,
		TopicPrefix:  "courier",
		PollInterval: 5 * time.Millisecond,
		RetryInitial: time.Millisecond,
		RetryMax:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	return w
}

func TestNewWorker_Validation(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	filter, _ := NewGlobFilter(nil, nil)

	base := WorkerConfig{Name: "w", Log: pl, Sink: &memSink{}, Transformer: seqTransformer{}, Filter: filter}
	tests := []struct {
		name   string
		mutate func(c *WorkerConfig)
	}{
		{"no name", func(c *WorkerConfig) { c.Name = "" }},
		{"no log", func(c *WorkerConfig) { c.Log = nil }},
		{"no sink", func(c *WorkerConfig) { c.Sink = nil }},
		{"no transformer", func(c *WorkerConfig) { c.Transformer = nil }},
		{"no filter", func(c *WorkerConfig) { c.Filter = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			_, err := NewWorker(c)
			assert.Error(t, err)
		})
	}

	w, err := NewWorker(base)
	require.NoError(t, err)
	assert.Equal(t, DefaultBatchSize, w.config.BatchSize)
	assert.Equal(t, DefaultMaxRetries, w.config.MaxRetries)
	assert.Equal(t, DefaultRetryMultiplier, w.config.RetryMultiplier)
}

func TestWorker_DeliversInOrder(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	snk := &memSink{}
	w := newTestWorker(t, pl, snk, nil)
	w.Start()
	defer w.Stop()

	require.NoError(t, pl.Append(testEvents(4, "sale")))

	require.Eventually(t, func() bool { return len(snk.sent()) == 4 }, 2*time.Second, 5*time.Millisecond)
	sent := snk.sent()
	assert.Equal(t, memMessage{topic: "courier.sale.001", key: "1", value: "1:sale:001"}, sent[0])
	assert.Equal(t, memMessage{topic: "courier.sale.002", key: "2", value: "2:sale:002"}, sent[1])
	assert.Equal(t, "4", sent[3].key)

	require.Eventually(t, func() bool { return w.Cursor() == 4 }, time.Second, 5*time.Millisecond)
	cursor, err := pl.GetCursor("test")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cursor)
}

func TestWorker_FilteredEventsAdvanceCursor(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	snk := &memSink{}
	filter, err := NewGlobFilter(nil, []string{"001"})
	require.NoError(t, err)
	w := newTestWorker(t, pl, snk, filter)
	w.Start()
	defer w.Stop()

	require.NoError(t, pl.Append(testEvents(6, "sale")))
	require.Eventually(t, func() bool { return w.Cursor() == 6 }, 2*time.Second, 5*time.Millisecond)

	sent := snk.sent()
	require.Len(t, sent, 2)
	for _, m := range sent {
		assert.Equal(t, "courier.sale.001", m.topic)
	}
}

func TestWorker_RetriesFailedPublish(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	snk := &memSink{}
	snk.failures.Store(3)
	w := newTestWorker(t, pl, snk, nil)
	w.Start()
	defer w.Stop()

	require.NoError(t, pl.Append(testEvents(1, "sale")))
	require.Eventually(t, func() bool { return len(snk.sent()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), snk.failures.Load())
}

func TestWorker_ResumesFromCursor(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	require.NoError(t, pl.Append(testEvents(5, "sale")))
	require.NoError(t, pl.AdvanceCursor("test", 3))

	snk := &memSink{}
	w := newTestWorker(t, pl, snk, nil)
	assert.Equal(t, uint64(3), w.Cursor())
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return len(snk.sent()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "4", snk.sent()[0].key)
}

func TestWorker_StopIdempotent(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()
	w := newTestWorker(t, pl, &memSink{}, nil)

	w.Stop()
	w.Start()
	w.Start()
	w.Stop()
	w.Stop()
}

func TestWorker_TopicWithoutPrefix(t *testing.T) {
	w := &Worker{config: WorkerConfig{}}
	assert.Equal(t, "sale.001", w.topic(BatchEvent{ChannelID: "sale", NodeID: "001"}))
}
