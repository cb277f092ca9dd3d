package publisher

import (
	"sync"
	"testing"
	"time"

	"github.com/courier-cdc/courier/cfg"
	"github.com/courier-cdc/courier/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registerOnce sync.Once
	testSinksMu  sync.Mutex
	testSinks    = map[string]*memSink{}
)

func registerTestFactories() {
	registerOnce.Do(func() {
		RegisterSink("memory", func(c cfg.SinkConfiguration) (Sink, error) {
			s := &memSink{}
			testSinksMu.Lock()
			testSinks[c.Name] = s
			testSinksMu.Unlock()
			return s, nil
		})
		RegisterTransformer("seq", func() Transformer { return seqTransformer{} })
	})
}

func testSink(name string) *memSink {
	testSinksMu.Lock()
	defer testSinksMu.Unlock()
	return testSinks[name]
}

func TestRegistry_AppendBatchesReachesSinks(t *testing.T) {
	registerTestFactories()
	r, err := NewRegistry(RegistryConfig{
		DataDir: t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "all", Type: "memory", Format: "seq", PollIntervalMS: 5},
			{Name: "sale-only", Type: "memory", Format: "seq", FilterChannels: []string{"sale"}, PollIntervalMS: 5},
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Stop()

	batches := []*common.Batch{
		{BatchID: 10, NodeID: "001", ChannelID: "sale", Status: common.BatchStatusRouted},
		{BatchID: 11, NodeID: "002", ChannelID: "item", Status: common.BatchStatusRouted},
		{BatchID: 12, NodeID: common.UnroutedNodeID, ChannelID: "item", Status: common.BatchStatusOK},
	}
	require.NoError(t, r.AppendBatches(batches))
	assert.Equal(t, uint64(2), r.LastSeq())

	require.Eventually(t, func() bool {
		return len(testSink("all").sent()) == 2 && len(testSink("sale-only").sent()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "10", testSink("sale-only").sent()[0].key)

	require.Eventually(t, func() bool {
		for _, s := range r.Sinks() {
			if s.Cursor != 2 {
				return false
			}
		}
		return true
	}, time.Second, 5*time.Millisecond)

	assert.Error(t, r.Start(), "already running")
}

func TestRegistry_Errors(t *testing.T) {
	registerTestFactories()

	_, err := NewRegistry(RegistryConfig{})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "x", Type: "carrier-pigeon"}},
	})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "bad-format", Type: "memory", Format: "avro"}},
	})
	assert.Error(t, err)
	assert.True(t, testSink("bad-format").closed.Load(), "sink closed when setup fails")
}

func TestRegistry_StopClosesSinksAndLog(t *testing.T) {
	registerTestFactories()
	r, err := NewRegistry(RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "closing", Type: "memory", Format: "seq"}},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	r.Stop()
	r.Stop()
	assert.True(t, testSink("closing").closed.Load())
	assert.ErrorIs(t, r.AppendBatches(nil), ErrLogClosed)
	assert.Equal(t, uint64(0), r.LastSeq())
}
