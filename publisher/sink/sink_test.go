package sink

import (
	"errors"
	"sync"
	"testing"

	"github.com/courier-cdc/courier/publisher"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})

	if len(config.Brokers) != 2 {
		t.Errorf("expected 2 brokers, got %d", len(config.Brokers))
	}
	if config.BatchSize != DefaultKafkaBatchSize {
		t.Errorf("expected batch size %d, got %d", DefaultKafkaBatchSize, config.BatchSize)
	}
	if config.RequiredAcks != kafka.RequireAll {
		t.Errorf("expected RequireAll acks, got %v", config.RequiredAcks)
	}
	assert.True(t, config.AutoCreateTopics)
}

func TestNewKafkaSink(t *testing.T) {
	s, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    50,
		RequiredAcks: kafka.RequireOne,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 50, s.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), s.writer.BatchBytes)
	assert.Equal(t, kafka.RequireOne, s.writer.RequiredAcks)
	assert.False(t, s.writer.Async, "writes must be synchronous")

	_, err = NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "courier_sale_001", streamName("courier.sale.001"))
	assert.Equal(t, "plain", streamName("plain"))
}

func TestMockSink(t *testing.T) {
	m := &MockSink{}
	require.NoError(t, m.Publish("courier.sale.001", "42", []byte("v")))
	msgs := m.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, MockMessage{Topic: "courier.sale.001", Key: "42", Value: []byte("v")}, msgs[0])

	boom := errors.New("publish failed")
	m.PublishErr = boom
	assert.ErrorIs(t, m.Publish("t", "k", nil), boom)
	assert.Len(t, m.Messages(), 1)

	require.NoError(t, m.Close())
	assert.True(t, m.Closed())
}

func TestMockSink_Concurrent(t *testing.T) {
	m := &MockSink{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Publish("topic", "key", []byte("value"))
		}()
	}
	wg.Wait()
	assert.Len(t, m.Messages(), 10)
}
