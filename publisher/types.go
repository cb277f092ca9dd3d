package publisher

import "time"

// BatchEvent announces one routed batch. Seq is assigned by the publish log.
type BatchEvent struct {
	Seq            uint64    `msgpack:"seq" json:"seq"`
	BatchID        int64     `msgpack:"batch_id" json:"batch_id"`
	ChannelID      string    `msgpack:"channel_id" json:"channel_id"`
	NodeID         string    `msgpack:"node_id" json:"node_id"`
	BatchType      string    `msgpack:"batch_type" json:"batch_type"`
	DataEventCount int64     `msgpack:"data_event_count" json:"data_event_count"`
	LastDataID     int64     `msgpack:"last_data_id" json:"last_data_id"`
	RoutedAt       time.Time `msgpack:"routed_at" json:"routed_at"`
}

// Sink is a destination for batch events (Kafka, NATS)
type Sink interface {
	// Publish sends one message to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer renders a batch event in a sink's wire format
type Transformer interface {
	Transform(event BatchEvent) ([]byte, error)
}

// Filter decides whether a sink receives a batch event
type Filter interface {
	Match(channelID, nodeID string) bool
}
