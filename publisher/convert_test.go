package publisher

import (
	"testing"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsFromBatches(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	batches := []*common.Batch{
		{BatchID: 1, NodeID: "001", ChannelID: "sale", Status: common.BatchStatusRouted, BatchType: common.BatchTypeIncremental, DataEventCount: 3, LastDataID: 103, LastUpdateTime: at},
		{BatchID: 2, NodeID: "002", ChannelID: "sale", Status: common.BatchStatusNew},
		{BatchID: 3, NodeID: common.UnroutedNodeID, ChannelID: "sale", Status: common.BatchStatusRouted},
		nil,
	}

	events := EventsFromBatches(batches)
	require.Len(t, events, 1)
	assert.Equal(t, BatchEvent{
		BatchID:        1,
		ChannelID:      "sale",
		NodeID:         "001",
		BatchType:      "I",
		DataEventCount: 3,
		LastDataID:     103,
		RoutedAt:       at,
	}, events[0])
}
