package publisher

import (
	"github.com/courier-cdc/courier/common"
)

// EventsFromBatches builds publish-log events for closed batches. Batches
// that are not deliverable are skipped.
func EventsFromBatches(batches []*common.Batch) []BatchEvent {
	events := make([]BatchEvent, 0, len(batches))
	for _, b := range batches {
		if b == nil || b.NodeID == common.UnroutedNodeID || b.Status != common.BatchStatusRouted {
			continue
		}
		events = append(events, BatchEvent{
			BatchID:        b.BatchID,
			ChannelID:      b.ChannelID,
			NodeID:         b.NodeID,
			BatchType:      string(b.BatchType),
			DataEventCount: b.DataEventCount,
			LastDataID:     b.LastDataID,
			RoutedAt:       b.LastUpdateTime.UTC(),
		})
	}
	return events
}
