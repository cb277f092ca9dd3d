package common

import "time"

// UnroutedNodeID accounts for data no router selected a target for
const UnroutedNodeID = "-1"

// BatchStatus is the lifecycle state of an outgoing batch
type BatchStatus string

const (
	BatchStatusNew       BatchStatus = "NE" // open, still accepting data
	BatchStatusRouted    BatchStatus = "RT" // closed and deliverable
	BatchStatusExtracted BatchStatus = "EX"
	BatchStatusSent      BatchStatus = "SE"
	BatchStatusOK        BatchStatus = "OK"
	BatchStatusError     BatchStatus = "ER"
)

// BatchType distinguishes reload batches from incremental ones
type BatchType string

const (
	BatchTypeIncremental BatchType = "I"
	BatchTypeLoad        BatchType = "L"
)

// Batch is an ordered group of data destined for one node on one channel
type Batch struct {
	BatchID           int64
	NodeID            string
	ChannelID         string
	Status            BatchStatus
	BatchType         BatchType
	DataEventCount    int64
	InsertEventCount  int64
	UpdateEventCount  int64
	DeleteEventCount  int64
	OtherEventCount   int64
	LastDataID        int64
	LastTransactionID string
	RouterMillis      int64
	CreateTime        time.Time
	LastUpdateTime    time.Time
}

// Count tallies one data event of the given type
func (b *Batch) Count(et EventType) {
	b.DataEventCount++
	switch et {
	case EventInsert:
		b.InsertEventCount++
	case EventUpdate:
		b.UpdateEventCount++
	case EventDelete:
		b.DeleteEventCount++
	default:
		b.OtherEventCount++
	}
}
