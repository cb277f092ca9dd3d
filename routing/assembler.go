package routing

import (
	"context"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/rs/zerolog/log"
)

// batchStore is the part of the store the assembler writes through
type batchStore interface {
	ListBatches(ctx context.Context, q db.Querier, channelID string, status common.BatchStatus) ([]*common.Batch, error)
	InsertBatch(ctx context.Context, q db.Querier, b *common.Batch) error
	UpdateBatch(ctx context.Context, q db.Querier, b *common.Batch) error
	InsertDataEvent(ctx context.Context, q db.Querier, dataID, batchID int64, routerID string, at time.Time) error
}

type openBatch struct {
	batch *common.Batch
	dirty bool
}

// BatchAssembler groups routed changes of one channel into one open batch
// per target node and closes batches when the channel's policy fires. A
// batch only ever closes at a transaction boundary.
type BatchAssembler struct {
	store     batchStore
	q         db.Querier
	channel   common.Channel
	now       func() time.Time
	passStart time.Time

	open     map[string]*openBatch
	order    []string
	closed   []*common.Batch
	unrouted *common.Batch
	events   int64
}

// NewBatchAssembler creates the assembler for one pass over channel
func NewBatchAssembler(store batchStore, q db.Querier, channel common.Channel, now func() time.Time) *BatchAssembler {
	return &BatchAssembler{
		store:     store,
		q:         q,
		channel:   channel,
		now:       now,
		passStart: now(),
		open:      make(map[string]*openBatch),
	}
}

// Resume picks up the batches left open by earlier passes
func (a *BatchAssembler) Resume(ctx context.Context) error {
	batches, err := a.store.ListBatches(ctx, a.q, a.channel.ChannelID, common.BatchStatusNew)
	if err != nil {
		return err
	}
	for _, b := range batches {
		if prev, ok := a.open[b.NodeID]; ok {
			log.Warn().
				Str("channel_id", a.channel.ChannelID).
				Str("node_id", b.NodeID).
				Int64("batch_id", prev.batch.BatchID).
				Msg("Found more than one open batch for node, closing the older one")
			if err := a.close(ctx, prev); err != nil {
				return err
			}
		}
		a.track(b)
	}
	return nil
}

func (a *BatchAssembler) track(b *common.Batch) *openBatch {
	ob := &openBatch{batch: b}
	if _, ok := a.open[b.NodeID]; !ok {
		a.order = append(a.order, b.NodeID)
	}
	a.open[b.NodeID] = ob
	return ob
}

func (a *BatchAssembler) batchType() common.BatchType {
	if a.channel.Reload {
		return common.BatchTypeLoad
	}
	return common.BatchTypeIncremental
}

// Offer appends d to the open batch of nodeID, creating one when needed,
// and closes it when boundary is set and the policy fires. It returns the
// batch id and whether the batch closed.
func (a *BatchAssembler) Offer(ctx context.Context, nodeID string, d *common.Data, routerID string, boundary bool) (int64, bool, error) {
	now := a.now()
	ob, ok := a.open[nodeID]
	if !ok {
		b := &common.Batch{
			NodeID:         nodeID,
			ChannelID:      a.channel.ChannelID,
			Status:         common.BatchStatusNew,
			BatchType:      a.batchType(),
			CreateTime:     now,
			LastUpdateTime: now,
		}
		if err := a.store.InsertBatch(ctx, a.q, b); err != nil {
			return 0, false, err
		}
		ob = a.track(b)
	}

	b := ob.batch
	if err := a.store.InsertDataEvent(ctx, a.q, d.DataID, b.BatchID, routerID, now); err != nil {
		return b.BatchID, false, err
	}
	b.Count(d.EventType)
	b.LastDataID = d.DataID
	b.LastTransactionID = d.TransactionID
	b.LastUpdateTime = now
	ob.dirty = true
	a.events++

	if boundary && a.shouldClose(b) {
		if err := a.close(ctx, ob); err != nil {
			return b.BatchID, false, err
		}
		return b.BatchID, true, nil
	}
	return b.BatchID, false, nil
}

// Unrouted accounts for a change no router selected a node for. It is
// counted in the pass accounting batch and never becomes deliverable.
func (a *BatchAssembler) Unrouted(d *common.Data) {
	if a.unrouted == nil {
		now := a.now()
		a.unrouted = &common.Batch{
			NodeID:         common.UnroutedNodeID,
			ChannelID:      a.channel.ChannelID,
			Status:         common.BatchStatusOK,
			BatchType:      a.batchType(),
			CreateTime:     now,
			LastUpdateTime: now,
		}
	}
	a.unrouted.Count(d.EventType)
	a.unrouted.LastDataID = d.DataID
	a.unrouted.LastTransactionID = d.TransactionID
}

func (a *BatchAssembler) shouldClose(b *common.Batch) bool {
	if b.DataEventCount == 0 {
		return false
	}
	switch a.channel.BatchAlgorithm {
	case common.BatchAlgorithmTransactional:
		return true
	default:
		return a.channel.MaxBatchSize > 0 && b.DataEventCount >= int64(a.channel.MaxBatchSize)
	}
}

// CloseAtBoundary evaluates every open batch at a transaction boundary of
// the stream, including batches that did not receive the boundary change
func (a *BatchAssembler) CloseAtBoundary(ctx context.Context) error {
	for _, nodeID := range a.openNodes() {
		ob := a.open[nodeID]
		if a.shouldClose(ob.batch) {
			if err := a.close(ctx, ob); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *BatchAssembler) openNodes() []string {
	nodes := make([]string, 0, len(a.open))
	seen := make(map[string]struct{}, len(a.open))
	for _, nodeID := range a.order {
		if _, ok := seen[nodeID]; ok {
			continue
		}
		if _, ok := a.open[nodeID]; ok {
			seen[nodeID] = struct{}{}
			nodes = append(nodes, nodeID)
		}
	}
	a.order = nodes
	return append([]string(nil), nodes...)
}

func (a *BatchAssembler) close(ctx context.Context, ob *openBatch) error {
	b := ob.batch
	now := a.now()
	b.Status = common.BatchStatusRouted
	b.LastUpdateTime = now
	b.RouterMillis += now.Sub(a.passStart).Milliseconds()
	if err := a.store.UpdateBatch(ctx, a.q, b); err != nil {
		return err
	}
	delete(a.open, b.NodeID)
	a.closed = append(a.closed, b)
	return nil
}

// Finish ends the pass: batches older than the channel's max batch
// interval close, other open batches are written back with their counts,
// and the accounting batch for unrouted changes is recorded. The end of
// the stream is a transaction boundary.
func (a *BatchAssembler) Finish(ctx context.Context) error {
	now := a.now()
	maxAge := time.Duration(a.channel.MaxBatchIntervalMS) * time.Millisecond

	for _, nodeID := range a.openNodes() {
		ob := a.open[nodeID]
		if maxAge > 0 && ob.batch.DataEventCount > 0 && now.Sub(ob.batch.CreateTime) >= maxAge {
			if err := a.close(ctx, ob); err != nil {
				return err
			}
			continue
		}
		if ob.dirty {
			if err := a.store.UpdateBatch(ctx, a.q, ob.batch); err != nil {
				return err
			}
			ob.dirty = false
		}
	}

	if a.unrouted != nil {
		a.unrouted.LastUpdateTime = now
		a.unrouted.RouterMillis = now.Sub(a.passStart).Milliseconds()
		if err := a.store.InsertBatch(ctx, a.q, a.unrouted); err != nil {
			return err
		}
	}
	return nil
}

// Closed returns the batches closed during the pass in closing order
func (a *BatchAssembler) Closed() []*common.Batch {
	return a.closed
}

// OpenCount returns the number of batches still open
func (a *BatchAssembler) OpenCount() int {
	return len(a.open)
}

// Events returns the number of data events written
func (a *BatchAssembler) Events() int64 {
	return a.events
}
