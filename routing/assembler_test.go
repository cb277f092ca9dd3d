package routing

import (
	"context"
	"testing"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memEvent struct {
	dataID   int64
	batchID  int64
	routerID string
}

// memBatchStore keeps batches in memory
type memBatchStore struct {
	nextID  int64
	batches map[int64]*common.Batch
	order   []int64
	events  []memEvent
	updates int
}

func newMemBatchStore() *memBatchStore {
	return &memBatchStore{batches: make(map[int64]*common.Batch)}
}

func (m *memBatchStore) ListBatches(_ context.Context, _ db.Querier, channelID string, status common.BatchStatus) ([]*common.Batch, error) {
	var out []*common.Batch
	for _, id := range m.order {
		b := m.batches[id]
		if (channelID == "" || b.ChannelID == channelID) && (status == "" || b.Status == status) {
			c := *b
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *memBatchStore) InsertBatch(_ context.Context, _ db.Querier, b *common.Batch) error {
	m.nextID++
	b.BatchID = m.nextID
	c := *b
	m.batches[b.BatchID] = &c
	m.order = append(m.order, b.BatchID)
	return nil
}

func (m *memBatchStore) UpdateBatch(_ context.Context, _ db.Querier, b *common.Batch) error {
	c := *b
	m.batches[b.BatchID] = &c
	m.updates++
	return nil
}

func (m *memBatchStore) InsertDataEvent(_ context.Context, _ db.Querier, dataID, batchID int64, routerID string, _ time.Time) error {
	m.events = append(m.events, memEvent{dataID: dataID, batchID: batchID, routerID: routerID})
	return nil
}

func (m *memBatchStore) add(b common.Batch) int64 {
	m.InsertBatch(context.Background(), nil, &b)
	return b.BatchID
}

func change(id int64, txn string) *common.Data {
	return &common.Data{DataID: id, EventType: common.EventInsert, TransactionID: txn}
}

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time { return c.t }

func newTestAssembler(store *memBatchStore, channel common.Channel) (*BatchAssembler, *testClock) {
	clock := &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewBatchAssembler(store, nil, channel, clock.now), clock
}

func TestAssembler_ClosesOnlyAtBoundary(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	a, _ := newTestAssembler(store, testChannel("item", 2, common.BatchAlgorithmDefault))

	for i := int64(1); i <= 3; i++ {
		_, closed, err := a.Offer(ctx, "001", change(i, "T1"), "r", false)
		require.NoError(t, err)
		assert.False(t, closed, "batch must not close inside a transaction")
	}
	id, closed, err := a.Offer(ctx, "001", change(4, "T1"), "r", true)
	require.NoError(t, err)
	assert.True(t, closed)

	b := store.batches[id]
	assert.Equal(t, common.BatchStatusRouted, b.Status)
	assert.Equal(t, int64(4), b.DataEventCount)
	assert.Equal(t, int64(4), b.LastDataID)
	assert.Equal(t, "T1", b.LastTransactionID)
	assert.Equal(t, 0, a.OpenCount())
	assert.Equal(t, int64(4), a.Events())
}

func TestAssembler_CloseAtBoundaryClosesOtherNodes(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	a, _ := newTestAssembler(store, testChannel("item", 2, common.BatchAlgorithmDefault))

	// 001 fills up mid transaction; the boundary change only goes to 002
	_, _, err := a.Offer(ctx, "001", change(1, "T1"), "r", false)
	require.NoError(t, err)
	_, _, err = a.Offer(ctx, "001", change(2, "T1"), "r", false)
	require.NoError(t, err)
	_, closed, err := a.Offer(ctx, "002", change(3, "T1"), "r", true)
	require.NoError(t, err)
	assert.False(t, closed)

	require.NoError(t, a.CloseAtBoundary(ctx))
	require.Len(t, a.Closed(), 1)
	assert.Equal(t, "001", a.Closed()[0].NodeID)
	assert.Equal(t, 1, a.OpenCount())
}

func TestAssembler_Transactional(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	a, _ := newTestAssembler(store, testChannel("item", 100, common.BatchAlgorithmTransactional))

	_, closed, err := a.Offer(ctx, "001", change(1, "T1"), "r", false)
	require.NoError(t, err)
	assert.False(t, closed)
	_, closed, err = a.Offer(ctx, "001", change(2, "T1"), "r", true)
	require.NoError(t, err)
	assert.True(t, closed)
	_, closed, err = a.Offer(ctx, "001", change(3, ""), "r", true)
	require.NoError(t, err)
	assert.True(t, closed)

	require.Len(t, a.Closed(), 2)
	assert.Equal(t, int64(2), a.Closed()[0].DataEventCount)
	assert.Equal(t, int64(1), a.Closed()[1].DataEventCount)
}

func TestAssembler_NoMaxNeverClosesBySize(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	a, _ := newTestAssembler(store, testChannel("item", 0, common.BatchAlgorithmDefault))

	for i := int64(1); i <= 50; i++ {
		_, closed, err := a.Offer(ctx, "001", change(i, ""), "r", true)
		require.NoError(t, err)
		require.False(t, closed)
	}
	require.NoError(t, a.Finish(ctx))
	open, _ := store.ListBatches(ctx, nil, "item", common.BatchStatusNew)
	require.Len(t, open, 1)
	assert.Equal(t, int64(50), open[0].DataEventCount)
}

func TestAssembler_FinishClosesAgedBatches(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	ch := testChannel("item", 100, common.BatchAlgorithmDefault)
	ch.MaxBatchIntervalMS = 1000
	a, clock := newTestAssembler(store, ch)

	_, _, err := a.Offer(ctx, "001", change(1, ""), "r", true)
	require.NoError(t, err)
	clock.t = clock.t.Add(1500 * time.Millisecond)
	_, _, err = a.Offer(ctx, "002", change(2, ""), "r", true)
	require.NoError(t, err)

	require.NoError(t, a.Finish(ctx))
	require.Len(t, a.Closed(), 1)
	assert.Equal(t, "001", a.Closed()[0].NodeID)

	open, _ := store.ListBatches(ctx, nil, "item", common.BatchStatusNew)
	require.Len(t, open, 1)
	assert.Equal(t, "002", open[0].NodeID)
	assert.Equal(t, int64(1), open[0].DataEventCount, "open batch counts are written back")
}

func TestAssembler_ResumeContinuesOpenBatch(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	older := store.add(common.Batch{NodeID: "001", ChannelID: "item", Status: common.BatchStatusNew, DataEventCount: 1})
	newer := store.add(common.Batch{NodeID: "001", ChannelID: "item", Status: common.BatchStatusNew, DataEventCount: 1})
	store.add(common.Batch{NodeID: "002", ChannelID: "other", Status: common.BatchStatusNew})

	a, _ := newTestAssembler(store, testChannel("item", 2, common.BatchAlgorithmDefault))
	require.NoError(t, a.Resume(ctx))
	assert.Equal(t, common.BatchStatusRouted, store.batches[older].Status)
	assert.Equal(t, 1, a.OpenCount())

	id, closed, err := a.Offer(ctx, "001", change(7, ""), "r", true)
	require.NoError(t, err)
	assert.Equal(t, newer, id)
	assert.True(t, closed)
	assert.Equal(t, int64(2), store.batches[newer].DataEventCount)
	assert.Empty(t, a.openNodes())
	require.Len(t, a.Closed(), 2, "the duplicate older batch closes on resume")
}

func TestAssembler_UnroutedAccounting(t *testing.T) {
	ctx := context.Background()
	store := newMemBatchStore()
	ch := testChannel("item", 1, common.BatchAlgorithmDefault)
	ch.Reload = true
	a, _ := newTestAssembler(store, ch)

	a.Unrouted(&common.Data{DataID: 1, EventType: common.EventInsert})
	a.Unrouted(&common.Data{DataID: 2, EventType: common.EventDelete})
	assert.Empty(t, store.order, "written at finish")

	require.NoError(t, a.Finish(ctx))
	require.Len(t, store.order, 1)
	b := store.batches[store.order[0]]
	assert.Equal(t, common.UnroutedNodeID, b.NodeID)
	assert.Equal(t, common.BatchStatusOK, b.Status)
	assert.Equal(t, common.BatchTypeLoad, b.BatchType)
	assert.Equal(t, int64(2), b.DataEventCount)
	assert.Equal(t, int64(1), b.InsertEventCount)
	assert.Equal(t, int64(1), b.DeleteEventCount)
	assert.Equal(t, int64(2), b.LastDataID)
	assert.Empty(t, store.events)
	assert.Empty(t, a.Closed())
}
