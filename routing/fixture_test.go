package routing

import (
	"context"
	"testing"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/stretchr/testify/require"
)

// fixture is a store seeded with three store nodes (one sync disabled), a
// corp node, and an item trigger routed to the store group
type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   *db.Store
	svc     *Service
	clock   time.Time
	channel common.Channel
	histID  int64
}

func testChannel(id string, maxBatch int, algorithm common.BatchAlgorithm) common.Channel {
	return common.Channel{
		ChannelID:         id,
		MaxBatchSize:      maxBatch,
		BatchAlgorithm:    algorithm,
		Enabled:           true,
		UseOldDataToRoute: true,
		UseRowDataToRoute: true,
		UsePKDataToRoute:  true,
	}
}

func newFixture(t *testing.T, channel common.Channel) *fixture {
	t.Helper()
	s := db.OpenTestStore(t)
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   s,
		clock:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		channel: channel,
	}

	w := s.Writer()
	require.NoError(t, s.SaveChannel(f.ctx, w, channel))
	for _, n := range []common.Node{
		{NodeID: "001", ExternalID: "store-1", NodeGroupID: "store", SyncEnabled: true},
		{NodeID: "002", ExternalID: "store-2", NodeGroupID: "store", SyncEnabled: true},
		{NodeID: "003", ExternalID: "store-3", NodeGroupID: "store", SyncEnabled: false},
		{NodeID: "000", ExternalID: "corp", NodeGroupID: "corp", SyncEnabled: true},
	} {
		require.NoError(t, s.SaveNode(f.ctx, w, n))
	}
	f.addRouter(common.Router{RouterID: "corp_2_store"})
	f.histID = f.addTrigger("item", "item", []string{"item_id", "name", "store_id", "status"}, "corp_2_store")

	f.svc = NewService(s, Options{
		PrefetchWindow:  2,
		GapGrace:        time.Hour,
		GapRetention:    24 * time.Hour,
		MaxGaps:         100,
		ScriptCacheSize: 8,
	}, nil, nil)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) addRouter(r common.Router) {
	f.t.Helper()
	if r.SourceNodeGroupID == "" {
		r.SourceNodeGroupID = "corp"
	}
	if r.TargetNodeGroupID == "" {
		r.TargetNodeGroupID = "store"
	}
	if r.RouterType == "" {
		r.RouterType = common.RouterTypeDefault
	}
	if !r.SyncOnInsert && !r.SyncOnUpdate && !r.SyncOnDelete {
		r.SyncOnInsert, r.SyncOnUpdate, r.SyncOnDelete = true, true, true
	}
	require.NoError(f.t, f.store.SaveRouter(f.ctx, f.store.Writer(), r))
}

func (f *fixture) addTrigger(triggerID, table string, columns []string, routerIDs ...string) int64 {
	f.t.Helper()
	w := f.store.Writer()
	require.NoError(f.t, f.store.SaveTrigger(f.ctx, w, common.Trigger{
		TriggerID:       triggerID,
		SourceTableName: table,
		ChannelID:       f.channel.ChannelID,
	}))
	for _, r := range routerIDs {
		require.NoError(f.t, f.store.SaveTriggerRouter(f.ctx, w, triggerID, r, true))
	}
	id, err := f.store.InsertTriggerHistory(f.ctx, w, common.TriggerHistory{
		TriggerID:       triggerID,
		SourceTableName: table,
		ColumnNames:     columns,
		PKColumnNames:   columns[:1],
	})
	require.NoError(f.t, err)
	return id
}

// insert captures an item insert with an explicit data id
func (f *fixture) insert(id int64, txn string, row string) {
	f.t.Helper()
	f.insertData(&common.Data{
		DataID:        id,
		TableName:     "item",
		EventType:     common.EventInsert,
		RowData:       row,
		TransactionID: txn,
		TriggerHistID: f.histID,
	})
}

func (f *fixture) insertData(d *common.Data) {
	f.t.Helper()
	if d.ChannelID == "" {
		d.ChannelID = f.channel.ChannelID
	}
	db.MustInsertData(f.t, f.store, d)
}

func (f *fixture) run() Stats {
	f.t.Helper()
	stats, err := f.svc.RunPass(f.ctx, f.channel.ChannelID)
	require.NoError(f.t, err)
	return stats
}

// batchContent is a batch reduced to what routing decides
type batchContent struct {
	NodeID  string
	Status  common.BatchStatus
	DataIDs []int64
}

// batches returns the channel's node batches in batch id order, without
// the unrouted accounting batches
func (f *fixture) batches() []batchContent {
	f.t.Helper()
	all, err := f.store.ListBatches(f.ctx, f.store.Reader(), f.channel.ChannelID, "")
	require.NoError(f.t, err)

	var out []batchContent
	for _, b := range all {
		if b.NodeID == common.UnroutedNodeID {
			continue
		}
		ids, err := f.store.BatchDataIDs(f.ctx, f.store.Reader(), b.BatchID)
		require.NoError(f.t, err)
		out = append(out, batchContent{NodeID: b.NodeID, Status: b.Status, DataIDs: ids})
	}
	return out
}

// nodeBatches filters batches to one node
func nodeBatches(all []batchContent, nodeID string) []batchContent {
	var out []batchContent
	for _, b := range all {
		if b.NodeID == nodeID {
			out = append(out, b)
		}
	}
	return out
}
