package db

import (
	"context"
	"fmt"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/doug-martin/goqu/v9"
)

var batchColumns = []interface{}{
	"batch_id", "node_id", "channel_id", "status", "batch_type",
	"data_event_count", "insert_event_count", "update_event_count", "delete_event_count", "other_event_count",
	"last_data_id", "last_transaction_id", "router_millis", "create_time", "last_update_time",
}

func batchRecord(b *common.Batch) goqu.Record {
	return goqu.Record{
		"node_id":             b.NodeID,
		"channel_id":          b.ChannelID,
		"status":              string(b.Status),
		"batch_type":          string(b.BatchType),
		"data_event_count":    b.DataEventCount,
		"insert_event_count":  b.InsertEventCount,
		"update_event_count":  b.UpdateEventCount,
		"delete_event_count":  b.DeleteEventCount,
		"other_event_count":   b.OtherEventCount,
		"last_data_id":        b.LastDataID,
		"last_transaction_id": b.LastTransactionID,
		"router_millis":       b.RouterMillis,
		"create_time":         b.CreateTime,
		"last_update_time":    b.LastUpdateTime,
	}
}

// InsertBatch writes a new outgoing batch and assigns its id
func (s *Store) InsertBatch(ctx context.Context, q Querier, b *common.Batch) error {
	res, err := s.exec(ctx, q, s.dialect.Insert(TableOutgoingBatch).Rows(batchRecord(b)))
	if err != nil {
		return fmt.Errorf("insert batch for node %s: %w", b.NodeID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("batch id: %w", err)
	}
	b.BatchID = id
	return nil
}

// UpdateBatch writes status and counters of an existing batch
func (s *Store) UpdateBatch(ctx context.Context, q Querier, b *common.Batch) error {
	rec := batchRecord(b)
	delete(rec, "create_time")
	_, err := s.exec(ctx, q, s.dialect.Update(TableOutgoingBatch).Set(rec).
		Where(goqu.C("batch_id").Eq(b.BatchID)))
	if err != nil {
		return fmt.Errorf("update batch %d: %w", b.BatchID, err)
	}
	return nil
}

// InsertDataEvent links a data row to the batch it was routed into
func (s *Store) InsertDataEvent(ctx context.Context, q Querier, dataID, batchID int64, routerID string, at time.Time) error {
	_, err := s.exec(ctx, q, s.dialect.Insert(TableDataEvent).Rows(goqu.Record{
		"data_id":     dataID,
		"batch_id":    batchID,
		"router_id":   routerID,
		"create_time": at,
	}))
	if err != nil {
		return fmt.Errorf("insert data event %d/%d: %w", dataID, batchID, err)
	}
	return nil
}

func (s *Store) scanBatches(ctx context.Context, q Querier, ds sqlBuilder) ([]*common.Batch, error) {
	rows, err := s.query(ctx, q, ds)
	if err != nil {
		return nil, fmt.Errorf("load batches: %w", err)
	}
	defer rows.Close()

	var out []*common.Batch
	for rows.Next() {
		var b common.Batch
		var status, batchType string
		err := rows.Scan(&b.BatchID, &b.NodeID, &b.ChannelID, &status, &batchType,
			&b.DataEventCount, &b.InsertEventCount, &b.UpdateEventCount, &b.DeleteEventCount, &b.OtherEventCount,
			&b.LastDataID, &b.LastTransactionID, &b.RouterMillis, &b.CreateTime, &b.LastUpdateTime)
		if err != nil {
			return nil, err
		}
		b.Status = common.BatchStatus(status)
		b.BatchType = common.BatchType(batchType)
		out = append(out, &b)
	}
	return out, rows.Err()
}

// ListBatches returns batches of a channel, optionally filtered by
// status, ordered by batch id. An empty channelID matches every channel.
func (s *Store) ListBatches(ctx context.Context, q Querier, channelID string, status common.BatchStatus) ([]*common.Batch, error) {
	ds := s.dialect.From(TableOutgoingBatch).Select(batchColumns...).Order(goqu.C("batch_id").Asc())
	if channelID != "" {
		ds = ds.Where(goqu.C("channel_id").Eq(channelID))
	}
	if status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(status)))
	}
	return s.scanBatches(ctx, q, ds)
}

// BatchDataIDs returns the data ids routed into a batch, ascending
func (s *Store) BatchDataIDs(ctx context.Context, q Querier, batchID int64) ([]int64, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableDataEvent).
		Select("data_id").Distinct().
		Where(goqu.C("batch_id").Eq(batchID)).
		Order(goqu.C("data_id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("load batch %d events: %w", batchID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountBatches counts batches of a channel with the given status
func (s *Store) CountBatches(ctx context.Context, q Querier, channelID string, status common.BatchStatus) (int64, error) {
	row, err := s.queryRow(ctx, q, s.dialect.From(TableOutgoingBatch).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("channel_id").Eq(channelID), goqu.C("status").Eq(string(status))))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count batches: %w", err)
	}
	return n, nil
}
