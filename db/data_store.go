package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/doug-martin/goqu/v9"
)

// DataColumns selects which row images a cursor reads. Unselected images
// are read as NULL.
type DataColumns struct {
	Row bool
	Old bool
	PK  bool
}

// AllDataColumns reads every row image
var AllDataColumns = DataColumns{Row: true, Old: true, PK: true}

// DataCursor streams sym_data rows for one channel in data_id order
type DataCursor struct {
	rows   *sql.Rows
	readTx *sql.Tx
}

func imageColumn(name string, selected bool) interface{} {
	if selected {
		return name
	}
	return goqu.L("NULL").As(name)
}

// OpenDataCursor streams rows of channelID with data_id > after. When the
// dialect allows it the cursor runs on tx; otherwise it opens a read-only
// transaction of its own which Close ends.
func (s *Store) OpenDataCursor(ctx context.Context, tx *sql.Tx, channelID string, after int64, cols DataColumns) (*DataCursor, error) {
	ds := s.dialect.From(TableData).
		Select(
			"data_id", "table_name", "event_type",
			imageColumn("row_data", cols.Row),
			imageColumn("pk_data", cols.PK),
			imageColumn("old_data", cols.Old),
			"trigger_hist_id", "channel_id", "transaction_id",
			"source_node_id", "external_data", "create_time",
		).
		Where(goqu.C("channel_id").Eq(channelID), goqu.C("data_id").Gt(after)).
		Order(goqu.C("data_id").Asc())

	var q Querier = tx
	var readTx *sql.Tx
	if !s.dialect.CursorOnPassTx || tx == nil {
		var err error
		readTx, err = s.readDB.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, fmt.Errorf("begin cursor transaction: %w", err)
		}
		q = readTx
	}

	rows, err := s.query(ctx, q, ds)
	if err != nil {
		if readTx != nil {
			readTx.Rollback()
		}
		return nil, fmt.Errorf("open data cursor: %w", err)
	}
	return &DataCursor{rows: rows, readTx: readTx}, nil
}

// Next advances the cursor
func (c *DataCursor) Next() bool {
	return c.rows.Next()
}

// Data scans the current row
func (c *DataCursor) Data() (*common.Data, error) {
	var (
		d                                  common.Data
		eventType                          string
		rowData, pkData, oldData           sql.NullString
		channelID, txnID, source, external sql.NullString
		createTime                         sql.NullTime
	)
	err := c.rows.Scan(&d.DataID, &d.TableName, &eventType, &rowData, &pkData, &oldData,
		&d.TriggerHistID, &channelID, &txnID, &source, &external, &createTime)
	if err != nil {
		return nil, fmt.Errorf("scan data: %w", err)
	}

	d.EventType, err = common.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("data %d: %w", d.DataID, err)
	}
	d.RowData = rowData.String
	d.PKData = pkData.String
	d.OldData = oldData.String
	d.ChannelID = channelID.String
	d.TransactionID = txnID.String
	d.SourceNodeID = source.String
	d.ExternalData = external.String
	d.CreateTime = createTime.Time
	return &d, nil
}

// Err returns the error that ended iteration, if any
func (c *DataCursor) Err() error {
	return c.rows.Err()
}

// Close releases the cursor and its read transaction
func (c *DataCursor) Close() error {
	err := c.rows.Close()
	if c.readTx != nil {
		if cerr := c.readTx.Commit(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// InsertData appends a captured change to sym_data and returns its id.
// Capture triggers normally write this table directly; this is the path
// for tooling and tests.
func (s *Store) InsertData(ctx context.Context, q Querier, d *common.Data) (int64, error) {
	createTime := d.CreateTime
	if createTime.IsZero() {
		createTime = time.Now().UTC()
	}
	rec := goqu.Record{
		"table_name":      d.TableName,
		"event_type":      d.EventType.Code(),
		"row_data":        nullable(d.RowData),
		"pk_data":         nullable(d.PKData),
		"old_data":        nullable(d.OldData),
		"trigger_hist_id": d.TriggerHistID,
		"channel_id":      d.ChannelID,
		"transaction_id":  nullable(d.TransactionID),
		"source_node_id":  nullable(d.SourceNodeID),
		"external_data":   nullable(d.ExternalData),
		"create_time":     createTime,
	}
	if d.DataID > 0 {
		rec["data_id"] = d.DataID
	}

	res, err := s.exec(ctx, q, s.dialect.Insert(TableData).Rows(rec))
	if err != nil {
		return 0, fmt.Errorf("insert data: %w", err)
	}
	return res.LastInsertId()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CountData counts channel rows with ids in [start, end]
func (s *Store) CountData(ctx context.Context, q Querier, channelID string, start, end int64) (int64, error) {
	row, err := s.queryRow(ctx, q, s.dialect.From(TableData).
		Select(goqu.COUNT(goqu.Star())).
		Where(goqu.C("channel_id").Eq(channelID), goqu.C("data_id").Between(goqu.Range(start, end))))
	if err != nil {
		return 0, err
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count data: %w", err)
	}
	return n, nil
}

// IDRange is an inclusive range of data ids
type IDRange struct {
	Start int64
	End   int64
}

// UnclaimedRanges returns the sub-ranges of [start, end] holding no row of
// another channel, in ascending order. Ids used by other channels are
// never gaps for channelID.
func (s *Store) UnclaimedRanges(ctx context.Context, q Querier, channelID string, start, end int64) ([]IDRange, error) {
	rows, err := s.query(ctx, q, s.dialect.From(TableData).
		Select("data_id").
		Where(goqu.C("channel_id").Neq(channelID), goqu.C("data_id").Between(goqu.Range(start, end))).
		Order(goqu.C("data_id").Asc()))
	if err != nil {
		return nil, fmt.Errorf("scan claimed ids: %w", err)
	}
	defer rows.Close()

	var out []IDRange
	next := start
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		if id > next {
			out = append(out, IDRange{Start: next, End: id - 1})
		}
		next = id + 1
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if next <= end {
		out = append(out, IDRange{Start: next, End: end})
	}
	return out, nil
}
