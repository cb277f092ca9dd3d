package routing

import (
	"context"
	"database/sql"
	"sync"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
)

// record is one element of the read-ahead queue. The final element has
// eof set and carries the error that ended the cursor, if any.
type record struct {
	data *common.Data
	eof  bool
	err  error
}

// ChangeLogReader streams a channel's change rows in data id order. A
// producer goroutine runs the cursor and fills a bounded queue; Next
// consumes it with one record of lookahead to mark transaction boundaries.
type ChangeLogReader struct {
	records chan record
	cancel  context.CancelFunc
	done    chan struct{}

	next      *common.Data
	started   bool
	finished  bool
	err       error
	read      int64
	closeOnce sync.Once
}

// OpenReader opens a cursor over channel rows after the resume position.
// Rows outside the snapshot's live gaps were already routed and are
// skipped. window bounds the number of rows buffered ahead of the consumer.
func OpenReader(ctx context.Context, store *db.Store, tx *sql.Tx, channel common.Channel, after int64, snapshot gapSnapshot, window int) (*ChangeLogReader, error) {
	if window < 1 {
		window = 1
	}
	cols := db.DataColumns{
		Row: channel.UseRowDataToRoute,
		Old: channel.UseOldDataToRoute,
		PK:  channel.UsePKDataToRoute,
	}

	pctx, cancel := context.WithCancel(ctx)
	cursor, err := store.OpenDataCursor(pctx, tx, channel.ChannelID, after, cols)
	if err != nil {
		cancel()
		return nil, err
	}

	r := &ChangeLogReader{
		records: make(chan record, window),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go r.produce(pctx, cursor, snapshot)
	return r, nil
}

func (r *ChangeLogReader) produce(ctx context.Context, cursor *db.DataCursor, snapshot gapSnapshot) {
	defer close(r.done)

	var err error
	for cursor.Next() {
		var d *common.Data
		d, err = cursor.Data()
		if err != nil {
			break
		}
		if !snapshot.wanted(d.DataID) {
			continue
		}
		select {
		case r.records <- record{data: d}:
		case <-ctx.Done():
			cursor.Close()
			return
		}
	}
	if err == nil {
		err = cursor.Err()
	}
	if cerr := cursor.Close(); err == nil {
		err = cerr
	}

	select {
	case r.records <- record{eof: true, err: err}:
	case <-ctx.Done():
	}
}

func (r *ChangeLogReader) take(ctx context.Context) (*common.Data, error) {
	if r.finished {
		return nil, r.err
	}
	select {
	case rec := <-r.records:
		if rec.eof {
			r.finished = true
			r.err = rec.err
			return nil, rec.err
		}
		return rec.data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Next returns the next change and whether it ends a source transaction.
// A change ends a transaction when the following change carries another
// transaction id, when it has no transaction id, or when it is the last
// change of the stream. Next returns nil at the end of the stream.
func (r *ChangeLogReader) Next(ctx context.Context) (*common.Data, bool, error) {
	if !r.started {
		r.started = true
		d, err := r.take(ctx)
		if err != nil {
			return nil, false, err
		}
		r.next = d
	}

	d := r.next
	if d == nil {
		return nil, false, r.err
	}

	following, err := r.take(ctx)
	if err != nil {
		return nil, false, err
	}
	r.next = following
	r.read++

	boundary := !d.HasTransactionID() || following == nil || following.TransactionID != d.TransactionID
	return d, boundary, nil
}

// Read returns the number of changes returned by Next
func (r *ChangeLogReader) Read() int64 {
	return r.read
}

// Close stops the producer and waits for it to release the cursor. It is
// safe to call more than once.
func (r *ChangeLogReader) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		for {
			select {
			case <-r.records:
			case <-r.done:
				return
			}
		}
	})
}
