// Package publisher announces routed batches to external systems. Closed
// batches are appended to a durable Pebble log; one worker per configured
// sink reads the log from its own cursor and delivers each event at least
// once.
//
// Key layout:
//
//	/batchlog/{seq:016x}   -> compressed msgpack(BatchEvent)
//	/batchcursor/{sink}    -> uint64 (last delivered seq)
//	/batchseq              -> uint64 (last assigned seq)
package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/courier-cdc/courier/encoding"
	"github.com/courier-cdc/courier/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

const (
	prefixEvent  = "/batchlog/"
	prefixCursor = "/batchcursor/"
	keySeq       = "/batchseq"
)

const (
	memTableSize                = 64 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20
	maxConcurrentCompactions    = 3
)

const (
	defaultReadLimit = 100
	// cleanup runs whenever a cursor lands on a multiple of 128
	cleanupMask = 0x7F
)

// ErrLogClosed is returned by every operation on a closed log
var ErrLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed append-only log of batch events with
// per-sink cursors
type PublishLog struct {
	db   *pebble.DB
	path string

	appendMu sync.Mutex
	lastSeq  atomic.Uint64
	cursors  *xsync.MapOf[string, uint64]

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup
	closed         atomic.Bool
}

// NewPublishLog opens the log under dataDir/publish_log
func NewPublishLog(dataDir string) (*PublishLog, error) {
	path := filepath.Join(dataDir, "publish_log")
	db, err := pebble.Open(path, &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	})
	if err != nil {
		return nil, fmt.Errorf("open publish log at %s: %w", path, err)
	}

	pl := &PublishLog{db: db, path: path, cursors: xsync.NewMapOf[string, uint64]()}
	if err := pl.load(); err != nil {
		db.Close()
		return nil, err
	}
	return pl, nil
}

func (pl *PublishLog) load() error {
	seq, err := pl.getUint64([]byte(keySeq))
	if err != nil {
		return fmt.Errorf("load sequence: %w", err)
	}
	pl.lastSeq.Store(seq)

	prefix := []byte(prefixCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s", name)
		}
		pl.cursors.Store(name, binary.BigEndian.Uint64(val))
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if n := pl.cursors.Size(); n > 0 {
		log.Info().Int("cursors", n).Uint64("last_seq", seq).Msg("Loaded publish log")
	}
	return nil
}

func (pl *PublishLog) getUint64(key []byte) (uint64, error) {
	val, closer, err := pl.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, fmt.Errorf("invalid value length %d for %s", len(val), key)
	}
	return binary.BigEndian.Uint64(val), nil
}

func uint64Bytes(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

// Append assigns sequence numbers to events and writes them in one
// Pebble batch. The events' Seq fields are set in place.
func (pl *PublishLog) Append(events []BatchEvent) error {
	if len(events) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	batch := pl.db.NewBatch()
	defer batch.Close()

	seq := pl.lastSeq.Load()
	for i := range events {
		seq++
		events[i].Seq = seq
		val, err := encoding.MarshalCompressed(&events[i])
		if err != nil {
			return fmt.Errorf("encode batch event %d: %w", events[i].BatchID, err)
		}
		if err := batch.Set(eventKey(seq), val, nil); err != nil {
			return err
		}
	}
	if err := batch.Set([]byte(keySeq), uint64Bytes(seq), nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit publish log batch: %w", err)
	}

	pl.lastSeq.Store(seq)
	telemetry.PublishLogAppendsTotal.Add(float64(len(events)))
	return nil
}

// ReadFrom returns up to limit events with a sequence above cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]BatchEvent, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := eventKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixEvent)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	events := make([]BatchEvent, 0, limit)
	for iter.First(); iter.Valid() && len(events) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var ev BatchEvent
		if err := encoding.UnmarshalCompressed(val, &ev); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping unreadable batch event")
			continue
		}
		ev.RoutedAt = ev.RoutedAt.UTC()
		events = append(events, ev)
	}
	return events, iter.Error()
}

// LastSeq returns the highest sequence assigned
func (pl *PublishLog) LastSeq() uint64 {
	return pl.lastSeq.Load()
}

// GetCursor returns the last sequence delivered to sinkName; zero for a
// new sink
func (pl *PublishLog) GetCursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}
	if c, ok := pl.cursors.Load(sinkName); ok {
		return c, nil
	}
	c, err := pl.getUint64([]byte(prefixCursor + sinkName))
	if err != nil {
		return 0, err
	}
	c, _ = pl.cursors.LoadOrStore(sinkName, c)
	return c, nil
}

// Cursors returns a copy of every sink cursor
func (pl *PublishLog) Cursors() map[string]uint64 {
	out := make(map[string]uint64)
	pl.cursors.Range(func(name string, c uint64) bool {
		out[name] = c
		return true
	})
	return out
}

// AdvanceCursor persists the cursor of sinkName and occasionally drops
// events every sink has delivered
func (pl *PublishLog) AdvanceCursor(sinkName string, seq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}
	pl.cursors.Store(sinkName, seq)
	if err := pl.db.Set([]byte(prefixCursor+sinkName), uint64Bytes(seq), pebble.Sync); err != nil {
		return fmt.Errorf("persist cursor for %s: %w", sinkName, err)
	}

	if seq&cleanupMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}
	return nil
}

// cleanup deletes events at or below the lowest sink cursor
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()
	if pl.closed.Load() {
		return
	}

	var low uint64
	first := true
	pl.cursors.Range(func(_ string, c uint64) bool {
		if first || c < low {
			low, first = c, false
		}
		return true
	})
	if first || low == 0 {
		return
	}

	if err := pl.db.DeleteRange([]byte(prefixEvent), eventKey(low+1), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", low).Msg("Failed to clean up publish log")
		return
	}
	log.Debug().Uint64("min_cursor", low).Msg("Cleaned up publish log")
}

// Close waits for cleanup and closes Pebble
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	pl.cleanupWg.Wait()
	return pl.db.Close()
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEvent, seq))
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
