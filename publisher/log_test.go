package publisher

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvents(n int, channelID string) []BatchEvent {
	events := make([]BatchEvent, n)
	for i := range events {
		events[i] = BatchEvent{
			BatchID:        int64(i + 1),
			ChannelID:      channelID,
			NodeID:         fmt.Sprintf("%03d", i%3+1),
			BatchType:      "I",
			DataEventCount: int64(i + 1),
			LastDataID:     int64(100 + i),
			RoutedAt:       time.Date(2024, 3, 1, 12, 0, i, 0, time.UTC),
		}
	}
	return events
}

func openTestLog(t *testing.T, dir string) *PublishLog {
	t.Helper()
	pl, err := NewPublishLog(dir)
	require.NoError(t, err)
	return pl
}

func TestPublishLog_AppendAndRead(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()

	events := testEvents(3, "sale")
	require.NoError(t, pl.Append(events))
	assert.Equal(t, uint64(1), events[0].Seq, "sequence assigned in place")
	assert.Equal(t, uint64(3), pl.LastSeq())

	got, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events, got)

	got, err = pl.ReadFrom(1, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)

	got, err = pl.ReadFrom(3, 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, pl.Append(nil))
	assert.Equal(t, uint64(3), pl.LastSeq())
}

func TestPublishLog_Reopen(t *testing.T) {
	dir := t.TempDir()
	pl := openTestLog(t, dir)
	require.NoError(t, pl.Append(testEvents(5, "sale")))
	require.NoError(t, pl.AdvanceCursor("kafka", 2))
	require.NoError(t, pl.Close())

	pl = openTestLog(t, dir)
	defer pl.Close()
	assert.Equal(t, uint64(5), pl.LastSeq())

	cursor, err := pl.GetCursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)
	assert.Equal(t, map[string]uint64{"kafka": 2}, pl.Cursors())

	cursor, err = pl.GetCursor("new-sink")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)

	more := testEvents(1, "item")
	require.NoError(t, pl.Append(more))
	assert.Equal(t, uint64(6), more[0].Seq)
}

func TestPublishLog_Cleanup(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()

	require.NoError(t, pl.Append(testEvents(10, "sale")))
	require.NoError(t, pl.AdvanceCursor("a", 7))
	require.NoError(t, pl.AdvanceCursor("b", 4))
	pl.cleanup()

	got, err := pl.ReadFrom(0, 100)
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, uint64(5), got[0].Seq, "events every sink delivered are gone")
}

func TestPublishLog_Closed(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	require.NoError(t, pl.Close())

	assert.ErrorIs(t, pl.Append(testEvents(1, "sale")), ErrLogClosed)
	_, err := pl.ReadFrom(0, 1)
	assert.ErrorIs(t, err, ErrLogClosed)
	assert.ErrorIs(t, pl.AdvanceCursor("a", 1), ErrLogClosed)
	assert.ErrorIs(t, pl.Close(), ErrLogClosed)
}

func TestPublishLog_ConcurrentAppend(t *testing.T) {
	pl := openTestLog(t, t.TempDir())
	defer pl.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if err := pl.Append(testEvents(2, "sale")); err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	got, err := pl.ReadFrom(0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 160)
	for i, ev := range got {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("/batchlog0"), prefixUpperBound([]byte("/batchlog/")))
	assert.Equal(t, []byte{0x02}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
