package routing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/rs/zerolog/log"
)

// GapOptions bounds gap tracking for a channel
type GapOptions struct {
	// Grace is how long a gap may stay empty before it is verified and retired
	Grace time.Duration
	// Retention is how long retired gaps are kept before purge
	Retention time.Duration
	// MaxGaps caps live gaps; the oldest beyond it are skipped
	MaxGaps int
}

// gapSnapshot is the immutable view of live gaps the reader filters with
type gapSnapshot []common.Gap

// wanted reports whether id lies in a live gap and so is still unprocessed
func (s gapSnapshot) wanted(id int64) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i].EndID >= id })
	return i < len(s) && s[i].StartID <= id
}

// GapTracker owns the data-id gaps of one channel for one pass.
//
// Live gaps are ranges that may still receive data. The last live gap is
// always the open-ended tail [highWater+1, MaxDataID]; everything below the
// tail that is not inside a live gap has been routed.
type GapTracker struct {
	channelID string
	opts      GapOptions
	now       func() time.Time

	gaps       []common.Gap
	candidates []common.Gap
	resolved   []common.Gap

	fills   int64
	created int64
	expired int64
	skipped int64
	checks  int64
}

// LoadGapTracker reads the live gaps of a channel. A channel with none
// starts with the tail gap covering every id.
func LoadGapTracker(ctx context.Context, store *db.Store, q db.Querier, channelID string, opts GapOptions, now func() time.Time) (*GapTracker, error) {
	gaps, err := store.LoadGaps(ctx, q, channelID)
	if err != nil {
		return nil, err
	}

	t := &GapTracker{channelID: channelID, opts: opts, now: now, gaps: gaps}
	if len(gaps) == 0 || !gaps[len(gaps)-1].IsTail() {
		start := int64(1)
		if len(gaps) > 0 {
			start = gaps[len(gaps)-1].EndID + 1
		}
		at := now()
		t.gaps = append(t.gaps, common.Gap{
			ChannelID:      channelID,
			StartID:        start,
			EndID:          common.MaxDataID,
			Status:         common.GapStatusGap,
			CreateTime:     at,
			LastUpdateTime: at,
		})
	}
	return t, nil
}

// Gaps returns the live gaps ordered by start id, tail last
func (t *GapTracker) Gaps() []common.Gap {
	out := make([]common.Gap, len(t.gaps))
	copy(out, t.gaps)
	return out
}

// NextResumePosition is the data id the reader resumes after: one below
// the lowest live gap
func (t *GapTracker) NextResumePosition() int64 {
	return t.gaps[0].StartID - 1
}

// HighWater is the highest data id ever observed for the channel
func (t *GapTracker) HighWater() int64 {
	return t.tail().StartID - 1
}

// Snapshot returns a copy of the live gaps for the reader
func (t *GapTracker) Snapshot() gapSnapshot {
	return gapSnapshot(t.Gaps())
}

func (t *GapTracker) tail() *common.Gap {
	return &t.gaps[len(t.gaps)-1]
}

// Observe records that id was read. Ids must be observed in ascending
// order and must lie in a live gap. An id inside a gap fills it; an id
// past the tail start advances the high-water mark and records the jump
// as a candidate gap.
func (t *GapTracker) Observe(id int64) {
	i := sort.Search(len(t.gaps), func(i int) bool { return t.gaps[i].EndID >= id })
	if i == len(t.gaps) || t.gaps[i].StartID > id {
		return
	}

	g := t.gaps[i]
	if g.IsTail() {
		if id > g.StartID {
			t.RecordGap(g.StartID, id-1)
		}
		t.tail().StartID = id + 1
		return
	}

	t.fills++
	var parts []common.Gap
	if id > g.StartID {
		left := g
		left.EndID = id - 1
		parts = append(parts, left)
	}
	if id < g.EndID {
		right := g
		right.StartID = id + 1
		parts = append(parts, right)
	}
	t.gaps = append(t.gaps[:i], append(parts, t.gaps[i+1:]...)...)
}

// RecordGap adds [start, end] as a candidate gap below the tail. Candidate
// gaps are trimmed of ids claimed by other channels at reconciliation.
func (t *GapTracker) RecordGap(start, end int64) {
	at := t.now()
	g := common.Gap{
		ChannelID:      t.channelID,
		StartID:        start,
		EndID:          end,
		Status:         common.GapStatusGap,
		CreateTime:     at,
		LastUpdateTime: at,
	}
	t.candidates = append(t.candidates, g)

	i := sort.Search(len(t.gaps), func(i int) bool { return t.gaps[i].StartID >= start })
	t.gaps = append(t.gaps[:i], append([]common.Gap{g}, t.gaps[i:]...)...)
}

// ResolveGap retires a live gap with the given terminal status
func (t *GapTracker) ResolveGap(gap common.Gap, status common.GapStatus) bool {
	for i, g := range t.gaps {
		if g.StartID == gap.StartID && g.EndID == gap.EndID && !g.IsTail() {
			g.Status = status
			g.LastUpdateTime = t.now()
			t.resolved = append(t.resolved, g)
			t.gaps = append(t.gaps[:i], t.gaps[i+1:]...)
			return true
		}
	}
	return false
}

// Reconcile trims candidate gaps, verifies and retires gaps older than the
// grace period, and skips the oldest gaps beyond the live limit
func (t *GapTracker) Reconcile(ctx context.Context, store *db.Store, q db.Querier) error {
	if err := t.trimCandidates(ctx, store, q); err != nil {
		return err
	}

	now := t.now()
	for _, g := range t.Gaps() {
		if g.IsTail() || now.Sub(g.CreateTime) <= t.opts.Grace {
			continue
		}
		t.checks++
		n, err := store.CountData(ctx, q, t.channelID, g.StartID, g.EndID)
		if err != nil {
			return fmt.Errorf("verify gap [%d,%d]: %w", g.StartID, g.EndID, err)
		}
		if n == 0 {
			t.ResolveGap(g, common.GapStatusOK)
			t.expired++
		}
	}

	if t.opts.MaxGaps > 0 {
		excess := len(t.gaps) - 1 - t.opts.MaxGaps
		for ; excess > 0; excess-- {
			g := t.gaps[0]
			log.Warn().
				Str("channel_id", t.channelID).
				Int64("start_id", g.StartID).
				Int64("end_id", g.EndID).
				Int("max_gaps", t.opts.MaxGaps).
				Msg("Too many open gaps, skipping oldest")
			t.ResolveGap(g, common.GapStatusSkip)
			t.skipped++
		}
	}
	return nil
}

// trimCandidates drops the ids other channels own from the gaps recorded
// this pass, using one range query over all of them
func (t *GapTracker) trimCandidates(ctx context.Context, store *db.Store, q db.Querier) error {
	if len(t.candidates) == 0 {
		return nil
	}
	first, last := t.candidates[0].StartID, t.candidates[len(t.candidates)-1].EndID
	free, err := store.UnclaimedRanges(ctx, q, t.channelID, first, last)
	if err != nil {
		return err
	}

	for _, c := range t.candidates {
		idx := -1
		for i, g := range t.gaps {
			if g.StartID == c.StartID && g.EndID == c.EndID {
				idx = i
				break
			}
		}
		if idx < 0 {
			continue
		}

		var parts []common.Gap
		for _, r := range free {
			start, end := max(r.Start, c.StartID), min(r.End, c.EndID)
			if start > end {
				continue
			}
			g := c
			g.StartID, g.EndID = start, end
			parts = append(parts, g)
		}
		t.created += int64(len(parts))
		t.gaps = append(t.gaps[:idx], append(parts, t.gaps[idx+1:]...)...)
	}
	t.candidates = nil
	return nil
}

// Save rewrites the channel's gap rows and purges expired retired gaps
func (t *GapTracker) Save(ctx context.Context, store *db.Store, q db.Querier) error {
	now := t.now()
	for i := range t.gaps {
		t.gaps[i].LastUpdateTime = now
	}
	if err := store.SaveGaps(ctx, q, t.channelID, t.gaps, t.resolved); err != nil {
		return err
	}

	if t.opts.Retention > 0 {
		purged, err := store.PurgeResolvedGaps(ctx, q, t.channelID, now.Add(-t.opts.Retention))
		if err != nil {
			return err
		}
		if purged > 0 {
			log.Debug().Str("channel_id", t.channelID).Int64("purged", purged).Msg("Purged retired gaps")
		}
	}
	return nil
}

// Resolved returns the gaps retired during this pass
func (t *GapTracker) Resolved() []common.Gap {
	return t.resolved
}

func (t *GapTracker) fillStats(s *Stats) {
	s.GapFills = t.fills
	s.GapsCreated = t.created
	s.GapsExpired = t.expired
	s.GapsSkipped = t.skipped
	s.GapChecks = t.checks
	s.OpenGaps = len(t.gaps) - 1
}
