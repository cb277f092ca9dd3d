// Package routing runs routing passes: it reads a channel's captured
// changes in data id order, routes each to its target nodes and groups
// them into per-node batches, committing everything a pass writes in one
// transaction.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/courier-cdc/courier/cfg"
	"github.com/courier-cdc/courier/common"
	"github.com/courier-cdc/courier/db"
	"github.com/courier-cdc/courier/notify"
	"github.com/courier-cdc/courier/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Options tunes routing passes
type Options struct {
	PrefetchWindow  int
	GapGrace        time.Duration
	GapRetention    time.Duration
	MaxGaps         int
	ScriptCacheSize int
}

// OptionsFromConfig reads pass options from the routing configuration
func OptionsFromConfig(c *cfg.Configuration) Options {
	r := c.Routing
	return Options{
		PrefetchWindow:  r.PrefetchWindow,
		GapGrace:        time.Duration(r.GapGraceSeconds) * time.Second,
		GapRetention:    time.Duration(r.GapRetentionHours) * time.Hour,
		MaxGaps:         r.MaxGaps,
		ScriptCacheSize: r.ScriptCacheSize,
	}
}

// BatchPublisher receives batches once the pass that closed them committed
type BatchPublisher interface {
	AppendBatches(batches []*common.Batch) error
}

// Service runs routing passes against the change-log store
type Service struct {
	store     *db.Store
	opts      Options
	hub       *notify.Hub
	publisher BatchPublisher
	lastStats *xsync.MapOf[string, Stats]
	now       func() time.Time
}

// NewService creates a routing service. hub and publisher may be nil.
func NewService(store *db.Store, opts Options, hub *notify.Hub, publisher BatchPublisher) *Service {
	if opts.PrefetchWindow < 1 {
		opts.PrefetchWindow = 1000
	}
	if opts.ScriptCacheSize < 1 {
		opts.ScriptCacheSize = 128
	}
	return &Service{
		store:     store,
		opts:      opts,
		hub:       hub,
		publisher: publisher,
		lastStats: xsync.NewMapOf[string, Stats](),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// RunPass routes everything captured for channelID since the last
// committed pass. Either everything the pass wrote commits or nothing
// does; a failed pass leaves the resume position where it was.
func (s *Service) RunPass(ctx context.Context, channelID string) (Stats, error) {
	start := s.now()

	channel, ok, err := s.store.GetChannel(ctx, s.store.Reader(), channelID)
	if err != nil {
		return Stats{ChannelID: channelID}, err
	}
	if !ok {
		return Stats{ChannelID: channelID}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}
	if !channel.Enabled {
		return Stats{ChannelID: channelID}, fmt.Errorf("%w: %s", ErrChannelDisabled, channelID)
	}

	stats, closed, err := s.runPass(ctx, channel)
	stats.Duration = s.now().Sub(start)
	stats.FinishedAt = s.now()
	telemetry.RoutingPassSeconds.With(channelID).Observe(stats.Duration.Seconds())

	if err != nil {
		stats.Error = err.Error()
		s.lastStats.Store(channelID, stats)
		telemetry.RoutingPassesTotal.With(channelID, "failed").Inc()
		log.Error().
			Err(err).
			Str("channel_id", channelID).
			Int64("resume_data_id", stats.ResumeDataID).
			Msg("Routing pass failed, rolled back")
		return stats, err
	}

	s.lastStats.Store(channelID, stats)
	s.record(stats)
	s.announce(channelID, closed, stats.LastDataID)

	log.Debug().
		Str("channel_id", channelID).
		Int64("data_read", stats.DataRead).
		Int64("data_routed", stats.DataRouted).
		Int64("data_unrouted", stats.DataUnrouted).
		Int64("batches_closed", stats.BatchesClosed).
		Int64("gap_fills", stats.GapFills).
		Int("open_gaps", stats.OpenGaps).
		Dur("duration", stats.Duration).
		Msg("Routing pass complete")
	return stats, nil
}

func (s *Service) runPass(ctx context.Context, channel common.Channel) (Stats, []*common.Batch, error) {
	tx, err := s.store.BeginPass(ctx)
	if err != nil {
		return Stats{ChannelID: channel.ChannelID}, nil, fmt.Errorf("begin pass: %w", err)
	}

	rc, err := newRoutingContext(ctx, s.store, tx, channel, s.opts, s.now)
	if err != nil {
		tx.Rollback()
		return Stats{ChannelID: channel.ChannelID}, nil, err
	}

	if err := rc.run(ctx); err != nil {
		tx.Rollback()
		return rc.stats, nil, err
	}
	if err := tx.Commit(); err != nil {
		return rc.stats, nil, fmt.Errorf("commit pass: %w", err)
	}
	return rc.stats, rc.assembler.Closed(), nil
}

func (s *Service) record(stats Stats) {
	ch := stats.ChannelID
	telemetry.RoutingPassesTotal.With(ch, "success").Inc()
	telemetry.DataReadTotal.With(ch).Add(float64(stats.DataRead))
	telemetry.DataRoutedTotal.With(ch).Add(float64(stats.DataRouted))
	telemetry.DataUnroutedTotal.With(ch).Add(float64(stats.DataUnrouted))
	telemetry.GapFillsTotal.With(ch).Add(float64(stats.GapFills))
	telemetry.GapsCreatedTotal.With(ch).Add(float64(stats.GapsCreated))
	telemetry.GapsResolvedTotal.With(ch, string(common.GapStatusOK)).Add(float64(stats.GapsExpired))
	telemetry.GapsResolvedTotal.With(ch, string(common.GapStatusSkip)).Add(float64(stats.GapsSkipped))
	telemetry.OpenGaps.With(ch).Set(float64(stats.OpenGaps))
	telemetry.BatchesClosedTotal.With(ch).Add(float64(stats.BatchesClosed))
	telemetry.OpenBatches.With(ch).Set(float64(stats.BatchesOpen))
}

// announce hands committed batches to the publisher and signals them.
// A failed append is repaired by AnnounceRouted on the next start.
func (s *Service) announce(channelID string, closed []*common.Batch, lastDataID int64) {
	if len(closed) == 0 {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.AppendBatches(closed); err != nil {
			log.Error().Err(err).Str("channel_id", channelID).Int("batches", len(closed)).Msg("Failed to publish routed batches")
		}
	}
	if s.hub != nil {
		s.hub.BatchesRouted(channelID, len(closed), lastDataID)
	}
}

// AnnounceRouted re-publishes every routed batch not yet extracted. Run at
// startup it makes batch notifications at-least-once across crashes.
func (s *Service) AnnounceRouted(ctx context.Context) (int, error) {
	batches, err := s.store.ListBatches(ctx, s.store.Reader(), "", common.BatchStatusRouted)
	if err != nil {
		return 0, err
	}

	byChannel := make(map[string][]*common.Batch)
	var order []string
	for _, b := range batches {
		if _, ok := byChannel[b.ChannelID]; !ok {
			order = append(order, b.ChannelID)
		}
		byChannel[b.ChannelID] = append(byChannel[b.ChannelID], b)
	}
	for _, ch := range order {
		bs := byChannel[ch]
		s.announce(ch, bs, bs[len(bs)-1].LastDataID)
	}
	return len(batches), nil
}

// LastStats returns the stats of the most recent pass over channelID
func (s *Service) LastStats(channelID string) (Stats, bool) {
	return s.lastStats.Load(channelID)
}

// Channels returns the configured channels
func (s *Service) Channels(ctx context.Context) ([]common.Channel, error) {
	return s.store.ListChannels(ctx, s.store.Reader())
}

// Backlog reports live gaps and undelivered batches per channel
func (s *Service) Backlog(ctx context.Context) ([]telemetry.ChannelBacklog, error) {
	channels, err := s.Channels(ctx)
	if err != nil {
		return nil, err
	}

	q := s.store.Reader()
	out := make([]telemetry.ChannelBacklog, 0, len(channels))
	for _, ch := range channels {
		gaps, err := s.store.LoadGaps(ctx, q, ch.ChannelID)
		if err != nil {
			return nil, err
		}
		openGaps := 0
		for _, g := range gaps {
			if !g.IsTail() {
				openGaps++
			}
		}
		open, err := s.store.CountBatches(ctx, q, ch.ChannelID, common.BatchStatusNew)
		if err != nil {
			return nil, err
		}
		routed, err := s.store.CountBatches(ctx, q, ch.ChannelID, common.BatchStatusRouted)
		if err != nil {
			return nil, err
		}
		out = append(out, telemetry.ChannelBacklog{
			ChannelID:     ch.ChannelID,
			OpenGaps:      openGaps,
			OpenBatches:   int(open),
			RoutedBatches: int(routed),
		})
	}
	return out, nil
}
