package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ChannelBacklog is a point-in-time view of one channel's routing state
type ChannelBacklog struct {
	ChannelID     string `json:"channel_id"`
	OpenGaps      int    `json:"open_gaps"`
	OpenBatches   int    `json:"open_batches"`
	RoutedBatches int    `json:"routed_batches"`
}

// BacklogProvider reports per-channel backlog
type BacklogProvider interface {
	Backlog(ctx context.Context) ([]ChannelBacklog, error)
}

// MetricsCollector periodically collects backlog and updates telemetry gauges
type MetricsCollector struct {
	provider BacklogProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(provider BacklogProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.interval)
	defer cancel()

	backlog, err := mc.provider.Backlog(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("Backlog collection failed")
		return
	}

	for _, b := range backlog {
		OpenGaps.With(b.ChannelID).Set(float64(b.OpenGaps))
		OpenBatches.With(b.ChannelID).Set(float64(b.OpenBatches))
		RoutedBatches.With(b.ChannelID).Set(float64(b.RoutedBatches))
	}
}
