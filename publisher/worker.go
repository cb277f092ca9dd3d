package publisher

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/courier-cdc/courier/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	DefaultMaxRetries      = 100
)

// WorkerConfig configures one sink worker
type WorkerConfig struct {
	Name            string // sink name, also the cursor name
	Log             *PublishLog
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	TopicPrefix     string
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int // attempts per event before the worker gives up
}

// Worker delivers publish-log events to one sink. Events are published
// before the cursor moves, so delivery is at least once.
type Worker struct {
	config WorkerConfig
	cursor atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWorker validates config and loads the sink's cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("publish log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 1 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.GetCursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	w := &Worker{config: config}
	w.cursor.Store(cursor)
	return w, nil
}

// Start launches the poll loop
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor.Load()).Msg("Starting batch publisher worker")
	go w.loop()
}

// Stop halts the poll loop and waits for it to exit
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running = false
	log.Info().Str("sink", w.config.Name).Msg("Batch publisher worker stopped")
}

// Cursor returns the last delivered sequence
func (w *Worker) Cursor() uint64 {
	return w.cursor.Load()
}

func (w *Worker) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		events, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("sink", w.config.Name).Msg("Failed to read publish log")
			if !w.sleep(w.config.PollInterval) {
				return
			}
			continue
		}
		if len(events) == 0 {
			if !w.sleep(w.config.PollInterval) {
				return
			}
			continue
		}

		for _, ev := range events {
			if err := w.deliver(ev); err != nil {
				log.Error().Err(err).Str("sink", w.config.Name).Uint64("seq", ev.Seq).Msg("Batch publisher worker giving up")
				return
			}
			w.cursor.Store(ev.Seq)
		}
	}
}

func (w *Worker) deliver(ev BatchEvent) error {
	if w.config.Filter.Match(ev.ChannelID, ev.NodeID) {
		data, err := w.config.Transformer.Transform(ev)
		if err != nil {
			return fmt.Errorf("transform batch %d: %w", ev.BatchID, err)
		}
		if err := w.publishWithRetry(w.topic(ev), strconv.FormatInt(ev.BatchID, 10), data); err != nil {
			return err
		}
	}

	if err := w.config.Log.AdvanceCursor(w.config.Name, ev.Seq); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", ev.Seq).Msg("Failed to advance cursor, event may be redelivered")
	}
	return nil
}

// topic is <prefix>.<channel>.<node>
func (w *Worker) topic(ev BatchEvent) string {
	if w.config.TopicPrefix == "" {
		return ev.ChannelID + "." + ev.NodeID
	}
	return w.config.TopicPrefix + "." + ev.ChannelID + "." + ev.NodeID
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	delay := w.config.RetryInitial
	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.PublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.PublishedTotal.With(w.config.Name, "success").Inc()
			return nil
		}
		telemetry.PublishedTotal.With(w.config.Name, "failed").Inc()

		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("publish to %s failed after %d attempts: %w", topic, attempt, err)
		}
		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("topic", topic).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Publish failed, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}
		delay = min(time.Duration(float64(delay)*w.config.RetryMultiplier), w.config.RetryMax)
	}
}

// sleep returns false when the worker was stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
