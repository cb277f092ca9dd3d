package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/courier-cdc/courier/cfg"
	"github.com/courier-cdc/courier/common"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the publisher registry
type RegistryConfig struct {
	DataDir     string
	SinkConfigs []cfg.SinkConfiguration
}

// SinkStatus reports a sink's delivery position
type SinkStatus struct {
	Name   string `json:"name"`
	Cursor uint64 `json:"cursor"`
}

// Registry owns the publish log and one worker per sink
type Registry struct {
	log     *PublishLog
	workers []*Worker
	running bool
	mu      sync.Mutex
}

// NewRegistry opens the publish log and builds a worker per sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	pl, err := NewPublishLog(config.DataDir)
	if err != nil {
		return nil, err
	}

	r := &Registry{log: pl}
	for _, sc := range config.SinkConfigs {
		if err := r.AddSink(sc); err != nil {
			for _, w := range r.workers {
				w.config.Sink.Close()
			}
			pl.Close()
			return nil, fmt.Errorf("add sink %q: %w", sc.Name, err)
		}
	}

	log.Info().Int("sinks", len(r.workers)).Msg("Batch publisher initialized")
	return r, nil
}

// AddSink builds the sink, transformer and filter for config and adds a
// worker. The worker starts with the registry or immediately when the
// registry is running.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	format := config.Format
	if format == "" {
		format = "json"
	}
	trans, err := createTransformer(format)
	if err != nil {
		snk.Close()
		return err
	}
	filter, err := NewGlobFilter(config.FilterChannels, config.FilterNodes)
	if err != nil {
		snk.Close()
		return err
	}

	w, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return err
	}
	r.workers = append(r.workers, w)
	if r.running {
		w.Start()
	}

	log.Info().Str("sink", config.Name).Str("type", config.Type).Str("format", format).Msg("Added batch sink")
	return nil
}

// Start starts every worker
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("registry already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running = true
	return nil
}

// Stop stops the workers, closes their sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log == nil {
		return
	}
	for _, w := range r.workers {
		w.Stop()
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
	r.log = nil
	r.running = false
}

// AppendBatches appends events for routed batches to the publish log
func (r *Registry) AppendBatches(batches []*common.Batch) error {
	r.mu.Lock()
	pl := r.log
	r.mu.Unlock()
	if pl == nil {
		return ErrLogClosed
	}
	return pl.Append(EventsFromBatches(batches))
}

// Sinks reports every sink's cursor
func (r *Registry) Sinks() []SinkStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SinkStatus, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, SinkStatus{Name: w.config.Name, Cursor: w.Cursor()})
	}
	return out
}

// LastSeq returns the highest sequence appended, zero once stopped
func (r *Registry) LastSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log == nil {
		return 0
	}
	return r.log.LastSeq()
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a sink type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
