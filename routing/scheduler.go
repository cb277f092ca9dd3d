package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/courier-cdc/courier/notify"
	"github.com/jizhuozhi/go-future"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// PassRunner runs one routing pass for a channel
type PassRunner interface {
	RunPass(ctx context.Context, channelID string) (Stats, error)
}

type channelWorker struct {
	channelID string
	requests  chan *future.Promise[Stats]
	wake      chan struct{}
}

// Scheduler runs one worker goroutine per channel. Each worker runs a pass
// every interval, on request, or when the hub signals new data; passes of
// one channel never overlap and failures back off exponentially.
type Scheduler struct {
	runner     PassRunner
	hub        *notify.Hub
	interval   time.Duration
	maxBackoff time.Duration

	workers *xsync.MapOf[string, *channelWorker]
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool

	// triggers counts Trigger calls between the liveness check and the
	// enqueue, so Stop can drain only after every send has settled.
	triggers sync.WaitGroup
}

// NewScheduler creates a scheduler. hub may be nil.
func NewScheduler(runner PassRunner, hub *notify.Hub, interval, maxBackoff time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	if maxBackoff < interval {
		maxBackoff = interval
	}
	return &Scheduler{
		runner:     runner,
		hub:        hub,
		interval:   interval,
		maxBackoff: maxBackoff,
		workers:    xsync.NewMapOf[string, *channelWorker](),
	}
}

// Start launches a worker per channel
func (s *Scheduler) Start(ctx context.Context, channelIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, id := range channelIDs {
		s.addLocked(id)
	}

	if s.hub != nil {
		signals, unsubscribe := s.hub.Subscribe(notify.Filter{Kinds: []notify.Kind{notify.KindData}})
		s.wg.Add(1)
		go s.forwardSignals(signals, unsubscribe)
	}
}

// AddChannel starts a worker for a channel added after Start
func (s *Scheduler) AddChannel(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		s.addLocked(channelID)
	}
}

func (s *Scheduler) addLocked(channelID string) {
	w, loaded := s.workers.LoadOrStore(channelID, &channelWorker{
		channelID: channelID,
		requests:  make(chan *future.Promise[Stats], 16),
		wake:      make(chan struct{}, 1),
	})
	if loaded {
		return
	}
	s.wg.Add(1)
	go s.runWorker(w)
}

func (s *Scheduler) forwardSignals(signals <-chan notify.Signal, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return
			}
			if w, ok := s.workers.Load(sig.ChannelID); ok {
				select {
				case w.wake <- struct{}{}:
				default:
				}
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// Trigger requests an immediate pass. The future resolves with the stats
// of the pass that served the request.
func (s *Scheduler) Trigger(channelID string) *future.Future[Stats] {
	p := future.NewPromise[Stats]()
	w, ok := s.workers.Load(channelID)
	if !ok {
		p.Set(Stats{ChannelID: channelID}, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID))
		return p.Future()
	}

	s.mu.Lock()
	if err := s.ctx.Err(); err != nil {
		s.mu.Unlock()
		p.Set(Stats{ChannelID: channelID}, err)
		return p.Future()
	}
	s.triggers.Add(1)
	s.mu.Unlock()
	defer s.triggers.Done()

	select {
	case w.requests <- p:
	case <-s.ctx.Done():
		p.Set(Stats{ChannelID: channelID}, s.ctx.Err())
	}
	return p.Future()
}

// Stop cancels all workers and waits for running passes to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
	s.triggers.Wait()

	// A request may land after its worker already drained and exited.
	s.workers.Range(func(_ string, w *channelWorker) bool {
		s.failPending(w)
		return true
	})
}

func (s *Scheduler) runWorker(w *channelWorker) {
	defer s.wg.Done()

	delay := s.interval
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		var waiters []*future.Promise[Stats]
		select {
		case <-s.ctx.Done():
			s.failPending(w)
			return
		case <-timer.C:
		case <-w.wake:
		case p := <-w.requests:
			waiters = append(waiters, p)
		}

		// requests queued meanwhile are served by this pass too
	drain:
		for {
			select {
			case p := <-w.requests:
				waiters = append(waiters, p)
			default:
				break drain
			}
		}

		stats, err := s.runner.RunPass(s.ctx, w.channelID)
		for _, p := range waiters {
			p.Set(stats, err)
		}

		switch {
		case err == nil:
			delay = s.interval
		case s.ctx.Err() != nil:
			s.failPending(w)
			return
		case errors.Is(err, ErrChannelDisabled), errors.Is(err, ErrUnknownChannel):
			delay = s.maxBackoff
			log.Debug().Err(err).Str("channel_id", w.channelID).Msg("Channel not routable")
		default:
			delay = min(delay*2, s.maxBackoff)
			log.Warn().Err(err).Str("channel_id", w.channelID).Dur("retry_in", delay).Msg("Routing pass failed, backing off")
		}
		timer.Reset(delay)
	}
}

func (s *Scheduler) failPending(w *channelWorker) {
	for {
		select {
		case p := <-w.requests:
			p.Set(Stats{ChannelID: w.channelID}, s.ctx.Err())
		default:
			return
		}
	}
}
