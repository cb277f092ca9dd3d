package routing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/courier-cdc/courier/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
	block chan struct{}
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: make(map[string]int), fail: make(map[string]error)}
}

func (r *fakeRunner) RunPass(ctx context.Context, channelID string) (Stats, error) {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return Stats{ChannelID: channelID}, ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[channelID]++
	return Stats{ChannelID: channelID, DataRead: int64(r.calls[channelID])}, r.fail[channelID]
}

func (r *fakeRunner) count(channelID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[channelID]
}

func (r *fakeRunner) setFail(channelID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[channelID] = err
}

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, 20*time.Millisecond, time.Second)
	s.Start(context.Background(), []string{"item", "sale"})
	defer s.Stop()

	require.Eventually(t, func() bool {
		return runner.count("item") >= 3 && runner.count("sale") >= 3
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_Trigger(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, time.Hour, time.Hour)
	s.Start(context.Background(), []string{"item"})
	defer s.Stop()

	stats, err := s.Trigger("item").Get()
	require.NoError(t, err)
	assert.Equal(t, "item", stats.ChannelID)
	assert.GreaterOrEqual(t, stats.DataRead, int64(1))

	_, err = s.Trigger("nope").Get()
	assert.True(t, errors.Is(err, ErrUnknownChannel))
}

func TestScheduler_FailureReachesCallerAndBacksOff(t *testing.T) {
	runner := newFakeRunner()
	boom := errors.New("boom")
	runner.setFail("item", boom)

	s := NewScheduler(runner, nil, 10*time.Millisecond, 40*time.Millisecond)
	s.Start(context.Background(), []string{"item"})
	defer s.Stop()

	_, err := s.Trigger("item").Get()
	assert.ErrorIs(t, err, boom)

	// keeps retrying after failures
	require.Eventually(t, func() bool { return runner.count("item") >= 4 }, 2*time.Second, 5*time.Millisecond)

	runner.setFail("item", nil)
	_, err = s.Trigger("item").Get()
	assert.NoError(t, err)
}

func TestScheduler_HubWakesWorker(t *testing.T) {
	runner := newFakeRunner()
	hub := notify.NewHub()
	s := NewScheduler(runner, hub, time.Hour, time.Hour)
	s.Start(context.Background(), []string{"item"})
	defer s.Stop()

	require.Eventually(t, func() bool { return runner.count("item") == 1 }, time.Second, 5*time.Millisecond)

	hub.DataCaptured("item", 42)
	require.Eventually(t, func() bool { return runner.count("item") >= 2 }, time.Second, 5*time.Millisecond)

	hub.DataCaptured("unknown", 1)
	hub.BatchesRouted("item", 1, 42)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 2, runner.count("item"), "only data signals wake a worker")
}

func TestScheduler_AddChannel(t *testing.T) {
	runner := newFakeRunner()
	s := NewScheduler(runner, nil, time.Hour, time.Hour)
	s.AddChannel("late")
	s.Start(context.Background(), nil)
	defer s.Stop()

	_, err := s.Trigger("late").Get()
	assert.True(t, errors.Is(err, ErrUnknownChannel), "channels added before start are ignored")

	s.AddChannel("late")
	s.AddChannel("late")
	_, err = s.Trigger("late").Get()
	assert.NoError(t, err)
}

func TestScheduler_StopFailsPendingRequests(t *testing.T) {
	runner := newFakeRunner()
	runner.block = make(chan struct{})
	s := NewScheduler(runner, nil, time.Hour, time.Hour)
	s.Start(context.Background(), []string{"item"})

	fut := s.Trigger("item")
	s.Stop()

	_, err := fut.Get()
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.Trigger("item").Get()
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_TriggerRacingStopAlwaysResolves(t *testing.T) {
	for round := 0; round < 50; round++ {
		runner := newFakeRunner()
		s := NewScheduler(runner, nil, time.Hour, time.Hour)
		s.Start(context.Background(), []string{"item"})

		var wg sync.WaitGroup
		results := make(chan error, 64)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					_, err := s.Trigger("item").Get()
					results <- err
				}
			}()
		}
		s.Stop()

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: trigger future never resolved after Stop", round)
		}
		close(results)
		for err := range results {
			if err != nil {
				assert.ErrorIs(t, err, context.Canceled)
			}
		}
	}
}
