package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"strikekeeper/internal/metrics"
	"strikekeeper/internal/strikes"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) SweepExpired(ctx context.Context) (int, error) {
	s.calls.Add(1)
	return 0, s.err
}

func TestRunnerStopsOnCancel(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("store unavailable")}
	runner := NewRunner(sweeper, nil, RunnerConfig{SweepInterval: 5 * time.Millisecond})

	errorsBefore := testutil.ToFloat64(metrics.LoopErrorsTotal.WithLabelValues("sweep"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 3 }, time.Second, time.Millisecond,
		"a failing iteration does not stop the loop")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.LoopErrorsTotal.WithLabelValues("sweep"))-errorsBefore, 3.0)
}

func TestRunnerHonoursStartDelay(t *testing.T) {
	sweeper := &countingSweeper{}
	runner := NewRunner(sweeper, nil, RunnerConfig{
		SweepInterval:   time.Millisecond,
		SweepStartDelay: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.NoError(t, runner.Run(ctx))
	assert.Equal(t, int32(0), sweeper.calls.Load())
}

func TestRunnerRefreshesDashboard(t *testing.T) {
	store := anchorStore(nil, nil)
	publisher := newMemoryPublisher()
	refresher := NewRefresher(store, strikes.NewSummarizer(store, nil, nil), publisher, nil)

	runner := NewRunner(&countingSweeper{}, refresher, RunnerConfig{
		SweepInterval:   time.Hour,
		RefreshInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()

	require.Eventually(t, func() bool {
		content, ok := publisher.get("msg-1")
		return ok && content != ""
	}, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
