package metrics

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/jirevwe/litepool/pool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_PoolHooks(t *testing.T) {
	reg := prometheus.NewRegistry()

	m := New(reg)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := pool.NewWorkerPool(2, pool.WithLogger(log), pool.WithHooks(m.Hooks()))
	m.Watch(Sources{
		QueueDepth:   p.Len,
		HandoffDepth: func() int { return 7 },
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(func() {}, pool.WithTaskLabel("mesh")))
	}
	require.NoError(t, p.SubmitErr(func() error { return errors.New("bad") }, pool.WithTaskLabel("mesh")))
	require.NoError(t, p.Stop())
	require.Error(t, p.Submit(func() {}, pool.WithTaskLabel("late")))

	require.Equal(t, 6.0, testutil.ToFloat64(m.TasksSubmitted.WithLabelValues("mesh")))
	require.Equal(t, 5.0, testutil.ToFloat64(m.TasksFinished.WithLabelValues("mesh", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksFinished.WithLabelValues("mesh", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksFinished.WithLabelValues("late", "failed")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksSubmitted.WithLabelValues("late")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.TasksRejected.WithLabelValues("late")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.TasksRejected.WithLabelValues("mesh")))
	require.Equal(t, uint64(6), p.Stats().Submitted)
	require.Equal(t, 0.0, testutil.ToFloat64(m.BusyWorkers))
	require.Equal(t, 0.0, testutil.ToFloat64(m.QueueDepth))
	require.Equal(t, 7.0, testutil.ToFloat64(m.HandoffDepth))

	// only tasks that actually ran are timed
	require.Equal(t, 1, testutil.CollectAndCount(m.TaskDuration))
}

func TestMetrics_DepthGaugesRegisteredByWatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		require.NotEqual(t, "litepool_queue_depth", f.GetName())
	}

	m.Watch(Sources{QueueDepth: func() int { return 3 }})
	require.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	require.Nil(t, m.HandoffDepth)
}
