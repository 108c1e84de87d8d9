package pipeline

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeStage struct {
	name      string
	order     *[]string
	started   atomic.Bool
	stopped   atomic.Bool
	execCount atomic.Int64
	maxExec   int64
}

func (f *fakeStage) Start() bool {
	f.started.Store(true)
	if f.order != nil {
		*f.order = append(*f.order, "start "+f.name)
	}
	return true
}

func (f *fakeStage) Stop() bool {
	f.stopped.Store(true)
	if f.order != nil {
		*f.order = append(*f.order, "stop "+f.name)
	}
	return true
}
func (f *fakeStage) Name() string { return f.name }
func (f *fakeStage) Execute() bool {
	n := f.execCount.Add(1)
	time.Sleep(time.Millisecond)
	if f.maxExec > 0 && n >= f.maxExec {
		return false
	}
	return true
}

func TestExecutorRunsUntilStageStops(t *testing.T) {
	stage := &fakeStage{name: "test", maxExec: 5}
	ex := NewExecutor(stage, zerolog.Nop())

	require.True(t, ex.Start())
	require.Eventually(t, func() bool { return !ex.Running() }, time.Second, time.Millisecond)
	require.True(t, stage.started.Load())
	require.GreaterOrEqual(t, stage.execCount.Load(), int64(5))
}

func TestExecutorStopJoinsAndCallsStop(t *testing.T) {
	stage := &fakeStage{name: "infinite"}
	ex := NewExecutor(stage, zerolog.Nop())
	require.True(t, ex.Start())
	time.Sleep(10 * time.Millisecond)
	require.True(t, ex.Stop())
	require.True(t, stage.stopped.Load())
	require.False(t, ex.Running())
}

func TestPipelineStartsInOrderStopsInReverse(t *testing.T) {
	var order []string
	mk := func(name string) *fakeStage { return &fakeStage{name: name, order: &order} }

	a, b, c := mk("a"), mk("b"), mk("c")
	p := New(zerolog.Nop())
	p.Add(a)
	p.Add(b)
	p.Add(c)

	require.True(t, p.Start())
	time.Sleep(5 * time.Millisecond)
	require.True(t, p.Stop())

	require.Equal(t, []string{"start a", "start b", "start c", "stop c", "stop b", "stop a"}, order)
	require.True(t, a.stopped.Load())
	require.True(t, b.stopped.Load())
	require.True(t, c.stopped.Load())
}
