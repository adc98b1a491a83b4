package testutil

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/propsync/internal/props"
	"github.com/roach88/propsync/internal/scheduler"
)

type liveHandle struct{}

func (liveHandle) Valid() bool { return true }

func TestRecorder_CollectsFromRunningScheduler(t *testing.T) {
	rec := NewRecorder()
	var applied atomic.Int64

	s, err := scheduler.New(scheduler.ApplierFunc(func(ops []scheduler.Operation) (scheduler.ApplyReport, error) {
		applied.Add(int64(len(ops)))
		return scheduler.ApplyReport{}, nil
	}), rec, scheduler.WithDropHandler(rec.Dropped))
	require.NoError(t, err)
	require.NoError(t, s.Register(1, liveHandle{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	frames := NewManualFrames(16 * time.Millisecond)
	go func() { _ = s.Run(ctx, frames) }()

	s.Enqueue(1, props.New(props.P("x", props.Number(3))))
	s.Enqueue(2, props.New(props.P("x", props.Number(4))))
	require.Eventually(t, func() bool { return applied.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 4; i++ {
		_, ok := frames.Tick()
		require.True(t, ok)
	}
	require.True(t, rec.WaitSettles(1, time.Second))

	settles := rec.Settles()
	require.Len(t, settles, 1)
	assert.Equal(t, scheduler.TargetID(1), settles[0].Target)
	assert.True(t, settles[0].Props.Equal(props.New(props.P("x", props.Number(3)))))

	require.Eventually(t, func() bool { return len(rec.Drops()) == 1 }, time.Second, time.Millisecond)
	drops := rec.Drops()
	assert.Equal(t, scheduler.DropUnknownTarget, drops[0].Code)
}

func TestRecorder_WaitSettlesTimesOut(t *testing.T) {
	rec := NewRecorder()
	assert.False(t, rec.WaitSettles(1, 10*time.Millisecond))
}

func TestManualFrames_StopUnblocksTick(t *testing.T) {
	frames := NewManualFrames(time.Millisecond)
	frames.Stop()
	frames.Stop()

	_, ok := frames.Tick()
	assert.False(t, ok)
}
