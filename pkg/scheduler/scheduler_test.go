package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/tendril/pkg/ports"
	"github.com/aretw0/tendril/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func signal(ch chan<- string, v string) func(context.Context) {
	return func(context.Context) { ch <- v }
}

func waitFor(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
		return ""
	}
}

func TestScheduler_RunsJob(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ran := make(chan string, 1)
	require.NoError(t, s.AddJob(ports.Job{ID: "a", RunAt: time.Now().Add(10 * time.Millisecond), Run: signal(ran, "a")}))
	assert.Equal(t, "a", waitFor(t, ran))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_ReplacesJobWithSameID(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ran := make(chan string, 2)
	at := time.Now().Add(20 * time.Millisecond)
	require.NoError(t, s.AddJob(ports.Job{ID: "r", RunAt: at, Run: signal(ran, "first")}))
	require.NoError(t, s.AddJob(ports.Job{ID: "r", RunAt: at, Run: signal(ran, "second")}))
	require.Len(t, s.Jobs(), 1)

	assert.Equal(t, "second", waitFor(t, ran))
	select {
	case v := <-ran:
		t.Fatalf("replaced job ran: %s", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestScheduler_RemoveJob(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	var runs atomic.Int32
	require.NoError(t, s.AddJob(ports.Job{ID: "x", RunAt: time.Now().Add(30 * time.Millisecond), Run: func(context.Context) { runs.Add(1) }}))
	assert.True(t, s.RemoveJob("x"))
	assert.False(t, s.RemoveJob("x"))

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, runs.Load())
}

func TestScheduler_JobsSorted(t *testing.T) {
	s := scheduler.New()
	base := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.AddJob(ports.Job{ID: "late", RunAt: base.Add(time.Hour), Run: func(context.Context) {}}))
	require.NoError(t, s.AddJob(ports.Job{ID: "b", RunAt: base, Run: func(context.Context) {}}))
	require.NoError(t, s.AddJob(ports.Job{ID: "a", RunAt: base, Run: func(context.Context) {}}))

	var ids []string
	for _, j := range s.Jobs() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"a", "b", "late"}, ids)
	s.Stop()
}

func TestScheduler_WaitsForStart(t *testing.T) {
	s := scheduler.New()
	ran := make(chan string, 1)
	require.NoError(t, s.AddJob(ports.Job{ID: "due", RunAt: time.Now().Add(-time.Minute), Run: signal(ran, "due")}))

	select {
	case <-ran:
		t.Fatal("job ran before Start")
	case <-time.After(30 * time.Millisecond):
	}

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, "due", waitFor(t, ran))
	s.Stop()
}

func TestScheduler_StopCancelsAndWaits(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))

	started := make(chan string, 1)
	var finished atomic.Bool
	require.NoError(t, s.AddJob(ports.Job{ID: "long", RunAt: time.Now(), Run: func(ctx context.Context) {
		started <- "long"
		<-ctx.Done()
		finished.Store(true)
	}}))
	require.NoError(t, s.AddJob(ports.Job{ID: "pending", RunAt: time.Now().Add(time.Hour), Run: func(context.Context) {}}))

	waitFor(t, started)
	s.Stop()
	assert.True(t, finished.Load(), "Stop returns after running jobs")
	assert.Empty(t, s.Jobs())

	assert.ErrorIs(t, s.AddJob(ports.Job{ID: "late", Run: func(context.Context) {}}), scheduler.ErrStopped)
	assert.ErrorIs(t, s.Start(context.Background()), scheduler.ErrStopped)
	s.Stop()
}

func TestScheduler_StartTwice(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), scheduler.ErrStarted)
	s.Stop()
}

func TestScheduler_PanickingJob(t *testing.T) {
	s := scheduler.New()
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	ran := make(chan string, 1)
	require.NoError(t, s.AddJob(ports.Job{ID: "boom", RunAt: time.Now(), Run: func(context.Context) { panic("boom") }}))
	require.NoError(t, s.AddJob(ports.Job{ID: "ok", RunAt: time.Now().Add(10 * time.Millisecond), Run: signal(ran, "ok")}))
	assert.Equal(t, "ok", waitFor(t, ran))
}

func TestScheduler_InvalidJob(t *testing.T) {
	s := scheduler.New()
	assert.Error(t, s.AddJob(ports.Job{ID: "no-func"}))
	assert.Error(t, s.AddJob(ports.Job{Run: func(context.Context) {}}))
}
