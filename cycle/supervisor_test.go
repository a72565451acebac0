package cycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/cryocycle/cycle"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []cycle.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev cycle.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) all() []cycle.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]cycle.Event(nil), n.events...)
}

func newSupervisor(clk cycle.Clock, notifier cycle.Notifier) (*cycle.Supervisor, *fakePort) {
	port := newFakePort(clk)
	sup := cycle.NewSupervisor(port, notifier, nil)
	sup.Clock = clk
	return sup, port
}

func schedule() cycle.Schedule {
	return cycle.Schedule{Location: time.UTC, LastCondensation: at(0, 0).Add(-time.Hour)}
}

func waitDone(t *testing.T, h *cycle.Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not exit")
	}
}

func TestSupervisorStartTwice(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	sup, port := newSupervisor(clk, nil)
	port.set("Tr", constant(0.3))

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	assert.True(t, sup.Running())
	assert.Same(t, h, sup.Current())

	_, err = sup.Start(cycleConfig(), schedule())
	assert.ErrorIs(t, err, cycle.ErrAlreadyRunning)

	assert.NoError(t, sup.Stop(h))
	assert.False(t, sup.Running())
	assert.Nil(t, sup.Current())

	// a stopped supervisor can start again
	h, err = sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	assert.NoError(t, sup.Stop(h))
}

func TestSupervisorStopDuringProcess(t *testing.T) {
	clk := newBlockClock(at(6, 0))
	notes := &recordingNotifier{}
	sup, port := newSupervisor(clk, notes)
	port.set("Tp", constant(40))
	port.set("Tr", constant(0.3))

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	select {
	case <-clk.waiting:
	case <-time.After(2 * time.Second):
		t.Fatal("evaporation never waited")
	}
	st := sup.Status()
	assert.True(t, st.Running)
	assert.Equal(t, h.ID.String(), st.Handle)
	assert.Equal(t, cycle.Evaporation, st.Process)
	assert.Equal(t, cycle.StageSettle, st.Stage)

	stopped := make(chan error)
	go func() { stopped <- sup.Stop(h) }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}

	recent := sup.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, cycle.Cancelled, recent[0].Outcome)
	assert.Equal(t, h.ID.String(), recent[0].Handle)
	require.Len(t, notes.all(), 1)
	assert.Equal(t, cycle.Cancelled, notes.all()[0].Outcome)

	st = sup.Status()
	assert.False(t, st.Running)
	assert.Empty(t, st.Exit)
	assert.Empty(t, st.Stage)
	assert.Equal(t, "On", port.param("switch.PID.Mode"), "a stop leaves the loops as they were")
}

func TestSupervisorStopIsIdempotent(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	sup, port := newSupervisor(clk, nil)
	port.set("Tr", constant(0.3))

	assert.NoError(t, sup.Stop(nil))
	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	assert.NoError(t, sup.Stop(h))
	assert.NoError(t, sup.Stop(h))
	assert.NoError(t, sup.Stop(sup.Current()))
}

func TestSupervisorRejectsInvalidConfig(t *testing.T) {
	sup, _ := newSupervisor(newBlockClock(at(12, 0)), nil)
	cfg := cycleConfig()
	cfg.PollInterval = 0

	_, err := sup.Start(cfg, schedule())
	assert.ErrorIs(t, err, cycle.ErrInvalidConfig)
	assert.False(t, sup.Running())
}

func TestSupervisorCriticalExit(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	notes := &recordingNotifier{}
	sup, port := newSupervisor(clk, notes)
	port.set("Tr", constant(9))

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	waitDone(t, h)

	assert.ErrorIs(t, h.Err(), cycle.ErrCriticalOvertemp)
	assert.ErrorIs(t, sup.Stop(h), cycle.ErrCriticalOvertemp)
	assert.False(t, sup.Running())
	st := sup.Status()
	assert.False(t, st.Running)
	assert.Contains(t, st.Exit, "critical")

	evs := notes.all()
	require.Len(t, evs, 1)
	assert.Equal(t, cycle.CriticalOvertemp, evs[0].Outcome)
	assert.Equal(t, cycle.Guard, evs[0].Process)
}

func TestSupervisorSurvivesPanickingNotifier(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	boom := cycle.NotifierFunc(func(context.Context, cycle.Event) error {
		panic("webhook exploded")
	})
	sup, port := newSupervisor(clk, boom)
	port.set("Tr", constant(9))

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	waitDone(t, h)

	assert.ErrorIs(t, h.Err(), cycle.ErrCriticalOvertemp)
	assert.Len(t, sup.Recent(), 1)
}

func TestSupervisorSubscribe(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	sup, port := newSupervisor(clk, nil)
	port.set("Tr", constant(9))
	events, unsubscribe := sup.Subscribe(4)
	defer unsubscribe()

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	waitDone(t, h)

	select {
	case ev := <-events:
		assert.Equal(t, cycle.CriticalOvertemp, ev.Outcome)
		assert.Equal(t, 9., ev.Value)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	unsubscribe()
	_, open := <-events
	assert.False(t, open)
}

func TestSupervisorStatusAfterTick(t *testing.T) {
	clk := newBlockClock(at(12, 0))
	sup, port := newSupervisor(clk, nil)
	port.set("Tr", constant(0.3))

	h, err := sup.Start(cycleConfig(), schedule())
	require.NoError(t, err)
	defer sup.Stop(h)
	<-clk.waiting

	st := sup.Status()
	assert.True(t, st.Running)
	assert.Equal(t, at(12, 0), st.LastTick)
	assert.False(t, st.Flags.EvapRanToday)
	assert.Empty(t, st.Process)
}
