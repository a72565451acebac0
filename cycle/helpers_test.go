package cycle_test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nasa-jpl/cryocycle/cycle"
)

// stepClock advances virtual time by d on every After and fires at once
type stepClock struct {
	mu    sync.Mutex
	now   time.Time
	waits int

	// onAfter, if not nil, is called after each step with the number of waits so far
	onAfter func(n int)
}

func newStepClock(t time.Time) *stepClock {
	return &stepClock{now: t}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits++
	n, now, hook := c.waits, c.now, c.onAfter
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

func (c *stepClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// blockClock never fires; every After is reported on waiting
type blockClock struct {
	now     time.Time
	waiting chan time.Duration
}

func newBlockClock(t time.Time) *blockClock {
	return &blockClock{now: t, waiting: make(chan time.Duration, 16)}
}

func (c *blockClock) Now() time.Time { return c.now }

func (c *blockClock) After(d time.Duration) <-chan time.Time {
	select {
	case c.waiting <- d:
	default:
	}
	return make(chan time.Time)
}

// fakePort serves channel values computed from the clock and records writes
type fakePort struct {
	mu        sync.Mutex
	clk       cycle.Clock
	values    map[string]func(time.Time) float64
	readErr   map[string]error
	writeErr  error
	params    map[string]string
	writes    []string
	readCount map[string]int
}

func newFakePort(clk cycle.Clock) *fakePort {
	return &fakePort{
		clk:       clk,
		values:    map[string]func(time.Time) float64{},
		readErr:   map[string]error{},
		params:    map[string]string{},
		readCount: map[string]int{},
	}
}

func constant(v float64) func(time.Time) float64 {
	return func(time.Time) float64 { return v }
}

// step is before until t, then after
func step(t time.Time, before, after float64) func(time.Time) float64 {
	return func(now time.Time) float64 {
		if now.Before(t) {
			return before
		}
		return after
	}
}

func (p *fakePort) set(ch string, f func(time.Time) float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[ch] = f
}

func (p *fakePort) ReadChannel(name string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readCount[name]++
	if err := p.readErr[name]; err != nil {
		return 0, err
	}
	f, ok := p.values[name]
	if !ok {
		return 0, fmt.Errorf("no channel %s", name)
	}
	return f(p.clk.Now()), nil
}

func (p *fakePort) WriteSetpoint(channel, field string, value float64) error {
	return p.record(channel+"."+field, fmt.Sprintf("%.3f", value))
}

func (p *fakePort) SetMode(channel, field, value string) error {
	key := field
	if channel != "" {
		key = channel + "." + field
	}
	return p.record(key, value)
}

func (p *fakePort) record(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.writeErr != nil {
		return p.writeErr
	}
	p.params[key] = value
	p.writes = append(p.writes, key+" "+value)
	return nil
}

func (p *fakePort) param(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.params[key]
}

func (p *fakePort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.writes...)
}

func (p *fakePort) reads(ch string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readCount[ch]
}

var errLink = errors.New("serial link down")

func evapConfig() cycle.EvapConfig {
	return cycle.EvapConfig{
		TpStartThresh:  30,
		MiniCondWait:   10 * time.Minute,
		EvapWait:       30 * time.Minute,
		TrColdThresh:   0.5,
		ExtraEvapTime:  5 * time.Minute,
		EmergencyCond:  30 * time.Minute,
		TrWarmLow:      1.5,
		TrWarmHigh:     4,
		ExtraCondCheck: 5 * time.Minute,
		SwitchSetpoint: 20,
		PumpSetpoint:   40,
	}
}

func condConfig() cycle.CondConfig {
	return cycle.CondConfig{
		CondWait:      30 * time.Minute,
		TpEndThresh:   35,
		TrWarmLow:     1.5,
		TrWarmHigh:    4,
		ExtraCondTime: 5 * time.Minute,
		PumpSetpoint:  40,
	}
}

func cycleConfig() cycle.Config {
	return cycle.Config{
		EvapStartMinute:   6 * 60,
		CondStartMinute:   18 * 60,
		ToleranceMinutes:  15,
		CriticalAbortTemp: 8,
		MonitoringTemp:    2,
		CondCooldown:      6 * time.Hour,
		ResetWindow:       cycle.Window{Start: 0, End: 10},
		PollInterval:      10 * time.Minute,
		Channels:          cycle.DefaultChannels(),
		Evap:              evapConfig(),
		Cond:              condConfig(),
	}
}

// at returns a time on 2 March 2026 UTC
func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

// eventLog collects emitted events
type eventLog struct {
	mu     sync.Mutex
	events []cycle.Event
}

func (l *eventLog) emit(ev cycle.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []cycle.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]cycle.Event(nil), l.events...)
}

func (l *eventLog) count(p cycle.Process) int {
	n := 0
	for _, ev := range l.all() {
		if ev.Process == p {
			n++
		}
	}
	return n
}
