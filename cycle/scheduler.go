package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrCriticalOvertemp is returned by the scheduler when the relay exceeds
	// the critical abort temperature.  The cycle does not continue.
	ErrCriticalOvertemp = errors.New("critical over-temperature, automatic cycling halted")

	// ErrTickSkipped is returned by Tick when a sensor read fails and the
	// rest of the tick is skipped
	ErrTickSkipped = errors.New("tick skipped")
)

// DailyFlags is the per-day memory of the scheduler.  Zero times are unset.
type DailyFlags struct {
	EvapRanToday        bool      `json:"evap_ran_today"`
	CondRanToday        bool      `json:"cond_ran_today"`
	MonitoringAfterEvap bool      `json:"monitoring_after_evap"`
	LastEvap            time.Time `json:"last_evap"`
	LastCond            time.Time `json:"last_cond"`
}

// Scheduler is the daily cycle loop.  Its flags are owned by the goroutine
// calling Run or Tick.
type Scheduler struct {
	Config   Config
	Schedule Schedule
	Runner   *Runner
	Log      *zap.SugaredLogger

	// Handle identifies the cycle in emitted events
	Handle string

	// Emit, if not nil, receives every event
	Emit func(Event)

	// OnTick, if not nil, is called at the end of every tick
	OnTick func(now time.Time, flags DailyFlags)

	flags    DailyFlags
	resetDay string
}

// NewScheduler returns a scheduler running processes with runner
func NewScheduler(cfg Config, sched Schedule, runner *Runner, log *zap.SugaredLogger) *Scheduler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Scheduler{Config: cfg, Schedule: sched, Runner: runner, Log: log}
	s.flags.LastCond = sched.LastCondensation
	return s
}

// Flags returns the daily flags.  It must be called from the scheduler goroutine.
func (s *Scheduler) Flags() DailyFlags {
	return s.flags
}

func (s *Scheduler) now() time.Time {
	loc := s.Schedule.Location
	if loc == nil {
		loc = time.Local
	}
	return s.Runner.clock().Now().In(loc)
}

func (s *Scheduler) emit(ev Event) {
	if s.Emit != nil {
		ev.Handle = s.Handle
		s.Emit(ev)
	}
}

// Run ticks every PollInterval until ctx is cancelled, which is a clean exit,
// or the critical guard trips, which returns ErrCriticalOvertemp.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Log.Infow("scheduler started", "handle", s.Handle, "poll", s.Config.PollInterval)
	for {
		if err := s.Tick(ctx); err != nil {
			if errors.Is(err, ErrCriticalOvertemp) {
				s.Log.Errorw("scheduler terminated", "handle", s.Handle, "err", err)
				return err
			}
			s.Log.Warnw("tick ended early", "handle", s.Handle, "err", err)
		}
		if Wait(ctx, s.Runner.clock(), s.Config.PollInterval) {
			s.Log.Infow("scheduler stopped", "handle", s.Handle)
			return nil
		}
	}
}

// Tick runs one iteration of the schedule:
//  1. the critical guard
//  2. the daily reset
//  3. scheduled evaporation, gated on the condensation cooldown
//  4. post-evaporation monitoring and emergency condensation
//  5. scheduled condensation
//
// Processes run synchronously.  A failed sensor read ends the tick with
// ErrTickSkipped.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	defer func() {
		if s.OnTick != nil {
			s.OnTick(now, s.flags)
		}
	}()

	tr, err := s.Runner.Port.ReadChannel(s.Config.Channels.RelayTemp)
	if err != nil {
		return fmt.Errorf("%w: critical guard: %w", ErrTickSkipped,
			&DeviceError{Op: "read", Channel: s.Config.Channels.RelayTemp, Err: err})
	}
	if tr > s.Config.CriticalAbortTemp {
		failSafe(s.Runner.Port, s.Config.Channels, s.Log)
		s.emit(Event{Time: now, Process: Guard, Outcome: CriticalOvertemp, Value: tr})
		return fmt.Errorf("%w: %s=%.3f exceeds %.3f", ErrCriticalOvertemp, s.Config.Channels.RelayTemp, tr, s.Config.CriticalAbortTemp)
	}

	s.dailyReset(now)

	f := &s.flags
	condOk := !f.LastCond.IsZero() && now.Sub(f.LastCond) > s.Config.CondCooldown
	if withinTolerance(minuteOfDay(now), s.Config.EvapStartMinute, s.Config.ToleranceMinutes) && !f.EvapRanToday && condOk {
		res := s.Runner.Evaporate(ctx, s.Config.Evap)
		s.emit(eventFromResult(s.Handle, Scheduled, res))
		f.EvapRanToday = true
		f.LastEvap = res.Finished
		// a degraded or failed evaporation leaves nothing cold to monitor
		f.MonitoringAfterEvap = res.Outcome == Success
		if ctx.Err() != nil {
			return nil
		}
		now = s.now()
	}

	if f.MonitoringAfterEvap && !f.CondRanToday {
		tr, err := s.Runner.Port.ReadChannel(s.Config.Channels.RelayTemp)
		if err != nil {
			return fmt.Errorf("%w: monitoring: %w", ErrTickSkipped,
				&DeviceError{Op: "read", Channel: s.Config.Channels.RelayTemp, Err: err})
		}
		if tr > s.Config.MonitoringTemp {
			s.Log.Warnw("relay warmed after evaporation, condensing",
				"channel", s.Config.Channels.RelayTemp, "value", tr, "threshold", s.Config.MonitoringTemp)
			res := s.Runner.Condense(ctx, s.Config.Cond)
			now = s.now()
			f.CondRanToday = true
			f.LastCond = now
			f.MonitoringAfterEvap = false
			ev := eventFromResult(s.Handle, Emergency, res)
			ev.Held = f.LastCond.Sub(f.LastEvap)
			s.Log.Infow("cold held", "held", ev.Held)
			s.emit(ev)
			if ctx.Err() != nil {
				return nil
			}
		}
	}

	if withinTolerance(minuteOfDay(now), s.Config.CondStartMinute, s.Config.ToleranceMinutes) && !f.CondRanToday {
		f.LastCond = now
		res := s.Runner.Condense(ctx, s.Config.Cond)
		f.CondRanToday = true
		s.emit(eventFromResult(s.Handle, Scheduled, res))
	}
	return nil
}

// dailyReset clears the flags the first tick of a day inside the reset
// window.  Timestamps are kept: the cooldown gate needs the last condensation
// across midnight.
func (s *Scheduler) dailyReset(now time.Time) {
	w := s.Config.ResetWindow
	minute := minuteOfDay(now)
	if !w.Contains(minute) {
		return
	}
	// a window wrapping midnight belongs to the day it opened on
	opened := now
	if w.Start > w.End && minute <= w.End {
		opened = now.AddDate(0, 0, -1)
	}
	day := opened.Format("2006-01-02")
	if day == s.resetDay {
		return
	}
	s.resetDay = day
	s.flags.EvapRanToday = false
	s.flags.CondRanToday = false
	s.flags.MonitoringAfterEvap = false
	s.Log.Infow("daily flags reset", "day", day)
}
