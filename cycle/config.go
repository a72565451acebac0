package cycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// MinutesPerDay is the number of minutes in a day
	MinutesPerDay = 24 * 60

	// PrecheckCeiling bounds the time evaporation spends waiting for the pump to warm
	PrecheckCeiling = 2 * time.Hour

	// ColdCheckBudget bounds the time evaporation waits for the relay to cool
	// before soft aborting
	ColdCheckBudget = time.Hour

	// SoftAbortBudget bounds the time the soft abort re-condensation is given
	SoftAbortBudget = time.Hour

	// CondCheckBudget bounds the time condensation waits for its goal condition
	CondCheckBudget = 90 * time.Minute
)

// ErrInvalidConfig is generated when a Config fails validation
var ErrInvalidConfig = errors.New("invalid cycle configuration")

// Window is an inclusive range of minutes of the day.  A window with
// Start > End wraps past midnight.
type Window struct {
	Start int
	End   int
}

// Contains returns true if minute lies in the window
func (w Window) Contains(minute int) bool {
	if w.Start <= w.End {
		return minute >= w.Start && minute <= w.End
	}
	return minute >= w.Start || minute <= w.End
}

// EvapConfig holds the thresholds and timings of evaporation
type EvapConfig struct {
	// TpStartThresh is the pump temperature above which evaporation may begin
	TpStartThresh float64

	// MiniCondWait is the pump heating time between precheck attempts
	MiniCondWait time.Duration

	// EvapWait is the settle time after the heat switch is closed
	EvapWait time.Duration

	// TrColdThresh is the relay temperature below which evaporation succeeded
	TrColdThresh float64

	// ExtraEvapTime is the wait between cold checks
	ExtraEvapTime time.Duration

	// EmergencyCond is the re-condensation time of a soft abort
	EmergencyCond time.Duration

	// TrWarmLow and TrWarmHigh bound the relay temperature of a good
	// re-condensation
	TrWarmLow  float64
	TrWarmHigh float64

	// ExtraCondCheck is the wait between soft abort checks
	ExtraCondCheck time.Duration

	// SwitchSetpoint is written to the heat switch loop before it is enabled
	SwitchSetpoint float64

	// PumpSetpoint is written to the pump loop before it is enabled
	PumpSetpoint float64
}

// CondConfig holds the thresholds and timings of condensation
type CondConfig struct {
	// CondWait is the settle time after the pump loop is enabled
	CondWait time.Duration

	// TpEndThresh is the pump temperature above which condensation succeeded
	TpEndThresh float64

	// TrWarmLow and TrWarmHigh bound the relay temperature of a good condensation
	TrWarmLow  float64
	TrWarmHigh float64

	// ExtraCondTime is the wait between checks
	ExtraCondTime time.Duration

	// PumpSetpoint is written to the pump loop before it is enabled
	PumpSetpoint float64
}

// Config holds everything the scheduler needs.  It is not modified once a
// cycle is started.
type Config struct {
	// EvapStartMinute and CondStartMinute are the scheduled start times as
	// minutes after local midnight
	EvapStartMinute int
	CondStartMinute int

	// ToleranceMinutes is how far from a start time a tick may begin the process
	ToleranceMinutes int

	// CriticalAbortTemp is the relay temperature that halts the cycle
	CriticalAbortTemp float64

	// MonitoringTemp is the relay temperature that triggers an emergency
	// condensation after evaporation
	MonitoringTemp float64

	// CondCooldown is the minimum time between a condensation and the next evaporation
	CondCooldown time.Duration

	// ResetWindow is when the daily flags are cleared
	ResetWindow Window

	// PollInterval is the time between scheduler ticks
	PollInterval time.Duration

	Channels Channels
	Evap     EvapConfig
	Cond     CondConfig
}

// Schedule is the runtime context a cycle is started with
type Schedule struct {
	// Location is the time zone minutes of the day are taken in, time.Local if nil
	Location *time.Location

	// LastCondensation seeds the condensation cooldown gate.  Without it the
	// first evaporation waits for a condensation to be run by the cycle.
	LastCondensation time.Time
}

type problems []string

func (p *problems) add(format string, args ...interface{}) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(p, "; "))
}

func (p *problems) minute(name string, v int) {
	if v < 0 || v >= MinutesPerDay {
		p.add("%s=%d is not a minute of the day", name, v)
	}
}

func (p *problems) positive(name string, d time.Duration) {
	if d <= 0 {
		p.add("%s must be positive, got %v", name, d)
	}
}

func (p *problems) band(prefix string, low, high float64) {
	if low >= high {
		p.add("%s.TrWarmLow=%g must be below TrWarmHigh=%g", prefix, low, high)
	}
}

func (c EvapConfig) check(p *problems) {
	p.positive("Evap.MiniCondWait", c.MiniCondWait)
	p.positive("Evap.EvapWait", c.EvapWait)
	p.positive("Evap.ExtraEvapTime", c.ExtraEvapTime)
	p.positive("Evap.EmergencyCond", c.EmergencyCond)
	p.positive("Evap.ExtraCondCheck", c.ExtraCondCheck)
	p.band("Evap", c.TrWarmLow, c.TrWarmHigh)
	if c.TrColdThresh <= 0 {
		p.add("Evap.TrColdThresh must be positive, got %g", c.TrColdThresh)
	}
	if c.SwitchSetpoint <= 0 || c.PumpSetpoint <= 0 {
		p.add("Evap setpoints must be positive")
	}
}

func (c CondConfig) check(p *problems) {
	p.positive("Cond.CondWait", c.CondWait)
	p.positive("Cond.ExtraCondTime", c.ExtraCondTime)
	p.band("Cond", c.TrWarmLow, c.TrWarmHigh)
	if c.PumpSetpoint <= 0 {
		p.add("Cond.PumpSetpoint must be positive")
	}
}

// Validate returns nil if the evaporation config is usable
func (c EvapConfig) Validate() error {
	var p problems
	c.check(&p)
	return p.err()
}

// Validate returns nil if the condensation config is usable
func (c CondConfig) Validate() error {
	var p problems
	c.check(&p)
	return p.err()
}

// Validate returns nil if the config is usable, else an ErrInvalidConfig
// listing every problem
func (c Config) Validate() error {
	var p problems
	p.minute("EvapStartMinute", c.EvapStartMinute)
	p.minute("CondStartMinute", c.CondStartMinute)
	p.minute("ResetWindow.Start", c.ResetWindow.Start)
	p.minute("ResetWindow.End", c.ResetWindow.End)
	if c.ToleranceMinutes < 0 || c.ToleranceMinutes >= MinutesPerDay/2 {
		p.add("ToleranceMinutes=%d out of range", c.ToleranceMinutes)
	}
	if c.CondCooldown < 0 {
		p.add("CondCooldown must not be negative, got %v", c.CondCooldown)
	}
	p.positive("PollInterval", c.PollInterval)
	if c.MonitoringTemp >= c.CriticalAbortTemp {
		p.add("MonitoringTemp=%g must be below CriticalAbortTemp=%g", c.MonitoringTemp, c.CriticalAbortTemp)
	}
	ch := c.Channels
	if ch.Pump == "" || ch.Switch == "" || ch.PumpTemp == "" || ch.RelayTemp == "" {
		p.add("every channel name must be set")
	}
	c.Evap.check(&p)
	c.Cond.check(&p)
	return p.err()
}

// minuteOfDay returns the minutes since midnight of t
func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// withinTolerance returns true if minute is at most tol minutes from target,
// measured around the clock
func withinTolerance(minute, target, tol int) bool {
	d := minute - target
	if d < 0 {
		d = -d
	}
	if d > MinutesPerDay/2 {
		d = MinutesPerDay - d
	}
	return d <= tol
}
