package cycle

import "strconv"

// Outcome is the terminal result of a process or of the critical guard.
// The numeric values are part of the operational interface: alert message
// catalogs and dashboards are keyed on them.
type Outcome int

const (
	// Success means the process reached its goal condition
	Success Outcome = iota

	// Cancelled means the cycle was stopped while the process ran
	Cancelled

	// PrecheckTimeout means the pump never warmed past the evaporation start
	// threshold within PrecheckCeiling
	PrecheckTimeout

	// SoftAborted means evaporation failed to cool the relay but the
	// re-condensation that followed succeeded.  The day continues degraded.
	SoftAborted

	// HardAborted means evaporation and the re-condensation both failed
	HardAborted

	// CondensationTimeout means condensation did not reach its goal within CondCheckBudget
	CondensationTimeout

	// CriticalOvertemp means the relay exceeded the critical abort
	// temperature; automatic cycling halts
	CriticalOvertemp
)

var outcomeNames = [...]string{
	"success",
	"cancelled",
	"precheck-timeout",
	"soft-abort",
	"hard-abort",
	"condensation-timeout",
	"critical-overtemp",
}

// String returns the kebab-case name of the outcome
func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "outcome(" + strconv.Itoa(int(o)) + ")"
	}
	return outcomeNames[o]
}

// Code returns the numeric code of the outcome
func (o Outcome) Code() int {
	return int(o)
}

// Recoverable returns true if automatic cycling can continue without an
// operator after this outcome
func (o Outcome) Recoverable() bool {
	switch o {
	case Success, Cancelled, SoftAborted:
		return true
	default:
		return false
	}
}

// Process names the activity an event comes from
type Process string

const (
	// Evaporation pumps on the condensed helium to cool the relay
	Evaporation Process = "evaporation"

	// Condensation heats the pump to recondense the helium
	Condensation Process = "condensation"

	// Guard is the per-tick critical temperature check
	Guard Process = "guard"
)

// Trigger is why a process was run
type Trigger string

const (
	// Scheduled runs start in their time-of-day window
	Scheduled Trigger = "scheduled"

	// Emergency runs are condensations started because the relay warmed
	// past the monitoring temperature after an evaporation
	Emergency Trigger = "emergency"

	// Manual runs are started by an operator outside the scheduler
	Manual Trigger = "manual"
)
