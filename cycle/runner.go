package cycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Result is the report of one process run
type Result struct {
	Process  Process   `json:"process"`
	Outcome  Outcome   `json:"outcome"`
	Stage    Stage     `json:"stage"` // the stage the run ended in
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Err is the DeviceError that aborted the run, if any
	Err error `json:"-"`
}

// Runner drives the evaporation and condensation state machines against a
// SensorPort.  Runs are synchronous and a Runner must not be used for two
// runs at once.
type Runner struct {
	Port     SensorPort
	Clock    Clock
	Log      *zap.SugaredLogger
	Channels Channels

	// OnStage, if not nil, is called on every stage change
	OnStage func(Process, Stage)
}

// NewRunner returns a Runner on the wall clock with the default channel names
func NewRunner(port SensorPort, log *zap.SugaredLogger) *Runner {
	return &Runner{Port: port, Clock: RealClock, Log: log, Channels: DefaultChannels()}
}

func (r *Runner) clock() Clock {
	if r.Clock == nil {
		return RealClock
	}
	return r.Clock
}

func (r *Runner) log() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

// run is the state of one process run
type run struct {
	ctx context.Context
	r   *Runner
	ch  Channels
	clk Clock
	log *zap.SugaredLogger
	sm  *stageMachine
	res Result
}

func (r *Runner) begin(ctx context.Context, p Process) *run {
	log := r.log().With("process", p)
	x := &run{ctx: ctx, r: r, ch: r.Channels, clk: r.clock(), log: log}
	x.sm = newStageMachine(p, log, r.OnStage)
	x.res = Result{Process: p, Started: x.clk.Now()}
	log.Infow("process started")
	return x
}

func (x *run) finish(o Outcome, err error) Result {
	x.res.Outcome = o
	x.res.Err = err
	x.res.Stage = x.sm.current()
	x.res.Finished = x.clk.Now()
	x.sm.enter(StageDone)
	kv := []interface{}{
		"outcome", o, "code", o.Code(), "stage", x.res.Stage,
		"elapsed", x.res.Finished.Sub(x.res.Started),
	}
	switch {
	case err != nil:
		x.log.Errorw("process aborted by device error", append(kv, "err", err)...)
	case o.Recoverable():
		x.log.Infow("process finished", kv...)
	default:
		x.log.Warnw("process failed", kv...)
	}
	return x.res
}

func (x *run) now() time.Time {
	return x.clk.Now()
}

// wait returns true if the run was cancelled
func (x *run) wait(d time.Duration) bool {
	return Wait(x.ctx, x.clk, d)
}

func (x *run) cancelled() bool {
	return x.ctx.Err() != nil
}

// device runs fn unless the run is cancelled, wrapping failures in a DeviceError
func (x *run) device(op, channel string, fn func() error) error {
	if err := x.ctx.Err(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return &DeviceError{Op: op, Channel: channel, Err: err}
	}
	return nil
}

func (x *run) read(ch string) (float64, error) {
	var v float64
	err := x.device("read", ch, func() error {
		var err error
		v, err = x.r.Port.ReadChannel(ch)
		return err
	})
	return v, err
}

func (x *run) setMode(ch, field, v string) error {
	name := ch
	if name == "" {
		name = field
	}
	return x.device("mode", name, func() error {
		return x.r.Port.SetMode(ch, field, v)
	})
}

func (x *run) setpoint(ch string, v float64) error {
	return x.device("setpoint", ch, func() error {
		return x.r.Port.WriteSetpoint(ch, "PID.Setpoint", v)
	})
}

// pidOff disables both PID loops
func (x *run) pidOff() error {
	if err := x.setMode(x.ch.Pump, "PID.Mode", "Off"); err != nil {
		return err
	}
	return x.setMode(x.ch.Switch, "PID.Mode", "Off")
}

// pidOn writes the setpoint of a loop and enables it
func (x *run) pidOn(loop string, setpoint float64) error {
	if err := x.setpoint(loop, setpoint); err != nil {
		return err
	}
	return x.setMode(loop, "PID.Mode", "On")
}

func (x *run) outputOn() error {
	return x.setMode("", "outputEnable", "on")
}

// failSafe disables both PID loops, ignoring cancellation and logging failures
func (x *run) failSafe() {
	failSafe(x.r.Port, x.ch, x.log)
}

func failSafe(port SensorPort, ch Channels, log *zap.SugaredLogger) {
	for _, loop := range []string{ch.Pump, ch.Switch} {
		if err := port.SetMode(loop, "PID.Mode", "Off"); err != nil {
			log.Errorw("fail safe could not disable PID loop", "channel", loop, "err", err)
		}
	}
}

// abort ends the run after a device call failed.  Failures caused by
// cancellation are Cancelled, anything else leaves the loops disabled and
// ends with code.
func (x *run) abort(code Outcome, err error) (Outcome, error) {
	if x.cancelled() && errors.Is(err, x.ctx.Err()) {
		return Cancelled, nil
	}
	x.failSafe()
	return code, err
}
