package cycle

import "context"

// Condense runs condensation to completion and returns its result.
// The pump loop is enabled, and after CondWait the pump and relay are checked
// every ExtraCondTime for CondCheckBudget.  A device error or the budget
// running out disables the loops and ends with CondensationTimeout.
func (r *Runner) Condense(ctx context.Context, cfg CondConfig) Result {
	x := r.begin(ctx, Condensation)
	return x.finish(x.condense(cfg))
}

func (x *run) condense(cfg CondConfig) (Outcome, error) {
	x.sm.enter(StageInit)
	if err := x.outputOn(); err != nil {
		return x.abort(CondensationTimeout, err)
	}
	if err := x.pidOff(); err != nil {
		return x.abort(CondensationTimeout, err)
	}
	if err := x.pidOn(x.ch.Pump, cfg.PumpSetpoint); err != nil {
		return x.abort(CondensationTimeout, err)
	}

	x.sm.enter(StageSettle)
	if x.wait(cfg.CondWait) {
		return Cancelled, nil
	}

	x.sm.enter(StageCheck)
	t0 := x.now()
	for {
		if x.cancelled() {
			return Cancelled, nil
		}
		tp, err := x.read(x.ch.PumpTemp)
		if err != nil {
			return x.abort(CondensationTimeout, err)
		}
		tr, err := x.read(x.ch.RelayTemp)
		if err != nil {
			return x.abort(CondensationTimeout, err)
		}
		if tp > cfg.TpEndThresh && cfg.TrWarmLow < tr && tr < cfg.TrWarmHigh {
			return Success, nil
		}
		x.log.Infow("condensation not done", "tp", tp, "tr", tr)
		if x.wait(cfg.ExtraCondTime) {
			return Cancelled, nil
		}
		if x.now().Sub(t0) > CondCheckBudget {
			x.failSafe()
			return CondensationTimeout, nil
		}
	}
}
