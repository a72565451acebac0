package cycle

import "context"

// Evaporate runs evaporation to completion and returns its result.
//
// The pump is first warmed until it is past TpStartThresh, heated in
// MiniCondWait steps for at most PrecheckCeiling (PrecheckTimeout).  The heat
// switch is then closed and the relay given ColdCheckBudget to cool below
// TrColdThresh (Success).  Failing that the pump is reheated to recondense
// the helium and given SoftAbortBudget to reach the warm band (SoftAborted),
// after which the loops are disabled (HardAborted).
//
// A device error aborts the run: PrecheckTimeout during precheck,
// HardAborted afterwards.  Cancelling ctx ends the run with Cancelled at the
// next wait or device call.
func (r *Runner) Evaporate(ctx context.Context, cfg EvapConfig) Result {
	x := r.begin(ctx, Evaporation)
	return x.finish(x.evaporate(cfg))
}

func (x *run) evaporate(cfg EvapConfig) (Outcome, error) {
	if err := x.pidOff(); err != nil {
		return x.abort(PrecheckTimeout, err)
	}
	if err := x.outputOn(); err != nil {
		return x.abort(PrecheckTimeout, err)
	}

	x.sm.enter(StagePrecheck)
	start := x.now()
	for {
		if x.cancelled() {
			return Cancelled, nil
		}
		tp, err := x.read(x.ch.PumpTemp)
		if err != nil {
			return x.abort(PrecheckTimeout, err)
		}
		if tp > cfg.TpStartThresh {
			if err := x.pidOff(); err != nil {
				return x.abort(PrecheckTimeout, err)
			}
			if err := x.pidOn(x.ch.Switch, cfg.SwitchSetpoint); err != nil {
				return x.abort(PrecheckTimeout, err)
			}
			break
		}
		x.log.Infow("pump below start threshold, heating", "channel", x.ch.PumpTemp, "value", tp, "threshold", cfg.TpStartThresh)
		if err := x.pidOff(); err != nil {
			return x.abort(PrecheckTimeout, err)
		}
		if err := x.pidOn(x.ch.Pump, cfg.PumpSetpoint); err != nil {
			return x.abort(PrecheckTimeout, err)
		}
		if x.wait(cfg.MiniCondWait) {
			return Cancelled, nil
		}
		if x.now().Sub(start) > PrecheckCeiling {
			x.failSafe()
			return PrecheckTimeout, nil
		}
	}

	x.sm.enter(StageSettle)
	if x.wait(cfg.EvapWait) {
		return Cancelled, nil
	}

	x.sm.enter(StageColdCheck)
	t0 := x.now()
	for {
		if x.cancelled() {
			return Cancelled, nil
		}
		tr, err := x.read(x.ch.RelayTemp)
		if err != nil {
			return x.abort(HardAborted, err)
		}
		if tr < cfg.TrColdThresh {
			return Success, nil
		}
		x.log.Infow("relay not cold yet", "channel", x.ch.RelayTemp, "value", tr, "threshold", cfg.TrColdThresh)
		if x.wait(cfg.ExtraEvapTime) {
			return Cancelled, nil
		}
		if x.now().Sub(t0) > ColdCheckBudget {
			break
		}
	}

	x.sm.enter(StageSoftAbort)
	if err := x.pidOff(); err != nil {
		return x.abort(HardAborted, err)
	}
	if err := x.pidOn(x.ch.Pump, cfg.PumpSetpoint); err != nil {
		return x.abort(HardAborted, err)
	}
	if x.wait(cfg.EmergencyCond) {
		return Cancelled, nil
	}

	x.sm.enter(StageSoftAbortCheck)
	t1 := x.now()
	for {
		if x.cancelled() {
			return Cancelled, nil
		}
		tp, err := x.read(x.ch.PumpTemp)
		if err != nil {
			return x.abort(HardAborted, err)
		}
		tr, err := x.read(x.ch.RelayTemp)
		if err != nil {
			return x.abort(HardAborted, err)
		}
		if tp > cfg.TpStartThresh && cfg.TrWarmLow < tr && tr < cfg.TrWarmHigh {
			return SoftAborted, nil
		}
		if x.wait(cfg.ExtraCondCheck) {
			return Cancelled, nil
		}
		if x.now().Sub(t1) > SoftAbortBudget {
			x.failSafe()
			return HardAborted, nil
		}
	}
}
