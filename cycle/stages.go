package cycle

import (
	"context"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// Stage is a step of a process state machine
type Stage string

// Evaporation walks Idle, Precheck, Settle, ColdCheck and, failing that,
// SoftAbort and SoftAbortCheck.  Condensation walks Idle, Init, Settle and
// Check.  Both end in Done.
const (
	StageIdle           Stage = "idle"
	StagePrecheck       Stage = "precheck"
	StageSettle         Stage = "settle"
	StageColdCheck      Stage = "cold_check"
	StageSoftAbort      Stage = "soft_abort"
	StageSoftAbortCheck Stage = "soft_abort_check"
	StageInit           Stage = "init"
	StageCheck          Stage = "check"
	StageDone           Stage = "done"
)

// transitions maps each stage to the stages it may be entered from
var transitions = map[Process]map[Stage][]Stage{
	Evaporation: {
		StagePrecheck:       {StageIdle},
		StageSettle:         {StagePrecheck},
		StageColdCheck:      {StageSettle},
		StageSoftAbort:      {StageColdCheck},
		StageSoftAbortCheck: {StageSoftAbort},
		StageDone:           {StageIdle, StagePrecheck, StageSettle, StageColdCheck, StageSoftAbort, StageSoftAbortCheck},
	},
	Condensation: {
		StageInit:   {StageIdle},
		StageSettle: {StageInit},
		StageCheck:  {StageSettle},
		StageDone:   {StageIdle, StageInit, StageSettle, StageCheck},
	},
}

// stageMachine tracks the stage of one process run.  Events are named after
// their destination stage.
type stageMachine struct {
	fsm *fsm.FSM
	log *zap.SugaredLogger
}

func newStageMachine(p Process, log *zap.SugaredLogger, onStage func(Process, Stage)) *stageMachine {
	var events fsm.Events
	for dst, srcs := range transitions[p] {
		src := make([]string, len(srcs))
		for i, s := range srcs {
			src[i] = string(s)
		}
		events = append(events, fsm.EventDesc{Name: string(dst), Src: src, Dst: string(dst)})
	}
	m := &stageMachine{log: log}
	m.fsm = fsm.NewFSM(
		string(StageIdle),
		events,
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Infow("entering stage", "process", p, "stage", e.Dst, "from", e.Src)
				if onStage != nil {
					onStage(p, Stage(e.Dst))
				}
			},
		},
	)
	return m
}

// current returns the present stage
func (m *stageMachine) current() Stage {
	return Stage(m.fsm.Current())
}

// enter moves to s.  Entering the present stage is a no-op.
func (m *stageMachine) enter(s Stage) {
	if m.current() == s {
		return
	}
	if err := m.fsm.Event(context.Background(), string(s)); err != nil {
		// an illegal transition is a bug in the process, keep tracking anyway
		m.log.Errorw("illegal stage transition", "from", m.current(), "to", s, "err", err)
		m.fsm.SetState(string(s))
	}
}
