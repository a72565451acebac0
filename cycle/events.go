package cycle

import (
	"context"
	"time"
)

// Event is the record of a process outcome or a critical guard trip
type Event struct {
	Time    time.Time `json:"time"`
	Handle  string    `json:"handle"`
	Process Process   `json:"process"`
	Trigger Trigger   `json:"trigger,omitempty"`
	Outcome Outcome   `json:"outcome"`
	Stage   Stage     `json:"stage,omitempty"`

	// Held is how long the relay stayed cold after an evaporation, set on
	// emergency condensations
	Held time.Duration `json:"held,omitempty"`

	// Value is the relay temperature that tripped the guard
	Value float64 `json:"value,omitempty"`

	// Err is the text of the device error that aborted the process
	Err string `json:"error,omitempty"`
}

// Notifier receives every event.  Notify is called from the scheduler task
// and must not block; errors are logged and otherwise ignored.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to a Notifier
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

func eventFromResult(handle string, trig Trigger, res Result) Event {
	ev := Event{
		Time:    res.Finished,
		Handle:  handle,
		Process: res.Process,
		Trigger: trig,
		Outcome: res.Outcome,
		Stage:   res.Stage,
	}
	if res.Err != nil {
		ev.Err = res.Err.Error()
	}
	return ev
}
