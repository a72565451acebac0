package cycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start when a cycle is live
var ErrAlreadyRunning = errors.New("cycle already running")

// RecentEvents is the number of events kept by a Supervisor
const RecentEvents = 100

// Handle identifies one running cycle
type Handle struct {
	ID      uuid.UUID
	Started time.Time

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed when the cycle has fully exited
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the reason the cycle exited, nil for a stop.  It is only
// meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Status is a snapshot of the supervisor
type Status struct {
	Running  bool       `json:"running"`
	Handle   string     `json:"handle,omitempty"`
	Started  time.Time  `json:"started,omitempty"`
	Process  Process    `json:"process,omitempty"`
	Stage    Stage      `json:"stage,omitempty"`
	Flags    DailyFlags `json:"flags"`
	LastTick time.Time  `json:"last_tick,omitempty"`

	// Exit is why the last cycle ended, empty if it was stopped
	Exit string `json:"exit,omitempty"`
}

// Supervisor owns at most one running cycle per SensorPort.
// It is safe for concurrent use.
type Supervisor struct {
	Port     SensorPort
	Notifier Notifier
	Clock    Clock
	Log      *zap.SugaredLogger

	mu      sync.Mutex
	current *Handle
	status  Status
	subs    map[chan Event]struct{}
	recent  []Event
}

// NewSupervisor returns a supervisor for port.  notifier may be nil.
func NewSupervisor(port SensorPort, notifier Notifier, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{
		Port:     port,
		Notifier: notifier,
		Clock:    RealClock,
		Log:      log,
		subs:     make(map[chan Event]struct{}),
	}
}

// Start validates cfg and starts the daily cycle in the background.
// It returns ErrAlreadyRunning if a cycle is live.
func (s *Supervisor) Start(cfg Config, sched Schedule) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		ID:      uuid.New(),
		Started: s.Clock.Now(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	log := s.Log.With("handle", h.ID.String())
	runner := &Runner{
		Port:     s.Port,
		Clock:    s.Clock,
		Log:      log.Named("runner"),
		Channels: cfg.Channels,
		OnStage:  s.setStage,
	}
	sch := NewScheduler(cfg, sched, runner, log.Named("scheduler"))
	sch.Handle = h.ID.String()
	sch.Emit = s.emit
	sch.OnTick = s.setTick

	s.current = h
	s.status = Status{Running: true, Handle: h.ID.String(), Started: h.Started}

	go func() {
		defer close(h.done)
		err := sch.Run(ctx)
		cancel()
		h.err = err

		s.mu.Lock()
		if s.current == h {
			s.current = nil
		}
		s.status.Running = false
		s.status.Process = ""
		s.status.Stage = ""
		if err != nil {
			s.status.Exit = err.Error()
		}
		s.mu.Unlock()
		log.Infow("cycle exited", "err", err)
	}()
	log.Infow("cycle started")
	return h, nil
}

// Stop cancels the cycle of h and waits for it to exit, returning the
// reason it exited.  Stopping an exited cycle returns immediately.
func (s *Supervisor) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	h.cancel()
	<-h.done
	return h.err
}

// Current returns the handle of the live cycle, or nil
func (s *Supervisor) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Status returns a snapshot of the supervisor
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Running returns true if a cycle is live
func (s *Supervisor) Running() bool {
	return s.Current() != nil
}

// Subscribe returns a channel receiving every event from now on and a
// function to unsubscribe.  Delivery never blocks the cycle; events are
// dropped for a subscriber whose buffer is full.
func (s *Supervisor) Subscribe(buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// Recent returns up to RecentEvents of the latest events, oldest first
func (s *Supervisor) Recent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.recent...)
}

func (s *Supervisor) emit(ev Event) {
	s.mu.Lock()
	s.recent = append(s.recent, ev)
	if len(s.recent) > RecentEvents {
		s.recent = s.recent[len(s.recent)-RecentEvents:]
	}
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.Log.Warnw("subscriber full, event dropped", "process", ev.Process, "outcome", ev.Outcome)
		}
	}
	s.mu.Unlock()
	s.notify(ev)
}

// notify hands ev to the notifier, surviving its failures
func (s *Supervisor) notify(ev Event) {
	if s.Notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.Log.Errorw("notifier panicked", "panic", r, "outcome", ev.Outcome)
		}
	}()
	if err := s.Notifier.Notify(context.Background(), ev); err != nil {
		s.Log.Warnw("notification failed", "outcome", ev.Outcome, "err", err)
	}
}

func (s *Supervisor) setStage(p Process, st Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st == StageDone {
		s.status.Process = ""
		s.status.Stage = ""
		return
	}
	s.status.Process = p
	s.status.Stage = st
}

func (s *Supervisor) setTick(now time.Time, flags DailyFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastTick = now
	s.status.Flags = flags
}
