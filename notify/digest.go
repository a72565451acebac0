package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nasa-jpl/cryocycle/cycle"
)

// DefaultDigestSpec sends the digest at 23:55 every day
const DefaultDigestSpec = "55 23 * * *"

// Digest collects the day's events and sends a summary on a cron schedule
type Digest struct {
	Out     Sink
	Catalog Catalog
	Log     *zap.SugaredLogger

	cron *cron.Cron

	mu     sync.Mutex
	events []cycle.Event
}

// NewDigest returns a digest sending to out on spec, a five field cron
// expression evaluated in loc
func NewDigest(spec string, loc *time.Location, out Sink, cat Catalog, log *zap.SugaredLogger) (*Digest, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if loc == nil {
		loc = time.Local
	}
	d := &Digest{Out: out, Catalog: cat, Log: log, cron: cron.New(cron.WithLocation(loc))}
	_, err := d.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := d.Flush(ctx); err != nil {
			d.Log.Errorw("digest not delivered", "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("digest schedule %q: %w", spec, err)
	}
	return d, nil
}

// Start starts the cron scheduler
func (d *Digest) Start() {
	d.cron.Start()
}

// Stop stops the cron scheduler and waits for a running flush
func (d *Digest) Stop() {
	<-d.cron.Stop().Done()
}

// Add records ev for the next digest
func (d *Digest) Add(ev cycle.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
}

// Consume adds every event from events until it is closed or ctx is done
func (d *Digest) Consume(ctx context.Context, events <-chan cycle.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.Add(ev)
		}
	}
}

// Summary renders the recorded events
func (d *Digest) Summary() string {
	return d.render(d.snapshot())
}

func (d *Digest) snapshot() []cycle.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]cycle.Event(nil), d.events...)
}

func (d *Digest) render(events []cycle.Event) string {
	if len(events) == 0 {
		return "Cryocycle daily digest: no cycle events."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Cryocycle daily digest: %d events", len(events))
	for _, ev := range events {
		fmt.Fprintf(&b, "\n%s %s", ev.Time.Format("15:04"), ev.Process)
		if ev.Trigger != "" {
			fmt.Fprintf(&b, " (%s)", ev.Trigger)
		}
		fmt.Fprintf(&b, ": %s", d.Catalog.Text(ev.Outcome))
		if ev.Held > 0 {
			fmt.Fprintf(&b, " held %s", ev.Held.Round(time.Minute))
		}
	}
	return b.String()
}

// Flush sends the summary and forgets the events it covered.  They are kept
// if the send fails.
func (d *Digest) Flush(ctx context.Context) error {
	events := d.snapshot()
	if err := d.Out.Send(ctx, d.render(events)); err != nil {
		return err
	}
	d.mu.Lock()
	d.events = d.events[len(events):]
	d.mu.Unlock()
	return nil
}
