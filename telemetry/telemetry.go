/*Package telemetry contains the data logger of the cryostat.

It captures a snapshot of every controller channel every Refresh and stores up
to Length of them to return over HTTP.
*/
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nasa-jpl/cryocycle/generichttp"
)

// ErrBadRefresh is generated when the sampling period is not positive
var ErrBadRefresh = errors.New("telemetry refresh must be positive")

// Snapshotter reads every channel of a device at once
type Snapshotter interface {
	Snapshot() (map[string]float64, error)
}

// Sample is one snapshot
type Sample struct {
	Time   time.Time          `json:"time"`
	Values map[string]float64 `json:"values"`
}

// Logger records snapshots into a ring buffer
type Logger struct {
	Source  Snapshotter
	Refresh time.Duration
	Log     *zap.SugaredLogger

	// OnSample, if not nil, is called with every recorded sample
	OnSample func(Sample)

	// Now is the time source, time.Now if nil
	Now func() time.Time

	mu   sync.Mutex
	ring []Sample
	next int
	full bool
}

// New returns a logger keeping length samples taken every refresh
func New(src Snapshotter, refresh time.Duration, length int, log *zap.SugaredLogger) (*Logger, error) {
	if refresh <= 0 {
		return nil, fmt.Errorf("%w, got %v", ErrBadRefresh, refresh)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if length < 1 {
		length = 1
	}
	return &Logger{Source: src, Refresh: refresh, Log: log, ring: make([]Sample, length)}, nil
}

// Run samples immediately and then every Refresh until ctx is done.
// Failed reads are logged and skipped.  A Logger whose Refresh was set to
// zero or less after New logs an error and returns.
func (l *Logger) Run(ctx context.Context) {
	if l.Refresh <= 0 {
		l.Log.Errorw("telemetry not started", "err", ErrBadRefresh, "refresh", l.Refresh)
		return
	}
	ticker := time.NewTicker(l.Refresh)
	defer ticker.Stop()
	for {
		if err := l.Sample(); err != nil {
			l.Log.Warnw("telemetry sample skipped", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sample takes and records one snapshot
func (l *Logger) Sample() error {
	vals, err := l.Source.Snapshot()
	if err != nil {
		return err
	}
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	s := Sample{Time: now(), Values: vals}
	l.mu.Lock()
	l.ring[l.next] = s
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()
	if l.OnSample != nil {
		l.OnSample(s)
	}
	return nil
}

// Samples returns the recorded samples, oldest first
func (l *Logger) Samples() []Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Sample(nil), l.ring[:l.next]...)
	}
	out := make([]Sample, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	return append(out, l.ring[:l.next]...)
}

// Latest returns the newest sample, ok is false if there is none
func (l *Logger) Latest() (s Sample, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full && l.next == 0 {
		return s, false
	}
	i := (l.next - 1 + len(l.ring)) % len(l.ring)
	return l.ring[i], true
}

// HTTPWrapper serves the recorded samples
type HTTPWrapper struct {
	Logger *Logger

	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(l *Logger) HTTPWrapper {
	w := HTTPWrapper{Logger: l}
	w.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/telemetry"}:        w.All,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/telemetry/latest"}: w.Latest,
	}
	return w
}

// RT satisfies the generichttp.HTTPer interface
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// All returns every recorded sample as a JSON array, oldest first
func (h HTTPWrapper) All(w http.ResponseWriter, r *http.Request) {
	generichttp.ReplyWithJSON(w, h.Logger.Samples())
}

// Latest returns the newest sample, 404 if none has been recorded
func (h HTTPWrapper) Latest(w http.ResponseWriter, r *http.Request) {
	s, ok := h.Logger.Latest()
	if !ok {
		http.Error(w, "no telemetry recorded yet", http.StatusNotFound)
		return
	}
	generichttp.ReplyWithJSON(w, s)
}
