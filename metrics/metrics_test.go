package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/cryocycle/cycle"
)

func TestObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, nil)

	c.Observe(cycle.Event{Process: cycle.Evaporation, Outcome: cycle.Success})
	c.Observe(cycle.Event{Process: cycle.Evaporation, Outcome: cycle.SoftAborted})
	c.Observe(cycle.Event{Process: cycle.Evaporation, Outcome: cycle.Success})
	c.Observe(cycle.Event{Process: cycle.Condensation, Outcome: cycle.Success, Held: 4 * time.Hour})

	assert.Equal(t, 2., testutil.ToFloat64(c.Outcomes.WithLabelValues("evaporation", "success")))
	assert.Equal(t, 1., testutil.ToFloat64(c.Outcomes.WithLabelValues("evaporation", "soft-abort")))
	assert.Equal(t, 0., testutil.ToFloat64(c.LastOutcome.WithLabelValues("evaporation")))
	assert.Equal(t, 4*3600., testutil.ToFloat64(c.Held))
	assert.Equal(t, 3, testutil.CollectAndCount(c.Outcomes))
	assert.Equal(t, 2, testutil.CollectAndCount(c.LastOutcome))
}

func TestRunning(t *testing.T) {
	reg := prometheus.NewRegistry()
	live := false
	New(reg, func() bool { return live })

	want := `
# HELP cryocycle_running 1 while the daily cycle is running.
# TYPE cryocycle_running gauge
cryocycle_running %d
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(want, "%d", "0", 1)), "cryocycle_running"))
	live = true
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(strings.Replace(want, "%d", "1", 1)), "cryocycle_running"))
}

func TestConsumeAndServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg, nil)
	c.ObserveChannels(map[string]float64{"Tr": 0.35, "Tp": 4.1})

	events := make(chan cycle.Event, 1)
	events <- cycle.Event{Process: cycle.Guard, Outcome: cycle.CriticalOvertemp}
	close(events)
	c.Consume(context.Background(), events)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, `cryocycle_channel_value{channel="Tr"} 0.35`)
	assert.Contains(t, out, `cryocycle_outcomes_total{outcome="critical-overtemp",process="guard"} 1`)
	assert.Contains(t, out, `cryocycle_last_outcome{process="guard"} 6`)
}
