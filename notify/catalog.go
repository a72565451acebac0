// Package notify delivers cycle events to people: Slack, Telegram or the log
package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/cryocycle/cycle"
)

// Catalog maps outcomes to the message sent for them
type Catalog map[cycle.Outcome]string

// DefaultMessages is the catalog used when none is configured, keyed by
// decimal outcome code
func DefaultMessages() map[string]string {
	return map[string]string{
		"0": "Cryocycle: process completed successfully.",
		"1": "Cryocycle: process cancelled by operator.",
		"2": "Cryocycle: evaporation precheck timed out, the pump never warmed.",
		"3": "Cryocycle: evaporation soft aborted, helium re-condensed. Running degraded today.",
		"4": "Cryocycle: evaporation hard aborted, re-condensation failed. Heaters are off.",
		"5": "Cryocycle: condensation timed out. Heaters are off.",
		"6": "Cryocycle: CRITICAL relay over-temperature. Automatic cycling halted, operator needed.",
	}
}

// NewCatalog parses messages keyed by decimal outcome code
func NewCatalog(messages map[string]string) (Catalog, error) {
	c := make(Catalog, len(messages))
	for k, v := range messages {
		code, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			return nil, fmt.Errorf("message key %q is not an outcome code: %w", k, err)
		}
		o := cycle.Outcome(code)
		if strings.HasPrefix(o.String(), "outcome(") {
			return nil, fmt.Errorf("message key %q is not a known outcome", k)
		}
		c[o] = v
	}
	return c, nil
}

// Text returns the message for o, or its name if the catalog has none
func (c Catalog) Text(o cycle.Outcome) string {
	if m := c[o]; m != "" {
		return m
	}
	return o.String()
}

// Render formats ev as a notification
func (c Catalog) Render(ev cycle.Event) string {
	var b strings.Builder
	b.WriteString(c.Text(ev.Outcome))
	fmt.Fprintf(&b, "\n%s", ev.Process)
	if ev.Trigger != "" {
		fmt.Fprintf(&b, " (%s)", ev.Trigger)
	}
	fmt.Fprintf(&b, " code %d", ev.Outcome.Code())
	if ev.Stage != "" {
		fmt.Fprintf(&b, " at stage %s", ev.Stage)
	}
	if !ev.Time.IsZero() {
		fmt.Fprintf(&b, ", %s", ev.Time.Format(time.RFC3339))
	}
	if ev.Process == cycle.Guard {
		fmt.Fprintf(&b, "\nrelay %.3f K", ev.Value)
	}
	if ev.Held > 0 {
		fmt.Fprintf(&b, "\ncold held for %s", ev.Held.Round(time.Minute))
	}
	if ev.Err != "" {
		fmt.Fprintf(&b, "\nerror: %s", ev.Err)
	}
	return b.String()
}
