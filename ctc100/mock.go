package ctc100

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Simulator is an in-memory CTC100 attached to a crude sorption cryostat.
// It answers the same wire protocol as the hardware, so a Controller made by
// NewMock exercises every layer except the physical link.
//
// The thermal model is first order.  With outputs enabled, the hpump loop
// drives Tp to its setpoint and warms Tr to RelayWarm; the switch loop
// (heat switch closed) drives Tp to PumpCold, and once the pump is cold Tr
// falls to RelayCold.
type Simulator struct {
	// Tau is the time constant of every channel
	Tau time.Duration

	// PumpCold is the pump temperature with the heat switch closed
	PumpCold float64

	// RelayCold and RelayWarm are the relay temperatures while evaporating
	// and condensing
	RelayCold float64
	RelayWarm float64

	// Ack makes the simulator answer writes with "<param> = <value>"
	Ack bool

	// Now is the time source for the model, time.Now if nil
	Now func() time.Time

	mu       sync.Mutex
	names    []string
	temps    map[string]float64
	params   map[string]string
	last     time.Time
	commands []string
}

// NewSimulator returns a simulator with the pump warm and the helium condensed
func NewSimulator() *Simulator {
	return &Simulator{
		Tau:       10 * time.Minute,
		PumpCold:  4.,
		RelayCold: 0.3,
		RelayWarm: 3.,
		names:     []string{"Tp", "Tr", "T1s", "Tsw", "hpump", "switch"},
		temps: map[string]float64{
			"Tp":  40.,
			"Tr":  3.,
			"T1s": 3.5,
			"Tsw": 10.,
		},
		params: map[string]string{
			"outputEnable":        "off",
			"hpump.PID.Mode":      "Off",
			"switch.PID.Mode":     "Off",
			"hpump.PID.Setpoint":  "40.000",
			"switch.PID.Setpoint": "20.000",
		},
	}
}

// NewMock returns a Controller wired to sim, with no rate limit
func NewMock(sim *Simulator) *Controller {
	c := NewFromMaker(sim.Dial)
	c.AckWrites = sim.Ack
	c.Limiter = rate.NewLimiter(rate.Inf, 1)
	return c
}

// Dial satisfies comm.CreationFunc
func (s *Simulator) Dial() (io.ReadWriteCloser, error) {
	return &simConn{sim: s}, nil
}

// SetTemperature forces an input channel to a value
func (s *Simulator) SetTemperature(ch string, v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	s.temps[ch] = v
}

// Temperature returns the present value of an input channel
func (s *Simulator) Temperature(ch string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance()
	return s.temps[ch]
}

// Param returns the stored value of a parameter, e.g. "hpump.PID.Mode"
func (s *Simulator) Param(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params[name]
}

// Commands returns every command received, oldest first
func (s *Simulator) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Simulator) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Simulator) loopOn(out string) bool {
	return s.params["outputEnable"] == "on" && strings.EqualFold(s.params[out+".PID.Mode"], "on")
}

func (s *Simulator) setpoint(out string) float64 {
	f, _ := strconv.ParseFloat(s.params[out+".PID.Setpoint"], 64)
	return f
}

// advance steps the thermal model to now.  s.mu must be held.
func (s *Simulator) advance() {
	now := s.now()
	if s.last.IsZero() {
		s.last = now
		return
	}
	dt := now.Sub(s.last)
	s.last = now
	if dt <= 0 || s.Tau <= 0 {
		return
	}
	k := 1 - math.Exp(-dt.Seconds()/s.Tau.Seconds())
	relax := func(ch string, target float64) {
		s.temps[ch] += (target - s.temps[ch]) * k
	}
	switch {
	case s.loopOn("hpump"):
		relax("Tp", s.setpoint("hpump"))
		relax("Tr", s.RelayWarm)
	case s.loopOn("switch"):
		relax("Tp", s.PumpCold)
		if s.temps["Tp"] < 2*s.PumpCold {
			relax("Tr", s.RelayCold)
		}
	}
}

func (s *Simulator) output(ch string) float64 {
	if t, ok := s.temps[ch]; ok {
		return t
	}
	if s.loopOn(ch) {
		return 1.
	}
	return 0.
}

// handle executes one command and returns the reply, if any
func (s *Simulator) handle(cmd string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
	s.advance()

	switch {
	case cmd == "getOutputNames?":
		return strings.Join(s.names, ", "), true
	case cmd == "getOutput?":
		vals := make([]string, len(s.names))
		for i, n := range s.names {
			vals[i] = strconv.FormatFloat(s.output(n), 'f', 4, 64)
		}
		return strings.Join(vals, ", "), true
	case strings.HasSuffix(cmd, "?"):
		key := strings.TrimSuffix(cmd, "?")
		v, ok := s.params[key]
		if !ok {
			return fmt.Sprintf("Unknown parameter %s", key), true
		}
		return fmt.Sprintf("%s = %s", key, v), true
	}

	key, v, found := strings.Cut(cmd, " ")
	if !found {
		return "Missing value", s.Ack
	}
	s.params[key] = strings.TrimSpace(v)
	return fmt.Sprintf("%s = %s", key, s.params[key]), s.Ack
}

// simConn is one connection to a Simulator
type simConn struct {
	sim     *Simulator
	pending []byte
	out     bytes.Buffer
}

func (c *simConn) Write(b []byte) (int, error) {
	c.pending = append(c.pending, b...)
	for {
		idx := bytes.IndexByte(c.pending, '\n')
		if idx < 0 {
			break
		}
		cmd := strings.TrimSpace(string(c.pending[:idx]))
		c.pending = c.pending[idx+1:]
		if cmd == "" {
			continue
		}
		if reply, ok := c.sim.handle(cmd); ok {
			c.out.WriteString(reply)
			c.out.WriteString("\r\n")
		}
	}
	return len(b), nil
}

func (c *simConn) Read(b []byte) (int, error) {
	if c.out.Len() == 0 {
		return 0, io.EOF
	}
	return c.out.Read(b)
}

func (c *simConn) Close() error {
	return nil
}
