// Package ctc100 provides an interface to the SRS CTC100 cryogenic temperature controller.
//
// The CTC100 speaks an ASCII protocol of "<channel>.<parameter> <value>"
// commands terminated by a line feed, and answers queries (anything ending in
// "?") with a single line terminated by CR LF.  Channels are addressed by the
// names given to them on the front panel, e.g. "Tp" and "Tr" for the pump and
// relay thermometers, "hpump" and "switch" for the two heater outputs.
package ctc100

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
	"golang.org/x/time/rate"

	"github.com/nasa-jpl/cryocycle/comm"
)

const (
	// DefaultBaud is the factory baud rate of the RS-232 port
	DefaultBaud = 9600

	// DefaultRate is the number of commands per second sent to the controller
	DefaultRate = rate.Limit(10)

	readTimeout = 2 * time.Second

	frameSize = 1024
)

var (
	// ErrMalformedResponse is generated when the controller replies with
	// something that cannot be parsed
	ErrMalformedResponse = errors.New("ctc100: malformed response")

	// ErrUnknownChannel is generated when a channel name is not among the
	// controller's outputs
	ErrUnknownChannel = errors.New("ctc100: unknown channel")
)

// Alarm holds the alarm configuration of one input channel
type Alarm struct {
	// Mode is one of "Off", "Level", "Rate /s"
	Mode string `json:"mode"`

	// Min and Max are the trip thresholds
	Min float64 `json:"min"`
	Max float64 `json:"max"`

	// Output is the heater output switched off when the alarm trips.
	// Empty leaves the current assignment alone
	Output string `json:"output"`

	// Lag is the time in seconds the threshold must be crossed before the
	// alarm trips
	Lag float64 `json:"lag"`

	// Latch keeps the alarm tripped after the input returns within limits
	Latch bool `json:"latch"`

	// Sound is e.g. "None", "1 beep", "2 beeps"; Relay is e.g. "None".
	// Empty leaves them alone
	Sound string `json:"sound,omitempty"`
	Relay string `json:"relay,omitempty"`
}

// InputConfig holds the measurement setup of an input channel.
// Empty fields are not written.
type InputConfig struct {
	// Sensor is one of "Diode", "ROX", "RTD", "Therm"
	Sensor string `json:"sensor,omitempty"`

	// Range is "Auto" or a fixed range such as "10e" or "2.5V"
	Range string `json:"range,omitempty"`

	// Current is one of "Forward", "Reverse", "AC", "Off"
	Current string `json:"current,omitempty"`

	// Power is one of "Auto", "Low", "High"
	Power string `json:"power,omitempty"`
}

// OutputConfig holds the drive setup of a heater output.
// Empty fields are not written.
type OutputConfig struct {
	// Units is one of "V", "W", "A"
	Units string `json:"units,omitempty"`

	// Range is "Auto" or a limit pair such as "50V .2A"
	Range string `json:"range,omitempty"`

	// IOType is "Meas out" or "Set out"
	IOType string `json:"io_type,omitempty"`

	// PIDInput is the input channel the PID loop regulates, e.g. "Tp"
	PIDInput string `json:"pid_input,omitempty"`
}

// Controller is an SRS CTC100.  It is safe for concurrent use; commands are
// issued through a pool of one connection so at most one is in flight.
type Controller struct {
	pool *comm.Pool

	// Limiter paces commands on the wire
	Limiter *rate.Limiter

	// AckWrites indicates the controller answers parameter writes with one
	// line, which is read and discarded
	AckWrites bool

	// Timeout is applied to every read and write on a network connection
	Timeout time.Duration

	mu    sync.Mutex
	names []string
}

// New creates a new controller at addr.  If connectSerial is true, addr is a
// serial port (e.g. /dev/ttyUSB0) opened at DefaultBaud 8N1, otherwise it is
// the host:port of a terminal server.
func New(addr string, connectSerial bool) *Controller {
	var maker comm.CreationFunc
	if connectSerial {
		maker = comm.SerialConnMaker(&serial.Config{
			Name:        addr,
			Baud:        DefaultBaud,
			ReadTimeout: readTimeout,
		})
	} else {
		maker = comm.BackingOffTCPConnMaker(addr, time.Second)
	}
	return NewFromMaker(maker)
}

// NewFromMaker creates a controller that talks over connections made by maker
func NewFromMaker(maker comm.CreationFunc) *Controller {
	return &Controller{
		pool:    comm.NewPool(1, 10*time.Second, maker),
		Limiter: rate.NewLimiter(DefaultRate, 1),
		Timeout: readTimeout,
	}
}

// send writes cmd and, if reply is true, reads one line back
func (c *Controller) send(cmd string, reply bool) (string, error) {
	if err := c.Limiter.Wait(context.Background()); err != nil {
		return "", err
	}
	conn, err := c.pool.Get()
	if err != nil {
		return "", err
	}
	defer func() { c.pool.ReturnWithError(conn, err) }()

	wrap := comm.NewTerminator(comm.NewTimeout(conn, c.Timeout), '\n', '\n')
	if _, err = io.WriteString(wrap, cmd); err != nil {
		return "", err
	}
	if !reply {
		return "", nil
	}
	buf := make([]byte, frameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func (c *Controller) query(cmd string) (string, error) {
	return c.send(cmd, true)
}

func (c *Controller) write(cmd string) error {
	_, err := c.send(cmd, c.AckWrites)
	return err
}

// param joins a channel and a parameter path.  An empty channel addresses a
// global parameter such as outputEnable.
func param(channel, field string) string {
	if channel == "" {
		return field
	}
	return channel + "." + field
}

// value extracts the value from a parameter query response, which is either
// the bare value or "<param> = <value>" depending on firmware
func value(resp string) string {
	if idx := strings.LastIndex(resp, "="); idx >= 0 {
		resp = resp[idx+1:]
	}
	return strings.TrimSpace(resp)
}

func onOff(b bool) string {
	if b {
		return "On"
	}
	return "Off"
}

func parseNames(resp string) ([]string, error) {
	pieces := strings.Split(resp, ",")
	out := make([]string, len(pieces))
	for i, p := range pieces {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%w: empty channel name in %q", ErrMalformedResponse, resp)
		}
		out[i] = p
	}
	return out, nil
}

func parseValues(resp string) ([]float64, error) {
	pieces := strings.Split(resp, ",")
	out := make([]float64, len(pieces))
	for i, p := range pieces {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrMalformedResponse, p)
		}
		out[i] = f
	}
	return out, nil
}

// OutputNames queries the names of every channel reported by Output, in order
func (c *Controller) OutputNames() ([]string, error) {
	resp, err := c.query("getOutputNames?")
	if err != nil {
		return nil, err
	}
	names, err := parseNames(resp)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.names = names
	c.mu.Unlock()
	return names, nil
}

// Output queries the present value of every channel, in the order of OutputNames
func (c *Controller) Output() ([]float64, error) {
	resp, err := c.query("getOutput?")
	if err != nil {
		return nil, err
	}
	return parseValues(resp)
}

// cachedNames returns the channel names, querying them if they are not yet known
func (c *Controller) cachedNames() ([]string, error) {
	c.mu.Lock()
	names := c.names
	c.mu.Unlock()
	if names != nil {
		return names, nil
	}
	return c.OutputNames()
}

// Snapshot reads every channel and returns a map of name => value.
// A length mismatch between names and values refreshes the names once,
// after which it is ErrMalformedResponse.
func (c *Controller) Snapshot() (map[string]float64, error) {
	names, err := c.cachedNames()
	if err != nil {
		return nil, err
	}
	values, err := c.Output()
	if err != nil {
		return nil, err
	}
	if len(values) != len(names) {
		names, err = c.OutputNames()
		if err != nil {
			return nil, err
		}
		if len(values) != len(names) {
			return nil, fmt.Errorf("%w: %d values for %d channels", ErrMalformedResponse, len(values), len(names))
		}
	}
	out := make(map[string]float64, len(names))
	for i, n := range names {
		out[n] = values[i]
	}
	return out, nil
}

// ReadChannel reads the present value of one channel by name.  If the
// name is not among the cached names they are refreshed before giving up.
func (c *Controller) ReadChannel(name string) (float64, error) {
	snap, err := c.Snapshot()
	if err != nil {
		return 0, err
	}
	if v, ok := snap[name]; ok {
		return v, nil
	}
	if _, err = c.OutputNames(); err != nil {
		return 0, err
	}
	snap, err = c.Snapshot()
	if err != nil {
		return 0, err
	}
	if v, ok := snap[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
}

// WriteSetpoint writes a numeric parameter, e.g. ("hpump", "PID.Setpoint", 40)
func (c *Controller) WriteSetpoint(channel, field string, v float64) error {
	return c.write(fmt.Sprintf("%s %.3f", param(channel, field), v))
}

// SetMode writes a textual parameter, e.g. ("switch", "PID.Mode", "On")
func (c *Controller) SetMode(channel, field, v string) error {
	return c.write(param(channel, field) + " " + v)
}

// SetPIDMode turns the PID loop of an output channel on or off
func (c *Controller) SetPIDMode(channel string, on bool) error {
	return c.SetMode(channel, "PID.Mode", onOff(on))
}

// PIDMode returns true if the PID loop of an output channel is on
func (c *Controller) PIDMode(channel string) (bool, error) {
	resp, err := c.query(param(channel, "PID.Mode?"))
	if err != nil {
		return false, err
	}
	switch v := value(resp); {
	case strings.EqualFold(v, "on"):
		return true, nil
	case strings.EqualFold(v, "off"):
		return false, nil
	default:
		return false, fmt.Errorf("%w: PID mode %q", ErrMalformedResponse, v)
	}
}

// SetPIDSetpoint sets the temperature the PID loop of an output channel drives its input to
func (c *Controller) SetPIDSetpoint(channel string, setpoint float64) error {
	return c.WriteSetpoint(channel, "PID.Setpoint", setpoint)
}

// SetPIDRamp sets the setpoint ramp rate in units/s, 0 is the fastest available
func (c *Controller) SetPIDRamp(channel string, perSecond float64) error {
	return c.WriteSetpoint(channel, "PID.Ramp", perSecond)
}

// SetPIDRampTarget sets the temperature the setpoint ramps to
func (c *Controller) SetPIDRampTarget(channel string, target float64) error {
	return c.WriteSetpoint(channel, "PID.RampT", target)
}

// SetTune sets the autotune step size and lag time (s) of an output
func (c *Controller) SetTune(channel string, stepY, lag float64) error {
	if err := c.WriteSetpoint(channel, "Tune.StepY", stepY); err != nil {
		return err
	}
	return c.WriteSetpoint(channel, "Tune.Lag", lag)
}

// setFields writes every non-empty textual field of a channel, in order
func (c *Controller) setFields(channel string, fields [][2]string) error {
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := c.SetMode(channel, f[0], f[1]); err != nil {
			return err
		}
	}
	return nil
}

// SetInputConfig configures the measurement of an input channel
func (c *Controller) SetInputConfig(channel string, in InputConfig) error {
	return c.setFields(channel, [][2]string{
		{"Sensor", in.Sensor},
		{"Range", in.Range},
		{"Current", in.Current},
		{"Power", in.Power},
	})
}

// SetOutputConfig configures the drive of a heater output
func (c *Controller) SetOutputConfig(channel string, out OutputConfig) error {
	return c.setFields(channel, [][2]string{
		{"Units", out.Units},
		{"Range", out.Range},
		{"IOType", out.IOType},
		{"PID.Input", out.PIDInput},
	})
}

// SetPIDGains sets the proportional, integral and derivative gains of a PID loop
func (c *Controller) SetPIDGains(channel string, p, i, d float64) error {
	for _, g := range []struct {
		field string
		v     float64
	}{{"PID.P", p}, {"PID.I", i}, {"PID.D", d}} {
		if err := c.WriteSetpoint(channel, g.field, g.v); err != nil {
			return err
		}
	}
	return nil
}

// SetOutputLimits sets the lower and upper limits of a heater output
func (c *Controller) SetOutputLimits(channel string, low, high float64) error {
	if err := c.WriteSetpoint(channel, "LowLmt", low); err != nil {
		return err
	}
	return c.WriteSetpoint(channel, "HiLmt", high)
}

// SetOutputEnable turns on or off all heater outputs
func (c *Controller) SetOutputEnable(on bool) error {
	return c.SetMode("", "outputEnable", strings.ToLower(onOff(on)))
}

// SetAlarm configures the alarm of an input channel
func (c *Controller) SetAlarm(channel string, a Alarm) error {
	if err := c.SetMode(channel, "Alarm.Mode", a.Mode); err != nil {
		return err
	}
	for _, f := range []struct {
		field string
		v     float64
	}{{"Alarm.Min", a.Min}, {"Alarm.Max", a.Max}, {"Alarm.Lag", a.Lag}} {
		if err := c.WriteSetpoint(channel, f.field, f.v); err != nil {
			return err
		}
	}
	if err := c.SetMode(channel, "Alarm.Latch", onOff(a.Latch)); err != nil {
		return err
	}
	return c.setFields(channel, [][2]string{
		{"Alarm.Sound", a.Sound},
		{"Alarm.Relay", a.Relay},
		{"Alarm.Output", a.Output},
	})
}

// AlarmMode returns the alarm mode of an input channel
func (c *Controller) AlarmMode(channel string) (string, error) {
	resp, err := c.query(param(channel, "Alarm.Mode?"))
	if err != nil {
		return "", err
	}
	return value(resp), nil
}

// AlarmOutput returns the heater output an input channel's alarm switches off
func (c *Controller) AlarmOutput(channel string) (string, error) {
	resp, err := c.query(param(channel, "Alarm.Output?"))
	if err != nil {
		return "", err
	}
	return value(resp), nil
}

// Raw sends a command to the controller and returns the response if it was
// a query, else a blank string
func (c *Controller) Raw(s string) (string, error) {
	if strings.Contains(s, "?") {
		return c.query(s)
	}
	_, err := c.send(s, c.AckWrites)
	return "", err
}
