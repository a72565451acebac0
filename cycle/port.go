package cycle

import "fmt"

// SensorPort is the temperature controller as seen by the cycle.
// Implementations serialize commands to the device themselves.
type SensorPort interface {
	// ReadChannel returns the present value of a named channel
	ReadChannel(name string) (float64, error)

	// WriteSetpoint writes a numeric parameter of a channel,
	// e.g. ("hpump", "PID.Setpoint", 40)
	WriteSetpoint(channel, field string, value float64) error

	// SetMode writes a textual parameter of a channel, e.g.
	// ("switch", "PID.Mode", "On").  An empty channel addresses a global
	// parameter such as outputEnable.
	SetMode(channel, field, value string) error
}

// DeviceError is a SensorPort failure observed by the cycle
type DeviceError struct {
	// Op is one of "read", "setpoint", "mode"
	Op string

	// Channel is the channel addressed, or the parameter for global writes
	Channel string

	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device %s %s: %v", e.Op, e.Channel, e.Err)
}

// Unwrap returns the transport error
func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Channels names the PID loops and thermometers the cycle drives
type Channels struct {
	// Pump is the sorption pump heater loop
	Pump string `koanf:"pump" yaml:"pump"`

	// Switch is the heat switch heater loop
	Switch string `koanf:"switch" yaml:"switch"`

	// PumpTemp is the sorption pump thermometer
	PumpTemp string `koanf:"pumptemp" yaml:"pumptemp"`

	// RelayTemp is the relay (cold head) thermometer
	RelayTemp string `koanf:"relaytemp" yaml:"relaytemp"`
}

// DefaultChannels returns the front panel names of a stock installation
func DefaultChannels() Channels {
	return Channels{Pump: "hpump", Switch: "switch", PumpTemp: "Tp", RelayTemp: "Tr"}
}
