// Package config loads the cryocycle configuration.
//
// Values are layered, later layers winning:
//
//	defaults  ->  YAML file  ->  environment (CRYOCYCLE_ prefix)
//
// A .env file, if present, is loaded into the environment first, so secrets
// such as the Slack webhook can be kept out of the YAML file.  Environment
// keys use a double underscore for nesting, e.g. CRYOCYCLE_NOTIFY__SLACKURL
// sets Notify.SlackURL.  Every key of the Cycle section is required; there
// are no silent defaults for thresholds and timings.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	"github.com/nasa-jpl/cryocycle/cycle"
	"github.com/nasa-jpl/cryocycle/notify"
	"github.com/nasa-jpl/cryocycle/util"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "CRYOCYCLE_"

// ErrMissingKeys is generated when required keys are absent
var ErrMissingKeys = errors.New("missing required configuration keys")

// ErrInvalidTelemetry is generated when the Telemetry section is unusable
var ErrInvalidTelemetry = errors.New("invalid telemetry configuration")

// Device describes how to reach the temperature controller
type Device struct {
	// Addr is a serial device (/dev/ttyUSB0, COM3) or host:port of a
	// terminal server
	Addr string `koanf:"Addr" yaml:"Addr"`

	// Serial selects RS-232 over TCP
	Serial bool `koanf:"Serial" yaml:"Serial"`

	// Mock replaces the controller by a simulator
	Mock bool `koanf:"Mock" yaml:"Mock"`

	// RatePerSecond limits the commands sent to the controller
	RatePerSecond float64 `koanf:"RatePerSecond" yaml:"RatePerSecond"`

	// Endpoint is the URL stem the controller routes are served on
	Endpoint string `koanf:"Endpoint" yaml:"Endpoint"`
}

// Window is a minute-of-day range
type Window struct {
	Start int `koanf:"start" yaml:"start"`
	End   int `koanf:"end" yaml:"end"`
}

// Evap is the evaporation section, times in seconds
type Evap struct {
	TpStartThresh   float64 `koanf:"TpStartThresh" yaml:"TpStartThresh"`
	MiniCondWaitS   float64 `koanf:"miniCondWaitS" yaml:"miniCondWaitS"`
	EvapWaitS       float64 `koanf:"evapWaitS" yaml:"evapWaitS"`
	TrColdThresh    float64 `koanf:"TrColdThresh" yaml:"TrColdThresh"`
	ExtraEvapTimeS  float64 `koanf:"extraEvapTimeS" yaml:"extraEvapTimeS"`
	EmergencyCondS  float64 `koanf:"emergencyCondS" yaml:"emergencyCondS"`
	TrWarmLow       float64 `koanf:"TrWarmLow" yaml:"TrWarmLow"`
	TrWarmHigh      float64 `koanf:"TrWarmHigh" yaml:"TrWarmHigh"`
	ExtraCondCheckS float64 `koanf:"extraCondCheckS" yaml:"extraCondCheckS"`
	SwitchSetpoint  float64 `koanf:"switchSetpoint" yaml:"switchSetpoint"`
	PumpSetpoint    float64 `koanf:"pumpSetpoint" yaml:"pumpSetpoint"`
}

// Cond is the condensation section, times in seconds
type Cond struct {
	CondWaitS      float64 `koanf:"condWaitS" yaml:"condWaitS"`
	TpEndThresh    float64 `koanf:"TpEndThresh" yaml:"TpEndThresh"`
	TrWarmLow      float64 `koanf:"TrWarmLow" yaml:"TrWarmLow"`
	TrWarmHigh     float64 `koanf:"TrWarmHigh" yaml:"TrWarmHigh"`
	ExtraCondTimeS float64 `koanf:"extraCondTimeS" yaml:"extraCondTimeS"`
	PumpSetpoint   float64 `koanf:"pumpSetpoint" yaml:"pumpSetpoint"`
}

// Channels names the controller channels the cycle drives
type Channels struct {
	Pump      string `koanf:"pump" yaml:"pump"`
	Switch    string `koanf:"switch" yaml:"switch"`
	PumpTemp  string `koanf:"pumpTemp" yaml:"pumpTemp"`
	RelayTemp string `koanf:"relayTemp" yaml:"relayTemp"`
}

// Cycle is the cycle section.  Every key is required.
type Cycle struct {
	EvapStartMinuteOfDay   int      `koanf:"evapStartMinuteOfDay" yaml:"evapStartMinuteOfDay"`
	CondStartMinuteOfDay   int      `koanf:"condStartMinuteOfDay" yaml:"condStartMinuteOfDay"`
	ToleranceWindowMinutes int      `koanf:"toleranceWindowMinutes" yaml:"toleranceWindowMinutes"`
	CriticalAbortTemp      float64  `koanf:"criticalAbortTemp" yaml:"criticalAbortTemp"`
	MonitoringTemp         float64  `koanf:"monitoringTemp" yaml:"monitoringTemp"`
	CondCooldownSeconds    float64  `koanf:"condCooldownSeconds" yaml:"condCooldownSeconds"`
	DailyResetWindow       Window   `koanf:"dailyResetWindow" yaml:"dailyResetWindow"`
	PollIntervalSeconds    float64  `koanf:"pollIntervalSeconds" yaml:"pollIntervalSeconds"`
	Channels               Channels `koanf:"channels" yaml:"channels"`
	Evap                   Evap     `koanf:"evap" yaml:"evap"`
	Cond                   Cond     `koanf:"cond" yaml:"cond"`
}

// Schedule is the runtime context of the cycle
type Schedule struct {
	// Timezone is an IANA name the minute-of-day gates are evaluated in;
	// empty or "Local" is the host time zone
	Timezone string `koanf:"Timezone" yaml:"Timezone"`

	// LastCondensation, RFC3339, seeds the condensation cooldown
	LastCondensation string `koanf:"LastCondensation" yaml:"LastCondensation"`

	// AutoStart starts the cycle when the server starts
	AutoStart bool `koanf:"AutoStart" yaml:"AutoStart"`
}

// Notify configures the alert sinks
type Notify struct {
	// Messages maps decimal outcome codes to alert text
	Messages map[string]string `koanf:"Messages" yaml:"Messages"`

	SlackURL      string `koanf:"SlackURL" yaml:"SlackURL"`
	TelegramToken string `koanf:"TelegramToken" yaml:"TelegramToken"`
	TelegramChat  int64  `koanf:"TelegramChat" yaml:"TelegramChat"`

	// Queue is the number of alerts buffered for delivery
	Queue int `koanf:"Queue" yaml:"Queue"`

	// Digest is the cron expression of the daily summary, empty disables it
	Digest string `koanf:"Digest" yaml:"Digest"`
}

// Telemetry configures the data logger
type Telemetry struct {
	RefreshS float64 `koanf:"RefreshS" yaml:"RefreshS"`
	Length   int     `koanf:"Length" yaml:"Length"`
}

// Config is the full configuration
type Config struct {
	// Addr is the address to listen at
	Addr string `koanf:"Addr" yaml:"Addr"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `koanf:"LogLevel" yaml:"LogLevel"`

	Device    Device    `koanf:"Device" yaml:"Device"`
	Cycle     Cycle     `koanf:"Cycle" yaml:"Cycle"`
	Schedule  Schedule  `koanf:"Schedule" yaml:"Schedule"`
	Notify    Notify    `koanf:"Notify" yaml:"Notify"`
	Telemetry Telemetry `koanf:"Telemetry" yaml:"Telemetry"`
}

// Defaults returns the configuration used where the file and environment
// are silent.  The Cycle section is empty.
func Defaults() Config {
	return Config{
		Addr:     ":8000",
		LogLevel: "info",
		Device: Device{
			Addr:          "/dev/ttyUSB0",
			Serial:        true,
			RatePerSecond: 10,
			Endpoint:      "/ctc",
		},
		Schedule: Schedule{Timezone: "Local"},
		Notify: Notify{
			Messages: notify.DefaultMessages(),
			Queue:    notify.DefaultQueue,
			Digest:   notify.DefaultDigestSpec,
		},
		Telemetry: Telemetry{RefreshS: 10, Length: 8640},
	}
}

// Example returns Defaults with the Cycle section filled in with the values
// the cycle was commissioned with, the content written by mkconf
func Example() Config {
	c := Defaults()
	c.Cycle = Cycle{
		EvapStartMinuteOfDay:   6 * 60,
		CondStartMinuteOfDay:   18 * 60,
		ToleranceWindowMinutes: 15,
		CriticalAbortTemp:      8,
		MonitoringTemp:         2,
		CondCooldownSeconds:    6 * 3600,
		DailyResetWindow:       Window{Start: 0, End: 10},
		PollIntervalSeconds:    600,
		Channels:               Channels{Pump: "hpump", Switch: "switch", PumpTemp: "Tp", RelayTemp: "Tr"},
		Evap: Evap{
			TpStartThresh:   30,
			MiniCondWaitS:   600,
			EvapWaitS:       1800,
			TrColdThresh:    0.5,
			ExtraEvapTimeS:  300,
			EmergencyCondS:  1800,
			TrWarmLow:       1.5,
			TrWarmHigh:      4,
			ExtraCondCheckS: 300,
			SwitchSetpoint:  20,
			PumpSetpoint:    40,
		},
		Cond: Cond{
			CondWaitS:      1800,
			TpEndThresh:    35,
			TrWarmLow:      1.5,
			TrWarmHigh:     4,
			ExtraCondTimeS: 300,
			PumpSetpoint:   40,
		},
	}
	return c
}

// Required returns the keys that must be set, sorted
func Required() []string {
	k := koanf.New(".")
	// a struct provider never fails
	k.Load(structs.Provider(Config{}, "koanf"), nil)
	var out []string
	for _, key := range k.Keys() {
		if strings.HasPrefix(key, "Cycle.") {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// Loader holds the layered configuration
type Loader struct {
	// Path is the YAML file.  A missing file is not an error.
	Path string

	// DotEnv is the .env file.  A missing file is not an error.
	DotEnv string

	k *koanf.Koanf
}

// NewLoader returns a loader for the YAML file at path and the .env file
// next to the working directory
func NewLoader(path string) *Loader {
	return &Loader{Path: path, DotEnv: ".env", k: koanf.New(".")}
}

// Load reads every layer and returns the merged configuration.  Missing
// Cycle keys are reported together as ErrMissingKeys; the merged
// configuration is returned alongside so it can still be printed.
func (l *Loader) Load() (Config, error) {
	var c Config
	if l.DotEnv != "" {
		if err := godotenv.Load(l.DotEnv); err != nil && !errors.Is(err, os.ErrNotExist) {
			return c, fmt.Errorf("loading %s: %w", l.DotEnv, err)
		}
	}

	user := koanf.New(".")
	if l.Path != "" {
		if err := user.Load(file.Provider(l.Path), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return c, fmt.Errorf("loading %s: %w", l.Path, err)
		}
	}

	l.k = koanf.New(".")
	l.k.Load(structs.Provider(Defaults(), "koanf"), nil)
	known := map[string]string{}
	for _, key := range append(l.k.Keys(), Required()...) {
		known[strings.ToLower(key)] = key
	}
	err := user.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, EnvPrefix), "__", "."))
		if canon, ok := known[key]; ok {
			return canon
		}
		return key
	}), nil)
	if err != nil {
		return c, fmt.Errorf("loading environment: %w", err)
	}

	var missing []string
	for _, key := range Required() {
		if !user.Exists(key) {
			missing = append(missing, key)
		}
	}
	if err := l.k.Merge(user); err != nil {
		return c, err
	}
	if err := l.k.Unmarshal("", &c); err != nil {
		return c, err
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingKeys, strings.Join(missing, ", "))
	}
	return c, nil
}

// CycleConfig converts the Cycle section and validates it
func (c Config) CycleConfig() (cycle.Config, error) {
	y := c.Cycle
	cfg := cycle.Config{
		EvapStartMinute:   y.EvapStartMinuteOfDay,
		CondStartMinute:   y.CondStartMinuteOfDay,
		ToleranceMinutes:  y.ToleranceWindowMinutes,
		CriticalAbortTemp: y.CriticalAbortTemp,
		MonitoringTemp:    y.MonitoringTemp,
		CondCooldown:      util.SecsToDuration(y.CondCooldownSeconds),
		ResetWindow:       cycle.Window{Start: y.DailyResetWindow.Start, End: y.DailyResetWindow.End},
		PollInterval:      util.SecsToDuration(y.PollIntervalSeconds),
		Channels: cycle.Channels{
			Pump:      y.Channels.Pump,
			Switch:    y.Channels.Switch,
			PumpTemp:  y.Channels.PumpTemp,
			RelayTemp: y.Channels.RelayTemp,
		},
		Evap: cycle.EvapConfig{
			TpStartThresh:  y.Evap.TpStartThresh,
			MiniCondWait:   util.SecsToDuration(y.Evap.MiniCondWaitS),
			EvapWait:       util.SecsToDuration(y.Evap.EvapWaitS),
			TrColdThresh:   y.Evap.TrColdThresh,
			ExtraEvapTime:  util.SecsToDuration(y.Evap.ExtraEvapTimeS),
			EmergencyCond:  util.SecsToDuration(y.Evap.EmergencyCondS),
			TrWarmLow:      y.Evap.TrWarmLow,
			TrWarmHigh:     y.Evap.TrWarmHigh,
			ExtraCondCheck: util.SecsToDuration(y.Evap.ExtraCondCheckS),
			SwitchSetpoint: y.Evap.SwitchSetpoint,
			PumpSetpoint:   y.Evap.PumpSetpoint,
		},
		Cond: cycle.CondConfig{
			CondWait:      util.SecsToDuration(y.Cond.CondWaitS),
			TpEndThresh:   y.Cond.TpEndThresh,
			TrWarmLow:     y.Cond.TrWarmLow,
			TrWarmHigh:    y.Cond.TrWarmHigh,
			ExtraCondTime: util.SecsToDuration(y.Cond.ExtraCondTimeS),
			PumpSetpoint:  y.Cond.PumpSetpoint,
		},
	}
	return cfg, cfg.Validate()
}

// CycleSchedule converts the Schedule section
func (c Config) CycleSchedule() (cycle.Schedule, error) {
	var s cycle.Schedule
	switch c.Schedule.Timezone {
	case "", "Local":
		s.Location = time.Local
	default:
		loc, err := time.LoadLocation(c.Schedule.Timezone)
		if err != nil {
			return s, fmt.Errorf("schedule timezone: %w", err)
		}
		s.Location = loc
	}
	if c.Schedule.LastCondensation != "" {
		t, err := time.Parse(time.RFC3339, c.Schedule.LastCondensation)
		if err != nil {
			return s, fmt.Errorf("schedule last condensation: %w", err)
		}
		s.LastCondensation = t
	}
	return s, nil
}

// TelemetryRefresh returns the sampling period of the data logger
func (c Config) TelemetryRefresh() (time.Duration, error) {
	if c.Telemetry.RefreshS <= 0 {
		return 0, fmt.Errorf("%w: Telemetry.RefreshS must be positive, got %g", ErrInvalidTelemetry, c.Telemetry.RefreshS)
	}
	return util.SecsToDuration(c.Telemetry.RefreshS), nil
}
