package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowContains(t *testing.T) {
	w := Window{Start: 0, End: 10}
	assert.True(t, w.Contains(0))
	assert.True(t, w.Contains(10))
	assert.False(t, w.Contains(11))

	wrap := Window{Start: 23*60 + 50, End: 10}
	assert.True(t, wrap.Contains(23*60+55))
	assert.True(t, wrap.Contains(5))
	assert.False(t, wrap.Contains(12*60))
}

func TestWithinTolerance(t *testing.T) {
	cases := []struct {
		minute, target, tol int
		want                bool
	}{
		{355, 360, 15, true},
		{344, 360, 15, false},
		{375, 360, 15, true},
		{23*60 + 55, 5, 15, true},
		{5, 23*60 + 55, 15, true},
		{23*60 + 30, 5, 15, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, withinTolerance(c.minute, c.target, c.tol), "%+v", c)
	}
}

func validConfig() Config {
	return Config{
		EvapStartMinute:   6 * 60,
		CondStartMinute:   18 * 60,
		ToleranceMinutes:  15,
		CriticalAbortTemp: 8,
		MonitoringTemp:    2,
		CondCooldown:      6 * time.Hour,
		ResetWindow:       Window{Start: 0, End: 10},
		PollInterval:      10 * time.Minute,
		Channels:          DefaultChannels(),
		Evap: EvapConfig{
			TpStartThresh: 30, MiniCondWait: time.Minute, EvapWait: time.Minute,
			TrColdThresh: 0.5, ExtraEvapTime: time.Minute, EmergencyCond: time.Minute,
			TrWarmLow: 1.5, TrWarmHigh: 4, ExtraCondCheck: time.Minute,
			SwitchSetpoint: 20, PumpSetpoint: 40,
		},
		Cond: CondConfig{
			CondWait: time.Minute, TpEndThresh: 35, TrWarmLow: 1.5, TrWarmHigh: 4,
			ExtraCondTime: time.Minute, PumpSetpoint: 40,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	c := validConfig()
	c.EvapStartMinute = MinutesPerDay
	c.PollInterval = 0
	c.MonitoringTemp = 9
	c.Cond.TrWarmLow = 5
	c.Channels.RelayTemp = ""
	err := c.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
	for _, want := range []string{"EvapStartMinute", "PollInterval", "MonitoringTemp", "Cond.TrWarmLow", "channel"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestProcessConfigValidate(t *testing.T) {
	c := validConfig()
	assert.NoError(t, c.Evap.Validate())
	assert.NoError(t, c.Cond.Validate())

	c.Evap.EvapWait = -time.Second
	assert.ErrorIs(t, c.Evap.Validate(), ErrInvalidConfig)
	c.Cond.PumpSetpoint = 0
	assert.ErrorIs(t, c.Cond.Validate(), ErrInvalidConfig)
}

func TestMinuteOfDay(t *testing.T) {
	assert.Equal(t, 6*60+25, minuteOfDay(time.Date(2026, 1, 1, 6, 25, 59, 0, time.UTC)))
}
