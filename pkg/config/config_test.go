package config

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
	"github.com/stretchr/testify/assert"
)

func TestConfig_Register(t *testing.T) {
	c := NewConfig(log.NewNop())

	c.Register(LogLevelParam, "", "info", nil, nil)

	assert.Equal(t, "info", c.Value(LogLevelParam))

	c.Set(LogLevelParam, "debug")
	assert.Equal(t, "debug", c.Value(LogLevelParam))

	c.Unset(LogLevelParam)
	assert.Equal(t, "info", c.Value(LogLevelParam))

	assert.Len(t, c.List(), 1)
	assert.Equal(t, "", c.Value("not.registered"))
}

func TestConfig_OnChange(t *testing.T) {
	c := NewConfig(log.NewNop())

	newValue := ""
	c.Register(LogLevelParam, "", "info", func(_ string, n string) error {
		newValue = n
		return nil
	}, nil)

	c.Set(LogLevelParam, "debug")
	assert.Equal(t, "debug", newValue, "onChange not called for Set")

	c.Unset(LogLevelParam)
	assert.Equal(t, "info", newValue, "onChange not called for Unset after Set")

	c.SetTemporarily(LogLevelParam, "debug", 10*time.Second)
	assert.Equal(t, "debug", newValue, "onChange not called for SetTemporarily")

	c.Set(LogLevelParam, "error")
	assert.Equal(t, "error", newValue, "onChange not called for Set after SetTemporarily")

	c.Unset(LogLevelParam)
	assert.Equal(t, "info", newValue, "onChange not called for Unset after SetTemporarily+Set")
}

func TestConfig_ForceDuration(t *testing.T) {
	c := NewConfig(log.NewNop())
	c.Register(LogLevelParam, "", "info", nil, func(_ string, n string) time.Duration {
		if n == "debug" {
			return time.Minute
		}
		return 0
	})

	c.Set(LogLevelParam, "debug")
	params := c.List()
	assert.Len(t, params, 1)
	assert.NotEmpty(t, params[0].ExpireAt, "debug value should be temporal")

	c.expireOverrides(time.Now().Add(2 * time.Minute))
	assert.Equal(t, "info", c.Value(LogLevelParam))
}

func TestConfig_Bool(t *testing.T) {
	c := NewConfig(log.NewNop())
	c.Register(ScheduleSuspendedParam, "", "false", nil, nil)

	assert.False(t, c.Bool(ScheduleSuspendedParam))
	c.Set(ScheduleSuspendedParam, "true")
	assert.True(t, c.Bool(ScheduleSuspendedParam))
	c.Set(ScheduleSuspendedParam, "maybe")
	assert.False(t, c.Bool(ScheduleSuspendedParam))

	assert.Error(t, c.IsValid(ScheduleSuspendedParam, "maybe"))
	assert.NoError(t, c.IsValid(ScheduleSuspendedParam, "1"))
}

func TestConfig_Errors(t *testing.T) {
	c := NewConfig(log.NewNop())

	c.Register(LogLevelParam, "", "info", func(_ string, n string) error {
		if n == "debug" {
			return nil
		}
		return fmt.Errorf("unknown value")
	}, nil)

	c.Set(LogLevelParam, "bad-value")
	assert.Error(t, c.LastError(LogLevelParam), "Set should save error about unknown value")

	c.Set(LogLevelParam, "debug")
	assert.NoError(t, c.LastError(LogLevelParam), "Set should clean error after success in onChange handler")
}

func TestConfig_StopTemporal(t *testing.T) {
	c := NewConfig(log.NewNop())
	c.Register(LogLevelParam, "", "info", nil, nil)

	c.SetTemporarily(LogLevelParam, "debug", time.Hour)
	assert.Equal(t, "debug", c.Value(LogLevelParam))

	c.Stop()
	c.Stop()
	assert.Equal(t, "debug", c.Value(LogLevelParam), "Stop should keep current values")

	// Expiration loop can be started again after Stop.
	c.SetTemporarily(LogLevelParam, "warn", time.Hour)
	assert.Equal(t, "warn", c.Value(LogLevelParam))
	c.Stop()
}

func TestConfig_String(t *testing.T) {
	c := NewConfig(log.NewNop())
	c.Register(ScheduleSuspendedParam, "Suspend scheduled runs.", "false", nil, nil)
	c.Register(LogLevelParam, "Log level.", "info", nil, nil)

	out := c.String()
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "Suspend scheduled runs.")
	assert.Less(t, strings.Index(out, LogLevelParam), strings.Index(out, ScheduleSuspendedParam))
}
