package config

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deckhouse/deckhouse/pkg/log"
)

/**
 * Runtime configuration parameters. This is a simple flat KV storage
 * that can be changed through the debug endpoint without a restart.
 */

const (
	LogLevelParam          = "log.level"
	ScheduleSuspendedParam = "schedule.suspended"
)

const CheckExpiredTemporalValuesPeriod = 15 * time.Second

type (
	OnChangeFunc      func(oldValue string, newValue string) error
	ForceDurationFunc func(oldValue string, newValue string) time.Duration
)

// Parameter is a runtime configuration parameter.
type Parameter struct {
	description   string
	defaultValue  string
	onChange      OnChangeFunc
	forceDuration ForceDurationFunc
}

// override is a value set through Set or SetTemporarily. Zero expire means permanent.
type override struct {
	value  string
	expire time.Time
}

// ParameterInfo is a parameter state for the debug endpoint.
type ParameterInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Default     string `json:"default"`
	Value       string `json:"value"`
	ExpireAt    string `json:"expireAt,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// Config is a storage for all runtime parameters.
type Config struct {
	m         sync.Mutex
	params    map[string]*Parameter
	overrides map[string]override
	// Errors from onChange handlers.
	errors map[string]error

	expireTicker *time.Ticker
	stopCh       chan struct{}

	logger *log.Logger
}

func NewConfig(logger *log.Logger) *Config {
	return &Config{
		params:    make(map[string]*Parameter),
		overrides: make(map[string]override),
		errors:    make(map[string]error),
		stopCh:    make(chan struct{}),
		logger:    logger.With(slog.String("component", "runtimeConfig")),
	}
}

// Register adds a parameter. Second registration of the same name is ignored.
func (c *Config) Register(name string, description string, defaultValue string, onChange OnChangeFunc, forceDuration ForceDurationFunc) {
	if c == nil {
		return
	}
	c.m.Lock()
	defer c.m.Unlock()

	if _, exists := c.params[name]; exists {
		return
	}
	c.params[name] = &Parameter{
		defaultValue:  defaultValue,
		description:   description,
		onChange:      onChange,
		forceDuration: forceDuration,
	}
}

// List returns parameters sorted by name.
func (c *Config) List() []ParameterInfo {
	c.m.Lock()
	defer c.m.Unlock()

	res := make([]ParameterInfo, 0, len(c.params))
	for name, param := range c.params {
		info := ParameterInfo{
			Name:        name,
			Description: param.description,
			Default:     param.defaultValue,
			Value:       c.value(name),
		}
		if o, ok := c.overrides[name]; ok && !o.expire.IsZero() {
			info.ExpireAt = o.expire.Format(time.RFC3339)
		}
		if lastError := c.errors[name]; lastError != nil {
			info.LastError = lastError.Error()
		}
		res = append(res, info)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Name < res[j].Name
	})
	return res
}

func (c *Config) String() string {
	b := new(strings.Builder)
	fmt.Fprintf(b, "%-30s %-20s %-20s %-40s\n", "NAME", "VALUE", "EXPIRE AT", "DESCRIPTION")

	for _, param := range c.List() {
		description := param.Description
		if param.LastError != "" {
			description = "Error: " + param.LastError
		}
		fmt.Fprintf(b, "%-30s %-20s %-20s %-40s\n", param.Name, param.Value, param.ExpireAt, description)
	}

	return b.String()
}

func (c *Config) Has(name string) bool {
	c.m.Lock()
	defer c.m.Unlock()

	_, registered := c.params[name]
	return registered
}

// IsValid validates a value for known runtime parameters.
func (c *Config) IsValid(name, value string) error {
	switch name {
	case LogLevelParam:
		_, err := log.ParseLevel(value)
		return err
	case ScheduleSuspendedParam:
		_, err := strconv.ParseBool(value)
		return err
	}

	return nil
}

func (c *Config) LastError(name string) error {
	c.m.Lock()
	defer c.m.Unlock()

	return c.errors[name]
}

// Set updates a value of the parameter by its name.
// A parameter with forceDuration gets a temporal value instead.
func (c *Config) Set(name string, value string) {
	if forceDuration := c.callForceDuration(name, value); forceDuration > 0 {
		c.SetTemporarily(name, value, forceDuration)
		return
	}
	c.setOverride(name, override{value: value})
}

// SetTemporarily sets a value that is reverted after duration.
func (c *Config) SetTemporarily(name string, value string, duration time.Duration) {
	c.setOverride(name, override{value: value, expire: time.Now().Add(duration)})
	c.startExpireLoop()
}

// Unset returns the parameter to its default value.
func (c *Config) Unset(name string) {
	c.m.Lock()
	oldValue := c.value(name)
	delete(c.overrides, name)
	newValue := c.value(name)
	c.m.Unlock()

	c.callOnChange(name, oldValue, newValue)
}

func (c *Config) Value(name string) string {
	c.m.Lock()
	defer c.m.Unlock()

	return c.value(name)
}

// Bool returns a parameter value as bool. Unparsable values are false.
func (c *Config) Bool(name string) bool {
	if c == nil {
		return false
	}
	v, err := strconv.ParseBool(c.Value(name))
	if err != nil {
		return false
	}
	return v
}

// Stop stops expiration of temporal values.
func (c *Config) Stop() {
	c.m.Lock()
	defer c.m.Unlock()

	if c.expireTicker == nil {
		return
	}
	c.expireTicker.Stop()
	close(c.stopCh)
	c.expireTicker = nil
	c.stopCh = make(chan struct{})
}

func (c *Config) value(name string) string {
	param, registered := c.params[name]
	if !registered {
		return ""
	}
	if o, ok := c.overrides[name]; ok {
		return o.value
	}
	return param.defaultValue
}

func (c *Config) setOverride(name string, o override) {
	c.m.Lock()
	oldValue := c.value(name)
	c.overrides[name] = o
	newValue := c.value(name)
	c.m.Unlock()

	c.callOnChange(name, oldValue, newValue)
}

func (c *Config) startExpireLoop() {
	c.m.Lock()
	defer c.m.Unlock()

	if c.expireTicker != nil {
		return
	}
	ticker := time.NewTicker(CheckExpiredTemporalValuesPeriod)
	stopCh := c.stopCh
	c.expireTicker = ticker
	go func() {
		for {
			select {
			case <-stopCh:
				return
			case now := <-ticker.C:
				c.expireOverrides(now)
			}
		}
	}()
}

func (c *Config) expireOverrides(now time.Time) {
	type change struct {
		name, oldValue, newValue string
	}
	var changes []change

	c.m.Lock()
	for name, o := range c.overrides {
		if o.expire.IsZero() || o.expire.After(now) {
			continue
		}
		oldValue := c.value(name)
		delete(c.overrides, name)
		changes = append(changes, change{name: name, oldValue: oldValue, newValue: c.value(name)})
	}
	c.m.Unlock()

	for _, ch := range changes {
		c.logger.Debug("Parameter is expired", slog.String("parameter", ch.name))
		c.callOnChange(ch.name, ch.oldValue, ch.newValue)
	}
}

// callOnChange executes onChange handler if defined for the parameter.
func (c *Config) callOnChange(name string, oldValue string, newValue string) {
	c.m.Lock()
	param, has := c.params[name]
	c.m.Unlock()
	if !has || param.onChange == nil {
		return
	}

	err := param.onChange(oldValue, newValue)
	if err != nil {
		c.logger.Error("OnChange handler failed for parameter",
			slog.String("parameter", name), slog.String("old_value", oldValue), slog.String("new_value", newValue), log.Err(err))
	}
	c.m.Lock()
	c.errors[name] = err
	c.m.Unlock()
}

func (c *Config) callForceDuration(name string, newValue string) time.Duration {
	c.m.Lock()
	defer c.m.Unlock()
	param, has := c.params[name]
	if !has || param.forceDuration == nil {
		return 0
	}

	return param.forceDuration(c.value(name), newValue)
}
