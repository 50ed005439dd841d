/*
Copyright © 2025 ProofGate Authors.

Released under MIT license.
*/

package proxy

import (
	"fmt"
	"time"

	"github.com/acronis/go-appkit/config"
)

const cfgDefaultKeyPrefix = "proxy"

const (
	cfgKeyQueueCapacity = "queue.capacity"

	cfgKeyRateLimitMaxRequestsPerSecond = "rateLimit.maxRequestsPerSecond"

	cfgKeyHealthCheckInterval           = "healthCheck.interval"
	cfgKeyHealthCheckConnectTimeout     = "healthCheck.connectTimeout"
	cfgKeyHealthCheckTotalTimeout       = "healthCheck.totalTimeout"
	cfgKeyHealthCheckUnhealthyThreshold = "healthCheck.unhealthyThreshold"

	cfgKeyDispatchMaxAttempts    = "dispatch.maxAttempts"
	cfgKeyDispatchMaxRequeues    = "dispatch.maxRequeues"
	cfgKeyDispatchRequeueBackoff = "dispatch.requeueBackoff"
	cfgKeyDispatchLoops          = "dispatch.loops"
	cfgKeyDispatchConnectTimeout = "dispatch.connectTimeout"
	cfgKeyDispatchTotalTimeout   = "dispatch.totalTimeout"
)

const (
	defaultQueueCapacity = 100

	defaultRateLimitMaxRequestsPerSecond = 50

	defaultHealthCheckInterval           = 10 * time.Second
	defaultHealthCheckConnectTimeout     = time.Second
	defaultHealthCheckTotalTimeout       = 5 * time.Second
	defaultHealthCheckUnhealthyThreshold = 3

	defaultDispatchMaxAttempts    = 3
	defaultDispatchMaxRequeues    = 5
	defaultDispatchRequeueBackoff = 100 * time.Millisecond
	defaultDispatchLoops          = 8
	defaultDispatchConnectTimeout = time.Second
	defaultDispatchTotalTimeout   = time.Minute
)

// Config represents a set of configuration parameters for the proxy:
// admission queue sizing, rate limiting, worker health checking, and
// dispatching. Configuration can be loaded in different formats (YAML, JSON)
// using config.Loader.
type Config struct {
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue" json:"queue"`
	RateLimit   RateLimitConfig   `mapstructure:"rateLimit" yaml:"rateLimit" json:"rateLimit"`
	HealthCheck HealthCheckConfig `mapstructure:"healthCheck" yaml:"healthCheck" json:"healthCheck"`
	Dispatch    DispatchConfig    `mapstructure:"dispatch" yaml:"dispatch" json:"dispatch"`

	keyPrefix string
}

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*configOptions)

type configOptions struct {
	keyPrefix string
}

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
// This prefix will be used by config.Loader.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(o *configOptions) {
		o.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{keyPrefix: opts.keyPrefix}
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	opts := configOptions{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(&opts)
	}
	return &Config{
		keyPrefix: opts.keyPrefix,
		Queue: QueueConfig{
			Capacity: defaultQueueCapacity,
		},
		RateLimit: RateLimitConfig{
			MaxRequestsPerSecond: defaultRateLimitMaxRequestsPerSecond,
		},
		HealthCheck: HealthCheckConfig{
			Interval:           config.TimeDuration(defaultHealthCheckInterval),
			ConnectTimeout:     config.TimeDuration(defaultHealthCheckConnectTimeout),
			TotalTimeout:       config.TimeDuration(defaultHealthCheckTotalTimeout),
			UnhealthyThreshold: defaultHealthCheckUnhealthyThreshold,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:    defaultDispatchMaxAttempts,
			MaxRequeues:    defaultDispatchMaxRequeues,
			RequeueBackoff: config.TimeDuration(defaultDispatchRequeueBackoff),
			Loops:          defaultDispatchLoops,
			ConnectTimeout: config.TimeDuration(defaultDispatchConnectTimeout),
			TotalTimeout:   config.TimeDuration(defaultDispatchTotalTimeout),
		},
	}
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for the proxy in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyQueueCapacity, defaultQueueCapacity)

	dp.SetDefault(cfgKeyRateLimitMaxRequestsPerSecond, defaultRateLimitMaxRequestsPerSecond)

	dp.SetDefault(cfgKeyHealthCheckInterval, defaultHealthCheckInterval)
	dp.SetDefault(cfgKeyHealthCheckConnectTimeout, defaultHealthCheckConnectTimeout)
	dp.SetDefault(cfgKeyHealthCheckTotalTimeout, defaultHealthCheckTotalTimeout)
	dp.SetDefault(cfgKeyHealthCheckUnhealthyThreshold, defaultHealthCheckUnhealthyThreshold)

	dp.SetDefault(cfgKeyDispatchMaxAttempts, defaultDispatchMaxAttempts)
	dp.SetDefault(cfgKeyDispatchMaxRequeues, defaultDispatchMaxRequeues)
	dp.SetDefault(cfgKeyDispatchRequeueBackoff, defaultDispatchRequeueBackoff)
	dp.SetDefault(cfgKeyDispatchLoops, defaultDispatchLoops)
	dp.SetDefault(cfgKeyDispatchConnectTimeout, defaultDispatchConnectTimeout)
	dp.SetDefault(cfgKeyDispatchTotalTimeout, defaultDispatchTotalTimeout)
}

// Set sets proxy configuration values from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	if err := c.Queue.Set(dp); err != nil {
		return err
	}
	if err := c.RateLimit.Set(dp); err != nil {
		return err
	}
	if err := c.HealthCheck.Set(dp); err != nil {
		return err
	}
	return c.Dispatch.Set(dp)
}

// QueueConfig represents configuration parameters for the wait queue.
type QueueConfig struct {
	// Capacity is the maximum number of proving requests that may wait for a worker.
	Capacity int `mapstructure:"capacity" yaml:"capacity" json:"capacity"`
}

// Set sets queue configuration values from config.DataProvider.
func (q *QueueConfig) Set(dp config.DataProvider) error {
	var err error
	if q.Capacity, err = dp.GetInt(cfgKeyQueueCapacity); err != nil {
		return err
	}
	if q.Capacity <= 0 {
		return dp.WrapKeyErr(cfgKeyQueueCapacity, fmt.Errorf("capacity must be positive"))
	}
	return nil
}

// RateLimitConfig represents configuration parameters for per-second admission limiting.
type RateLimitConfig struct {
	MaxRequestsPerSecond int `mapstructure:"maxRequestsPerSecond" yaml:"maxRequestsPerSecond" json:"maxRequestsPerSecond"`
}

// Set sets rate limit configuration values from config.DataProvider.
func (r *RateLimitConfig) Set(dp config.DataProvider) error {
	var err error
	if r.MaxRequestsPerSecond, err = dp.GetInt(cfgKeyRateLimitMaxRequestsPerSecond); err != nil {
		return err
	}
	if r.MaxRequestsPerSecond <= 0 {
		return dp.WrapKeyErr(cfgKeyRateLimitMaxRequestsPerSecond, fmt.Errorf("maxRequestsPerSecond must be positive"))
	}
	return nil
}

// HealthCheckConfig represents configuration parameters for the worker health check loop.
type HealthCheckConfig struct {
	Interval           config.TimeDuration `mapstructure:"interval" yaml:"interval" json:"interval"`
	ConnectTimeout     config.TimeDuration `mapstructure:"connectTimeout" yaml:"connectTimeout" json:"connectTimeout"`
	TotalTimeout       config.TimeDuration `mapstructure:"totalTimeout" yaml:"totalTimeout" json:"totalTimeout"`
	UnhealthyThreshold int                 `mapstructure:"unhealthyThreshold" yaml:"unhealthyThreshold" json:"unhealthyThreshold"`
}

// Set sets health check configuration values from config.DataProvider.
func (h *HealthCheckConfig) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if dur, err = dp.GetDuration(cfgKeyHealthCheckInterval); err != nil {
		return err
	}
	h.Interval = config.TimeDuration(dur)
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyHealthCheckInterval, fmt.Errorf("interval must be positive"))
	}

	if dur, err = dp.GetDuration(cfgKeyHealthCheckConnectTimeout); err != nil {
		return err
	}
	h.ConnectTimeout = config.TimeDuration(dur)
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyHealthCheckConnectTimeout, fmt.Errorf("connectTimeout must be positive"))
	}

	if dur, err = dp.GetDuration(cfgKeyHealthCheckTotalTimeout); err != nil {
		return err
	}
	h.TotalTimeout = config.TimeDuration(dur)
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyHealthCheckTotalTimeout, fmt.Errorf("totalTimeout must be positive"))
	}

	if h.UnhealthyThreshold, err = dp.GetInt(cfgKeyHealthCheckUnhealthyThreshold); err != nil {
		return err
	}
	if h.UnhealthyThreshold <= 0 {
		return dp.WrapKeyErr(cfgKeyHealthCheckUnhealthyThreshold, fmt.Errorf("unhealthyThreshold must be positive"))
	}
	return nil
}

// DispatchConfig represents configuration parameters for forwarding queued requests to workers.
type DispatchConfig struct {
	MaxAttempts    int                 `mapstructure:"maxAttempts" yaml:"maxAttempts" json:"maxAttempts"`
	MaxRequeues    int                 `mapstructure:"maxRequeues" yaml:"maxRequeues" json:"maxRequeues"`
	RequeueBackoff config.TimeDuration `mapstructure:"requeueBackoff" yaml:"requeueBackoff" json:"requeueBackoff"`
	Loops          int                 `mapstructure:"loops" yaml:"loops" json:"loops"`
	ConnectTimeout config.TimeDuration `mapstructure:"connectTimeout" yaml:"connectTimeout" json:"connectTimeout"`
	TotalTimeout   config.TimeDuration `mapstructure:"totalTimeout" yaml:"totalTimeout" json:"totalTimeout"`
}

// Set sets dispatch configuration values from config.DataProvider.
func (d *DispatchConfig) Set(dp config.DataProvider) error {
	var err error
	var dur time.Duration

	if d.MaxAttempts, err = dp.GetInt(cfgKeyDispatchMaxAttempts); err != nil {
		return err
	}
	if d.MaxAttempts <= 0 {
		return dp.WrapKeyErr(cfgKeyDispatchMaxAttempts, fmt.Errorf("maxAttempts must be positive"))
	}

	if d.MaxRequeues, err = dp.GetInt(cfgKeyDispatchMaxRequeues); err != nil {
		return err
	}
	if d.MaxRequeues <= 0 {
		return dp.WrapKeyErr(cfgKeyDispatchMaxRequeues, fmt.Errorf("maxRequeues must be positive"))
	}

	if dur, err = dp.GetDuration(cfgKeyDispatchRequeueBackoff); err != nil {
		return err
	}
	d.RequeueBackoff = config.TimeDuration(dur)

	if d.Loops, err = dp.GetInt(cfgKeyDispatchLoops); err != nil {
		return err
	}
	if d.Loops <= 0 {
		return dp.WrapKeyErr(cfgKeyDispatchLoops, fmt.Errorf("loops must be positive"))
	}

	if dur, err = dp.GetDuration(cfgKeyDispatchConnectTimeout); err != nil {
		return err
	}
	d.ConnectTimeout = config.TimeDuration(dur)
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyDispatchConnectTimeout, fmt.Errorf("connectTimeout must be positive"))
	}

	if dur, err = dp.GetDuration(cfgKeyDispatchTotalTimeout); err != nil {
		return err
	}
	d.TotalTimeout = config.TimeDuration(dur)
	if dur <= 0 {
		return dp.WrapKeyErr(cfgKeyDispatchTotalTimeout, fmt.Errorf("totalTimeout must be positive"))
	}

	return nil
}
