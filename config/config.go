package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const DefaultUserAgent = "https://github.com/salt-extensions/salt-extensions-metadata"

type Config struct {
	PyPIIndexURL       string
	PyPIJSONURL        string
	PyPIUserAgent      string
	PyPIConcurrency    int
	PyPIKeepAlive      int
	PyPIRequestTimeout time.Duration

	CrawlTimeout time.Duration
	CrawlFast    bool

	CachePath string
	StatePath string
	DataPath  string

	AMQPURI          string
	AMQPExchangeName string
}

// SetDefaults registers the default value of every key on cfg. LOCAL_CACHE_PATH
// takes precedence over cache.path when set in the environment.
func SetDefaults(cfg *viper.Viper) {
	cfg.SetDefault("pypi.index_url", "https://pypi.org/simple/")
	cfg.SetDefault("pypi.json_url", "https://pypi.org/pypi/")
	cfg.SetDefault("pypi.user_agent", DefaultUserAgent)
	cfg.SetDefault("pypi.concurrency", 1500)
	cfg.SetDefault("pypi.keepalive", 5)
	cfg.SetDefault("pypi.request_timeout", 15*time.Second)

	cfg.SetDefault("crawl.timeout", 4*time.Hour)
	cfg.SetDefault("crawl.fast", false)

	cfg.SetDefault("cache.path", ".cache")
	cfg.SetDefault("state.path", ".state")
	cfg.SetDefault("data.path", "data")

	_ = cfg.BindEnv("cache.path", "LOCAL_CACHE_PATH")
}

func NewFromViper(cfg *viper.Viper) (*Config, error) {
	c := &Config{
		PyPIIndexURL:       cfg.GetString("pypi.index_url"),
		PyPIJSONURL:        cfg.GetString("pypi.json_url"),
		PyPIUserAgent:      cfg.GetString("pypi.user_agent"),
		PyPIConcurrency:    cfg.GetInt("pypi.concurrency"),
		PyPIKeepAlive:      cfg.GetInt("pypi.keepalive"),
		PyPIRequestTimeout: cfg.GetDuration("pypi.request_timeout"),

		CrawlTimeout: cfg.GetDuration("crawl.timeout"),
		CrawlFast:    cfg.GetBool("crawl.fast"),

		CachePath: cfg.GetString("cache.path"),
		StatePath: cfg.GetString("state.path"),
		DataPath:  cfg.GetString("data.path"),

		AMQPURI:          cfg.GetString("amqp.uri"),
		AMQPExchangeName: cfg.GetString("amqp.exchange.name"),
	}

	err := c.Validate()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// NotifyEnabled reports whether crawl results should be published over AMQP.
func (c *Config) NotifyEnabled() bool {
	return c.AMQPURI != ""
}

func (c *Config) Validate() error {
	var errorkeys []string

	if c.PyPIIndexURL == "" {
		errorkeys = append(errorkeys, "pypi.index_url")
	}
	if c.PyPIJSONURL == "" {
		errorkeys = append(errorkeys, "pypi.json_url")
	}
	if c.PyPIConcurrency < 1 {
		errorkeys = append(errorkeys, "pypi.concurrency")
	}
	if c.PyPIKeepAlive < 1 {
		errorkeys = append(errorkeys, "pypi.keepalive")
	}
	if c.PyPIRequestTimeout <= 0 {
		errorkeys = append(errorkeys, "pypi.request_timeout")
	}
	if c.CrawlTimeout <= 0 {
		errorkeys = append(errorkeys, "crawl.timeout")
	}

	if c.CachePath == "" {
		errorkeys = append(errorkeys, "cache.path")
	}
	if c.StatePath == "" {
		errorkeys = append(errorkeys, "state.path")
	}
	if c.DataPath == "" {
		errorkeys = append(errorkeys, "data.path")
	}

	// The exchange only matters once notifications are turned on.
	if c.NotifyEnabled() && c.AMQPExchangeName == "" {
		errorkeys = append(errorkeys, "amqp.exchange.name")
	}

	if len(errorkeys) > 0 {
		return errors.Errorf("Configuration keys must be set: %s", strings.Join(errorkeys, ", "))
	}
	return nil
}
