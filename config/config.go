// Package config loads the application host's configuration from
// environment variables using a plain struct with defaults, rather
// than a reflection-based loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gmbyapa/grouphost/pkg/errors"
)

// DefaultPrefix is the environment-variable prefix Load uses when none
// is given.
const DefaultPrefix = "GROUPHOST_"

// Config is the recognized configuration surface: bootstrap endpoints,
// group identity, and the poll-loop/queue tunables. Anything else under
// the prefix is opaque per-processor configuration, collected separately.
type Config struct {
	KafkaBootstrapEndpoints []string
	ConsumerGroupId         string

	PollingInterval            time.Duration
	UpdateSubscriptionInterval time.Duration
	MaxBatchSize               int
	MaxProcessorQueueSize      int

	GracefulDrainTimeout time.Duration

	AdminListenAddr string
}

// NewConfig returns a Config with conservative defaults for the
// tunables shared with the broker consumer configuration.
func NewConfig() *Config {
	return &Config{
		PollingInterval:            100 * time.Millisecond,
		UpdateSubscriptionInterval: 30 * time.Second,
		MaxBatchSize:               500,
		MaxProcessorQueueSize:      1000,
		GracefulDrainTimeout:       30 * time.Second,
		AdminListenAddr:            ":8080",
	}
}

// Load reads recognized keys from the environment under prefix
// (DefaultPrefix if empty), collects everything else under the prefix
// into a per-processor config map, and validates the result.
func Load(appName, prefix string) (*Config, string, map[string]string, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}

	cfg := NewConfig()
	procConf := make(map[string]string)

	recognized := map[string]func(string) error{
		"KAFKA_BOOTSTRAP_ENDPOINTS": func(v string) error {
			cfg.KafkaBootstrapEndpoints = splitEndpoints(v)
			return nil
		},
		"CONSUMER_GROUP_ID": func(v string) error {
			cfg.ConsumerGroupId = v
			return nil
		},
		"POLLING_INTERVAL": durationSetter(&cfg.PollingInterval),
		"UPDATE_SUBSCRIPTION_INTERVAL": durationSetter(&cfg.UpdateSubscriptionInterval),
		"MAX_BATCH_SIZE":               intSetter(&cfg.MaxBatchSize),
		"MAX_PROCESSOR_QUEUE_SIZE":     intSetter(&cfg.MaxProcessorQueueSize),
		"GRACEFUL_DRAIN_TIMEOUT":       durationSetter(&cfg.GracefulDrainTimeout),
		"ADMIN_LISTEN_ADDR": func(v string) error {
			cfg.AdminListenAddr = v
			return nil
		},
	}

	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		key := strings.TrimPrefix(k, prefix)

		if setter, ok := recognized[key]; ok {
			if err := setter(v); err != nil {
				return nil, "", nil, errors.Wrap(err, fmt.Sprintf("invalid value for %s", k))
			}
			continue
		}
		procConf[key] = v
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	if cfg.ConsumerGroupId == "" {
		cfg.ConsumerGroupId = fmt.Sprintf("%s@%s", appName, hostname)
	}

	if err := cfg.validate(); err != nil {
		return nil, "", nil, err
	}

	return cfg, cfg.ConsumerGroupId, procConf, nil
}

func (c *Config) validate() error {
	if len(c.KafkaBootstrapEndpoints) == 0 {
		return errors.New("KafkaBootstrapEndpoints must not be empty")
	}
	if c.PollingInterval <= 0 {
		return errors.New("PollingInterval must be positive")
	}
	if c.UpdateSubscriptionInterval <= 0 {
		return errors.New("UpdateSubscriptionInterval must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return errors.New("MaxBatchSize must be positive")
	}
	if c.MaxProcessorQueueSize <= 0 {
		return errors.New("MaxProcessorQueueSize must be positive")
	}
	if c.GracefulDrainTimeout <= 0 {
		return errors.New("GracefulDrainTimeout must be positive")
	}
	return nil
}

func splitEndpoints(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func durationSetter(dst *time.Duration) func(string) error {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func intSetter(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}
