// Package librd implements the group.BrokerClient contract against
// confluent-kafka-go/librdkafka: the low-level consumer that exposes
// Subscribe/Assign/Unassign/Poll/OffsetsForTimes directly, rather than a
// high-level group wrapper that would hide the rebalance mechanics this
// host needs to drive itself.
package librd

import (
	"time"

	librdKafka "github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/google/uuid"
)

// Config configures the confluent-kafka-go consumer underneath the
// adaptor. BootstrapServers and GroupID are required; everything else
// defaults to values grounded on the pack's own librdkafka usage.
type Config struct {
	BootstrapServers []string
	GroupID          string

	SessionTimeout   time.Duration
	MetadataTimeout  time.Duration
	AutoOffsetReset  string // "earliest" or "latest"; applies only when no commit and no INVALID-seek fallback exists

	// ClientID identifies this consumer instance in broker-side logs and
	// metrics. Left empty, a random one is generated so two instances of
	// the same group never collide.
	ClientID string

	// Extra lets a deployment poke additional librdkafka keys the core
	// doesn't otherwise expose, without this adaptor growing a field per
	// tunable.
	Extra map[string]interface{}
}

func (c Config) toLibrdConfigMap() (*librdKafka.ConfigMap, error) {
	sessionTimeout := c.SessionTimeout
	if sessionTimeout <= 0 {
		sessionTimeout = 6 * time.Second
	}
	autoOffsetReset := c.AutoOffsetReset
	if autoOffsetReset == "" {
		autoOffsetReset = "earliest"
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = uuid.New().String()
	}

	cm := &librdKafka.ConfigMap{
		"bootstrap.servers":              joinServers(c.BootstrapServers),
		"group.id":                       c.GroupID,
		"client.id":                      clientID,
		"session.timeout.ms":             int(sessionTimeout.Milliseconds()),
		"partition.assignment.strategy":  "cooperative-sticky",
		"auto.offset.reset":              autoOffsetReset,
		"enable.partition.eof":           true,
		"go.application.rebalance.enable": true,
		"go.events.channel.enable":       false,
		"go.logs.channel.enable":         true,
		"log_level":                      7,
	}

	for k, v := range c.Extra {
		if err := cm.SetKey(k, v); err != nil {
			return nil, err
		}
	}

	return cm, nil
}

func joinServers(servers []string) string {
	out := ""
	for i, s := range servers {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
