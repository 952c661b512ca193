package kafka

import (
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

type Driver string

const (
	DriverNone  Driver = "none"
	DriverKafka Driver = "kafka"
)

// InvalidationConfig selects and configures the journey change channel.
type InvalidationConfig struct {
	Enabled bool
	Driver  Driver

	Brokers []string
	Topic   string
	GroupID string

	SessionTimeout   time.Duration
	Heartbeat        time.Duration
	RebalanceTimeout time.Duration
	// InitialOldest replays the retained topic when the group has no
	// committed offset.
	InitialOldest bool
}

// Active reports whether events should be published and consumed.
func (c InvalidationConfig) Active() bool {
	return c.Enabled && c.Driver == DriverKafka
}

func (c InvalidationConfig) base() *sarama.Config {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	if c.GroupID != "" {
		sc.ClientID = c.GroupID
	}
	return sc
}

func (c InvalidationConfig) consumerConfig() *sarama.Config {
	sc := c.base()
	sc.Consumer.Group.Session.Timeout = c.SessionTimeout
	sc.Consumer.Group.Heartbeat.Interval = c.Heartbeat
	sc.Consumer.Group.Rebalance.Timeout = c.RebalanceTimeout
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	if c.InitialOldest {
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	sc.Consumer.Return.Errors = true
	return sc
}

func (c InvalidationConfig) producerConfig() *sarama.Config {
	sc := c.base()
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Return.Successes = true
	sc.Producer.Retry.Max = 3
	// key by journey id so one journey's events stay ordered
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	return sc
}

// FromEnv reads INVALIDATION_* and KAFKA_* variables.
func FromEnv() InvalidationConfig {
	return InvalidationConfig{
		Enabled:          envFlag("INVALIDATION_ENABLED"),
		Driver:           Driver(envOr("INVALIDATION_DRIVER", string(DriverNone))),
		Brokers:          split(envOr("KAFKA_BROKERS", "localhost:9092")),
		Topic:            envOr("KAFKA_TOPIC", "journey-changes"),
		GroupID:          envOr("KAFKA_GROUP_ID", "fogmap-area"),
		SessionTimeout:   envDuration("KAFKA_SESSION_TIMEOUT", 30*time.Second),
		Heartbeat:        envDuration("KAFKA_HEARTBEAT", 3*time.Second),
		RebalanceTimeout: envDuration("KAFKA_REBALANCE_TIMEOUT", 30*time.Second),
		// a new replica has an empty local tier, so history is not needed
		InitialOldest: envFlag("KAFKA_INITIAL_OLDEST"),
	}
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envFlag(k string) bool { return strings.EqualFold(strings.TrimSpace(os.Getenv(k)), "true") }

func envDuration(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(strings.TrimSpace(os.Getenv(k))); err == nil && d > 0 {
		return d
	}
	return def
}

func split(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}
