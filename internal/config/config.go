// Package config provides typed, environment-overridable configuration
// for every tunable named in the trade feed's external interfaces:
// pool size, queue capacity, hash bucket count, DB batch size, multicast
// group/port, recovery endpoint, debug flag, and replay throttle.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every runtime tunable. Zero-value-sensible defaults come
// from Default(); each field can be overridden by a TRADEFEED_-prefixed
// environment variable.
type Config struct {
	PoolSize        int
	QueueCapacity   int
	HashBuckets     int
	DBBatchSize     int
	MulticastGroup  string // host:port, e.g. "239.255.0.1:30001"
	RecoveryAddr    string // host:port of the replay server's gap endpoint
	ReplayListenAddr string // host:port the replay server binds for recovery clients
	MetricsAddr     string // host:port for the Prometheus /metrics endpoint
	Debug           bool
	ReplayThrottle  int // microseconds between multicast sends, 0 = no throttle
	InjectGaps      bool
	MaxOrderBookLevels int
	TickSize        float64
	DatabaseURL     string
	AggregatorAddr  string // ZMQ PUB bind address, e.g. "tcp://*:5555"
}

// Default returns the reference design's suggested defaults.
func Default() Config {
	return Config{
		PoolSize:           1_000_000,
		QueueCapacity:       1 << 16,
		HashBuckets:         1 << 17,
		DBBatchSize:         1000,
		MulticastGroup:      "239.255.0.1:30001",
		RecoveryAddr:        "127.0.0.1:8080",
		ReplayListenAddr:    "0.0.0.0:8080",
		MetricsAddr:         ":9090",
		Debug:               true,
		ReplayThrottle:      0,
		InjectGaps:          false,
		MaxOrderBookLevels:  100_000,
		TickSize:            0.01,
		DatabaseURL:         "postgres://localhost:5432/tradefeed",
		AggregatorAddr:      "tcp://*:5555",
	}
}

// FromEnv starts from Default and applies any TRADEFEED_-prefixed
// environment variable overrides present in the process environment.
func FromEnv() (Config, error) {
	c := Default()

	if err := overrideInt(&c.PoolSize, "TRADEFEED_POOL_SIZE"); err != nil {
		return c, err
	}
	if err := overrideInt(&c.QueueCapacity, "TRADEFEED_QUEUE_CAPACITY"); err != nil {
		return c, err
	}
	if err := overrideInt(&c.HashBuckets, "TRADEFEED_HASH_BUCKETS"); err != nil {
		return c, err
	}
	if err := overrideInt(&c.DBBatchSize, "TRADEFEED_DB_BATCH_SIZE"); err != nil {
		return c, err
	}
	overrideString(&c.MulticastGroup, "TRADEFEED_MULTICAST_GROUP")
	overrideString(&c.RecoveryAddr, "TRADEFEED_RECOVERY_ADDR")
	overrideString(&c.ReplayListenAddr, "TRADEFEED_REPLAY_LISTEN_ADDR")
	overrideString(&c.MetricsAddr, "TRADEFEED_METRICS_ADDR")
	overrideString(&c.DatabaseURL, "TRADEFEED_DATABASE_URL")
	overrideString(&c.AggregatorAddr, "TRADEFEED_AGGREGATOR_ADDR")
	if err := overrideBool(&c.Debug, "TRADEFEED_DEBUG"); err != nil {
		return c, err
	}
	if err := overrideInt(&c.ReplayThrottle, "TRADEFEED_REPLAY_THROTTLE_US"); err != nil {
		return c, err
	}
	if err := overrideBool(&c.InjectGaps, "TRADEFEED_INJECT_GAPS"); err != nil {
		return c, err
	}
	if err := overrideInt(&c.MaxOrderBookLevels, "TRADEFEED_MAX_ORDER_BOOK_LEVELS"); err != nil {
		return c, err
	}
	if err := overrideFloat(&c.TickSize, "TRADEFEED_TICK_SIZE"); err != nil {
		return c, err
	}

	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Validate rejects configurations that would make a component's
// invariants unsatisfiable (e.g. a zero-capacity queue).
func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("config: pool size must be positive, got %d", c.PoolSize)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue capacity must be positive, got %d", c.QueueCapacity)
	}
	if c.DBBatchSize <= 0 {
		return fmt.Errorf("config: db batch size must be positive, got %d", c.DBBatchSize)
	}
	if c.MaxOrderBookLevels <= 0 {
		return fmt.Errorf("config: max order book levels must be positive, got %d", c.MaxOrderBookLevels)
	}
	if c.TickSize <= 0 {
		return fmt.Errorf("config: tick size must be positive, got %f", c.TickSize)
	}
	return nil
}

func overrideString(dst *string, env string) {
	if v, ok := os.LookupEnv(env); ok {
		*dst = v
	}
}

func overrideInt(dst *int, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", env, v, err)
	}
	*dst = n
	return nil
}

func overrideFloat(dst *float64, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", env, v, err)
	}
	*dst = f
	return nil
}

func overrideBool(dst *bool, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("config: %s=%q: %w", env, v, err)
	}
	*dst = b
	return nil
}
