// Package config loads the exchange configuration from an optional
// config file plus MATCHBOOK_-prefixed environment variables, with
// sane defaults for a single-node deployment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Kafka struct {
	Enabled    bool     `mapstructure:"enabled"`
	Brokers    []string `mapstructure:"brokers"`
	FeedTopic  string   `mapstructure:"feed_topic"`
	TradeTopic string   `mapstructure:"trade_topic"`
}

type Config struct {
	ListenAddr      string   `mapstructure:"listen_addr"`
	Instruments     []string `mapstructure:"instruments"`
	RejectSelfTrade bool     `mapstructure:"reject_self_trade"`
	QueueDepth      int      `mapstructure:"queue_depth"`
	EventBuffer     int      `mapstructure:"event_buffer"`

	DataDir         string        `mapstructure:"data_dir"`
	SegmentSize     uint64        `mapstructure:"wal_segment_size"`
	SegmentDuration time.Duration `mapstructure:"wal_segment_duration"`
	SyncInterval    time.Duration `mapstructure:"wal_sync_interval"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	StoreEnabled    bool          `mapstructure:"store_enabled"`

	Kafka Kafka `mapstructure:"kafka"`
}

func (c *Config) WALDir() string      { return c.DataDir + "/wal" }
func (c *Config) SnapshotDir() string { return c.DataDir + "/snapshots" }
func (c *Config) StoreDir() string    { return c.DataDir + "/store" }

// Load reads config.yaml from dir (when present), then applies
// environment overrides.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath(".")

	v.SetDefault("listen_addr", ":7400")
	v.SetDefault("instruments", []string{"AAPL"})
	v.SetDefault("reject_self_trade", false)
	v.SetDefault("queue_depth", 256)
	v.SetDefault("event_buffer", 64)
	v.SetDefault("data_dir", "./data")
	v.SetDefault("wal_segment_size", uint64(8<<20))
	v.SetDefault("wal_segment_duration", time.Hour)
	v.SetDefault("wal_sync_interval", 200*time.Millisecond)
	v.SetDefault("tick_interval", time.Second)
	v.SetDefault("store_enabled", true)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.feed_topic", "matchbook.ticks")
	v.SetDefault("kafka.trade_topic", "matchbook.trades")

	v.SetEnvPrefix("MATCHBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("config: at least one instrument is required")
	}
	seen := map[string]bool{}
	for _, sym := range c.Instruments {
		if sym == "" {
			return fmt.Errorf("config: empty instrument symbol")
		}
		if seen[sym] {
			return fmt.Errorf("config: duplicate instrument %q", sym)
		}
		seen[sym] = true
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("config: kafka enabled with no brokers")
	}
	return nil
}
