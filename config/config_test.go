package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, ":7400", cfg.ListenAddr)
	require.Equal(t, []string{"AAPL"}, cfg.Instruments)
	require.False(t, cfg.RejectSelfTrade)
	require.Equal(t, uint64(8<<20), cfg.SegmentSize)
	require.False(t, cfg.Kafka.Enabled)
	require.Equal(t, "./data/wal", cfg.WALDir())
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
listen_addr: ":9000"
instruments: [AAPL, MSFT]
reject_self_trade: true
wal_sync_interval: 50ms
kafka:
  enabled: true
  brokers: [broker1:9092]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.ListenAddr)
	require.Equal(t, []string{"AAPL", "MSFT"}, cfg.Instruments)
	require.True(t, cfg.RejectSelfTrade)
	require.Equal(t, 50*time.Millisecond, cfg.SyncInterval)
	require.True(t, cfg.Kafka.Enabled)
	require.Equal(t, []string{"broker1:9092"}, cfg.Kafka.Brokers)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			ListenAddr:  ":7400",
			Instruments: []string{"AAPL"},
			DataDir:     "./data",
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.Instruments = nil
	require.Error(t, c.Validate())

	c = base()
	c.Instruments = []string{"AAPL", "AAPL"}
	require.Error(t, c.Validate())

	c = base()
	c.Kafka.Enabled = true
	require.Error(t, c.Validate())
}
