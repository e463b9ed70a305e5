package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const minimalYAML = `
symbols: [WDO, DOL]
feed:
  websocket_url: wss://feed.example.com/stream
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []string{"WDO", "DOL"}, cfg.Symbols)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2000, cfg.Buffers.TradeCapacity)
	assert.Equal(t, 500*time.Millisecond, cfg.Patterns.Cache.TTL)
	assert.Equal(t, 2.0, cfg.Patterns.Momentum.MinMovePoints)
	assert.Equal(t, 30*time.Second, cfg.Manipulation.SuppressFor)
	assert.True(t, cfg.Manipulation.BlockSignals)
	assert.True(t, cfg.Manipulation.CancelSetups)
	assert.Zero(t, cfg.CVD.PublishThreshold)
	assert.Equal(t, 25.0, cfg.Setups.Confluence.MinOpposition)
	assert.True(t, cfg.Position.TrailingEnabled)
	assert.Equal(t, 120*time.Second, cfg.Setups.TTL.ReversalSlow)
	assert.Equal(t, 3.0, cfg.Setups.Stops.ReversalSlow)
	assert.Equal(t, 6, cfg.Risk.MaxSignalsPerMinute)
	assert.Equal(t, 2, cfg.Position.BaseContracts)
	assert.True(t, cfg.Journal.File.Enabled)
	assert.False(t, cfg.Journal.Kafka.Enabled)
	assert.Equal(t, "tapeflow.journal", cfg.Journal.Kafka.Topic)
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
symbols: [WIN]
server:
  port: 9191
feed:
  websocket_url: wss://feed.example.com/stream
  max_events_per_sec: 250.5
cvd:
  publish_threshold: 120
setups:
  min_score: 0.7
  confluence:
    min_opposition: 40
`))
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 250.5, cfg.Feed.MaxEventsPerSec)
	assert.Equal(t, 120.0, cfg.CVD.PublishThreshold)
	assert.Equal(t, 0.7, cfg.Setups.MinScore)
	assert.Equal(t, 40.0, cfg.Setups.Confluence.MinOpposition)
}

func TestLoadRejectsMissingSymbols(t *testing.T) {
	_, err := Load(writeConfig(t, `
feed:
  websocket_url: wss://feed.example.com/stream
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate config")
}

func TestLoadRejectsMissingFeedURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
symbols: [WDO]
`))
	require.Error(t, err)
}

func TestLoadRejectsBaseContractsAboveMax(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
position:
  base_contracts: 6
  max_contracts: 5
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_contracts")
}

func TestLoadRejectsUnorderedVolatilityBounds(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
regime:
  vol_normal_max: 2.0
  vol_high_max: 1.5
  vol_extreme_max: 3.0
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "volatility bounds")
}

func TestLoadRejectsKafkaJournalWithoutBrokers(t *testing.T) {
	_, err := Load(writeConfig(t, minimalYAML+`
journal:
  kafka:
    enabled: true
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "brokers")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("TAPEFLOW_SYMBOLS", "WIN,IND")
	t.Setenv("TAPEFLOW_FEED_URL", "wss://other.example.com/stream")
	t.Setenv("TAPEFLOW_FEED_API_KEY", "secret")
	t.Setenv("TAPEFLOW_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("TAPEFLOW_REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"WIN", "IND"}, cfg.Symbols)
	assert.Equal(t, "wss://other.example.com/stream", cfg.Feed.WebSocketURL)
	assert.Equal(t, "secret", cfg.Feed.APIKey)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Journal.Kafka.Brokers)
	assert.Equal(t, "redis.internal:6379", cfg.Journal.Redis.Addr)
}
