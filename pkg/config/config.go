package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Symbols []string `yaml:"symbols" validate:"required,min=1"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	Feed struct {
		WebSocketURL   string        `yaml:"websocket_url" validate:"required"`
		APIKey         string        `yaml:"api_key"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"20s"`
		StaleAfter     time.Duration `yaml:"stale_after" default:"10s"`
		// MaxEventsPerSec throttles ingest per symbol. Zero disables.
		MaxEventsPerSec float64 `yaml:"max_events_per_sec" default:"0"`
	} `yaml:"feed"`

	Buffers struct {
		TradeCapacity int `yaml:"trade_capacity" default:"2000" validate:"gt=0"`
		BookCapacity  int `yaml:"book_capacity" default:"200" validate:"gt=0"`
	} `yaml:"buffers"`

	CVD struct {
		HistorySize int `yaml:"history_size" default:"600" validate:"gt=1"`
		ROCLookback int `yaml:"roc_lookback" default:"20" validate:"gt=0"`
		// PublishThreshold gates delta update events on the bus: updates
		// go out when |roc| crosses it. Zero publishes every trade.
		PublishThreshold float64 `yaml:"publish_threshold" default:"0" validate:"gte=0"`
	} `yaml:"cvd"`

	Patterns struct {
		Cache struct {
			TTL     time.Duration `yaml:"ttl" default:"500ms"`
			MaxSize int           `yaml:"max_size" default:"4096" validate:"gt=0"`
		} `yaml:"cache"`
		Absorption struct {
			Window           time.Duration `yaml:"window" default:"30s"`
			MinVolume        float64       `yaml:"min_volume" default:"300"`
			MinConcentration float64       `yaml:"min_concentration" default:"0.4" validate:"gt=0,lte=1"`
			MaxPriceDrift    float64       `yaml:"max_price_drift" default:"1.0"`
		} `yaml:"absorption"`
		Iceberg struct {
			Window         time.Duration `yaml:"window" default:"60s"`
			MinRepetitions int           `yaml:"min_repetitions" default:"4" validate:"gt=1"`
			MinClipVolume  float64       `yaml:"min_clip_volume" default:"20"`
		} `yaml:"iceberg"`
		Pressure struct {
			Window    time.Duration `yaml:"window" default:"10s"`
			MinTrades int           `yaml:"min_trades" default:"10"`
			MinRatio  float64       `yaml:"min_ratio" default:"0.8" validate:"gt=0.5,lte=1"`
		} `yaml:"pressure"`
		VolumeSpike struct {
			BurstWindow     time.Duration `yaml:"burst_window" default:"2s"`
			BaselineWindow  time.Duration `yaml:"baseline_window" default:"60s"`
			SpikeMultiplier float64       `yaml:"spike_multiplier" default:"3.0" validate:"gt=1"`
		} `yaml:"volume_spike"`
		Momentum struct {
			Window        time.Duration `yaml:"window" default:"5s"`
			MinMovePoints float64       `yaml:"min_move_points" default:"2.0"`
			MinVolume     float64       `yaml:"min_volume" default:"100"`
		} `yaml:"momentum"`
		Divergence struct {
			Window           time.Duration `yaml:"window" default:"120s"`
			MinPriceMove     float64       `yaml:"min_price_move" default:"1.5"`
			MinCVDOpposition float64       `yaml:"min_cvd_opposition" default:"150"`
			ExtremeStrength  float64       `yaml:"extreme_strength" default:"0.85" validate:"gt=0,lte=1"`
		} `yaml:"divergence"`
	} `yaml:"patterns"`

	Regime struct {
		Window         time.Duration `yaml:"window" default:"300s"`
		MinSamples     int           `yaml:"min_samples" default:"30"`
		TrendSlopeMin  float64       `yaml:"trend_slope_min" default:"0.02"`
		VolNormalMax   float64       `yaml:"vol_normal_max" default:"0.6"`
		VolHighMax     float64       `yaml:"vol_high_max" default:"1.5"`
		VolExtremeMax  float64       `yaml:"vol_extreme_max" default:"3.0"`
		RecomputeEvery time.Duration `yaml:"recompute_every" default:"5s"`
	} `yaml:"regime"`

	Manipulation struct {
		Layering struct {
			MinLevels        int     `yaml:"min_levels" default:"4" validate:"gt=1"`
			UniformTolerance float64 `yaml:"uniform_tolerance" default:"0.1" validate:"gt=0"`
			MinLevelVolume   float64 `yaml:"min_level_volume" default:"50"`
		} `yaml:"layering"`
		Spoofing struct {
			LevelsToCheck  int     `yaml:"levels_to_check" default:"5" validate:"gt=0"`
			ImbalanceRatio float64 `yaml:"imbalance_ratio" default:"4.0" validate:"gt=1"`
		} `yaml:"spoofing"`
		// BlockSignals suppresses signal emission and setup creation on a
		// symbol while a finding is live.
		BlockSignals bool `yaml:"block_signals" default:"true"`
		// CancelSetups cancels in-flight setups when a finding lands.
		CancelSetups bool          `yaml:"cancel_setups" default:"true"`
		SuppressFor  time.Duration `yaml:"suppress_for" default:"30s"`
	} `yaml:"manipulation"`

	Setups struct {
		SweepInterval time.Duration `yaml:"sweep_interval" default:"500ms"`
		TTL           struct {
			ReversalSlow      time.Duration `yaml:"reversal_slow" default:"120s"`
			ReversalViolent   time.Duration `yaml:"reversal_violent" default:"15s"`
			BreakoutIgnition  time.Duration `yaml:"breakout_ignition" default:"30s"`
			PullbackRejection time.Duration `yaml:"pullback_rejection" default:"60s"`
			Divergence        time.Duration `yaml:"divergence_setup" default:"90s"`
		} `yaml:"ttl"`
		Stops struct {
			ReversalSlow      float64 `yaml:"reversal_slow" default:"3.0"`
			ReversalViolent   float64 `yaml:"reversal_violent" default:"2.0"`
			BreakoutIgnition  float64 `yaml:"breakout_ignition" default:"2.0"`
			PullbackRejection float64 `yaml:"pullback_rejection" default:"2.5"`
			Divergence        float64 `yaml:"divergence_setup" default:"3.0"`
		} `yaml:"stops"`
		Confluence struct {
			Enabled    bool          `yaml:"enabled" default:"true"`
			MaxCVDAge  time.Duration `yaml:"max_cvd_age" default:"10s"`
			RetryAfter time.Duration `yaml:"retry_after" default:"2s"`
			// MinOpposition is how far the peer delta must lean against a
			// setup before the trigger is blocked.
			MinOpposition float64 `yaml:"min_opposition" default:"25" validate:"gte=0"`
		} `yaml:"confluence"`
		ViolentChainWindow time.Duration `yaml:"violent_chain_window" default:"5s"`
		IgnitionWindow     time.Duration `yaml:"ignition_window" default:"1s"`
		CVDReversalWindow  time.Duration `yaml:"cvd_reversal_window" default:"120s"`
		PullbackWindow     time.Duration `yaml:"pullback_window" default:"60s"`
		MinScore           float64       `yaml:"min_score" default:"0.5" validate:"gte=0,lte=1"`
	} `yaml:"setups"`

	Risk struct {
		MaxSignalsPerMinute  int           `yaml:"max_signals_per_minute" default:"6" validate:"gt=0"`
		MaxSignalsPerHour    int           `yaml:"max_signals_per_hour" default:"60" validate:"gt=0"`
		MinQuality           float64       `yaml:"min_quality" default:"0.55" validate:"gte=0,lte=1"`
		ConsecutiveLossLimit int           `yaml:"consecutive_loss_limit" default:"3" validate:"gt=0"`
		DrawdownLimit        float64       `yaml:"drawdown_limit" default:"500"`
		BreakerCooldown      time.Duration `yaml:"breaker_cooldown" default:"300s"`
	} `yaml:"risk"`

	Position struct {
		MaxPositions          int                `yaml:"max_positions" default:"2" validate:"gt=0"`
		BaseContracts         int                `yaml:"base_contracts" default:"2" validate:"gt=0"`
		MaxContracts          int                `yaml:"max_contracts" default:"5" validate:"gt=0"`
		TrailingEnabled       bool               `yaml:"trailing_stop_enabled" default:"true"`
		TrailingStartPoints   float64            `yaml:"trailing_start_points" default:"3.0"`
		TrailingDistance      float64            `yaml:"trailing_distance" default:"2.0"`
		EmergencyRiskCap      float64            `yaml:"emergency_risk_cap" default:"1000"`
		VolatilityAdjustments map[string]float64 `yaml:"volatility_adjustments"`
	} `yaml:"position"`

	Bus struct {
		QueueCapacity int `yaml:"queue_capacity" default:"1024" validate:"gt=0"`
	} `yaml:"bus"`

	Journal struct {
		QueueCapacity int `yaml:"queue_capacity" default:"4096" validate:"gt=0"`
		File          struct {
			Enabled bool   `yaml:"enabled" default:"true"`
			Path    string `yaml:"path" default:"journal.ndjson"`
		} `yaml:"file"`
		Kafka struct {
			Enabled      bool          `yaml:"enabled" default:"false"`
			Brokers      []string      `yaml:"brokers"`
			Topic        string        `yaml:"topic" default:"tapeflow.journal"`
			RequiredAcks int           `yaml:"required_acks" default:"1"`
			Compression  string        `yaml:"compression" default:"snappy"`
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"50ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"200"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			Async        bool          `yaml:"async" default:"true"`
		} `yaml:"kafka"`
		ClickHouse struct {
			Enabled      bool          `yaml:"enabled" default:"false"`
			Host         string        `yaml:"host" default:"localhost"`
			Port         int           `yaml:"port" default:"9000"`
			Database     string        `yaml:"database" default:"tapeflow"`
			User         string        `yaml:"user" default:"default"`
			Password     string        `yaml:"password"`
			Table        string        `yaml:"table" default:"journal"`
			AsyncInsert  bool          `yaml:"async_insert" default:"true"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			BatchTimeout time.Duration `yaml:"batch_timeout" default:"2s"`
			DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		} `yaml:"clickhouse"`
		Redis struct {
			Enabled  bool   `yaml:"enabled" default:"false"`
			Addr     string `yaml:"addr" default:"localhost:6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db" default:"0"`
			Stream   string `yaml:"stream" default:"tapeflow:journal"`
			MaxLen   int64  `yaml:"max_len" default:"100000"`
		} `yaml:"redis"`
	} `yaml:"journal"`
}

var validate = validator.New()

// Load reads and parses a YAML configuration file, fills defaults and
// validates required fields.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply config defaults: %w", err)
	}

	if err := validate.Struct(&c); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if err := c.check(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TAPEFLOW_SYMBOLS"); v != "" {
		c.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("TAPEFLOW_FEED_URL"); v != "" {
		c.Feed.WebSocketURL = v
	}
	if v := os.Getenv("TAPEFLOW_FEED_API_KEY"); v != "" {
		c.Feed.APIKey = v
	}
	if v := os.Getenv("TAPEFLOW_KAFKA_BROKERS"); v != "" {
		c.Journal.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("TAPEFLOW_REDIS_ADDR"); v != "" {
		c.Journal.Redis.Addr = v
	}

	return c, nil
}

// check covers cross-field rules the tag validators cannot express.
func (c *Config) check() error {
	if c.Position.BaseContracts > c.Position.MaxContracts {
		return fmt.Errorf("position.base_contracts (%d) exceeds position.max_contracts (%d)",
			c.Position.BaseContracts, c.Position.MaxContracts)
	}
	if c.Regime.VolNormalMax >= c.Regime.VolHighMax || c.Regime.VolHighMax >= c.Regime.VolExtremeMax {
		return fmt.Errorf("regime volatility bounds must be strictly increasing")
	}
	if c.CVD.ROCLookback >= c.CVD.HistorySize {
		return fmt.Errorf("cvd.roc_lookback (%d) must be below cvd.history_size (%d)",
			c.CVD.ROCLookback, c.CVD.HistorySize)
	}
	if c.Journal.Kafka.Enabled && len(c.Journal.Kafka.Brokers) == 0 {
		return fmt.Errorf("journal.kafka.brokers cannot be empty when kafka journal is enabled")
	}
	return nil
}
