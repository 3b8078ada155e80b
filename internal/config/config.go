package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the insight engine.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Logging      LoggingConfig      `yaml:"logging"`
	Capabilities CapabilitiesConfig `yaml:"capabilities"`
	Retrieval    RetrievalConfig    `yaml:"retrieval"`
	Translator   TranslatorConfig   `yaml:"translator"`
	Executor     ExecutorConfig     `yaml:"executor"`
	Detector     DetectorConfig     `yaml:"detector"`
	Aggregator   AggregatorConfig   `yaml:"aggregator"`
	Postgres     PostgresConfig     `yaml:"postgres"`
	Cache        CacheConfig        `yaml:"cache"`
	Alerts       AlertsConfig       `yaml:"alerts"`
}

// ServerConfig controls the gRPC, HTTP and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// CapabilitiesConfig selects the embedding and generation backends.
type CapabilitiesConfig struct {
	// Provider is one of gemini, ollama or hashing.
	Provider            string        `yaml:"provider"`
	APIKey              string        `yaml:"apiKey"`
	EmbeddingModel      string        `yaml:"embeddingModel"`
	GenerationModel     string        `yaml:"generationModel"`
	GenerationEnabled   bool          `yaml:"generationEnabled"`
	OllamaURL           string        `yaml:"ollamaURL"`
	Timeout             time.Duration `yaml:"timeout"`
	MaxConcurrent       int           `yaml:"maxConcurrent"`
	EmbeddingDimensions int           `yaml:"embeddingDimensions"`
}

// RetrievalConfig tunes semantic retrieval and the embedding cache.
type RetrievalConfig struct {
	K               int           `yaml:"k"`
	EmbeddingTTL    time.Duration `yaml:"embeddingTTL"`
	MemoryCacheSize int           `yaml:"memoryCacheSize"`
}

// TranslatorConfig holds the confidence weighting parameters.
type TranslatorConfig struct {
	RetrievalWeight    float64 `yaml:"retrievalWeight"`
	CertaintyWeight    float64 `yaml:"certaintyWeight"`
	RewritePenalty     float64 `yaml:"rewritePenalty"`
	HeuristicCertainty float64 `yaml:"heuristicCertainty"`
	LexiconPath        string  `yaml:"lexiconPath"`
}

// ExecutorConfig bounds structured query execution.
type ExecutorConfig struct {
	MaxRows int           `yaml:"maxRows"`
	Timeout time.Duration `yaml:"timeout"`
}

// DetectorConfig tunes rolling baselines.
type DetectorConfig struct {
	DefaultThreshold float64            `yaml:"defaultThreshold"`
	Thresholds       map[string]float64 `yaml:"thresholds"`
	WarmUp           int                `yaml:"warmUp"`
	// Mode is ewma or window.
	Mode            string  `yaml:"mode"`
	Alpha           float64 `yaml:"alpha"`
	Window          int     `yaml:"window"`
	CellDegrees     float64 `yaml:"cellDegrees"`
	DepthBandMeters float64 `yaml:"depthBandMeters"`
	MinStdDev       float64 `yaml:"minStdDev"`
	Workers         int     `yaml:"workers"`
}

// AggregatorConfig tunes event clustering.
type AggregatorConfig struct {
	Gap             time.Duration `yaml:"gap"`
	RadiusKm        float64       `yaml:"radiusKm"`
	MediumBreak     float64       `yaml:"mediumBreak"`
	HighBreak       float64       `yaml:"highBreak"`
	ConfidenceScale float64       `yaml:"confidenceScale"`
	SweepInterval   time.Duration `yaml:"sweepInterval"`
}

// PostgresConfig configures the relational store. An empty DSN keeps events
// and history in memory and disables query execution.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	EnsureSchema    bool          `yaml:"ensureSchema"`
}

// CacheConfig controls the Redis tier behind the in-process cache.
type CacheConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

// AlertsConfig controls AMQP fan-out of anomaly events.
type AlertsConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Queue   string `yaml:"queue"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ARGO_INSIGHT_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Capabilities: CapabilitiesConfig{
			Provider:            "hashing",
			EmbeddingModel:      "text-embedding-004",
			GenerationModel:     "gemini-1.5-flash",
			GenerationEnabled:   true,
			OllamaURL:           "http://localhost:11434",
			Timeout:             3 * time.Second,
			MaxConcurrent:       8,
			EmbeddingDimensions: 256,
		},
		Retrieval: RetrievalConfig{
			K:               6,
			EmbeddingTTL:    24 * time.Hour,
			MemoryCacheSize: 2048,
		},
		Translator: TranslatorConfig{
			RetrievalWeight:    0.5,
			CertaintyWeight:    0.5,
			RewritePenalty:     0.1,
			HeuristicCertainty: 0.6,
		},
		Executor: ExecutorConfig{MaxRows: 1000, Timeout: 15 * time.Second},
		Detector: DetectorConfig{
			DefaultThreshold: 2.5,
			Thresholds:       map[string]float64{},
			WarmUp:           30,
			Mode:             "ewma",
			Alpha:            0.05,
			Window:           90,
			CellDegrees:      1.0,
			DepthBandMeters:  100,
			MinStdDev:        0.01,
			Workers:          8,
		},
		Aggregator: AggregatorConfig{
			Gap:             72 * time.Hour,
			RadiusKm:        300,
			MediumBreak:     3,
			HighBreak:       5,
			ConfidenceScale: 5,
			SweepInterval:   time.Hour,
		},
		Postgres: PostgresConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			EnsureSchema:    true,
		},
		Cache: CacheConfig{DialTimeout: 2 * time.Second},
		Alerts: AlertsConfig{Queue: "argo.anomaly.events"},
	}
}

func (c Config) validate() error {
	switch c.Detector.Mode {
	case "ewma", "window":
	default:
		return fmt.Errorf("detector mode %q: want ewma or window", c.Detector.Mode)
	}
	switch strings.ToLower(c.Capabilities.Provider) {
	case "gemini", "ollama", "hashing":
	default:
		return fmt.Errorf("capability provider %q: want gemini, ollama or hashing", c.Capabilities.Provider)
	}
	if c.Detector.CellDegrees <= 0 {
		return fmt.Errorf("detector cellDegrees must be positive")
	}
	if c.Aggregator.Gap <= 0 || c.Aggregator.RadiusKm <= 0 {
		return fmt.Errorf("aggregator gap and radiusKm must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ARGO_INSIGHT_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ARGO_INSIGHT_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("ARGO_INSIGHT_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ARGO_INSIGHT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ARGO_INSIGHT_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ARGO_INSIGHT_CAPABILITY_PROVIDER"); v != "" {
		cfg.Capabilities.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("ARGO_INSIGHT_GEMINI_API_KEY"); v != "" {
		cfg.Capabilities.APIKey = v
	}
	if v := os.Getenv("ARGO_INSIGHT_OLLAMA_URL"); v != "" {
		cfg.Capabilities.OllamaURL = v
	}
	if v := os.Getenv("ARGO_INSIGHT_GENERATION_ENABLED"); v != "" {
		cfg.Capabilities.GenerationEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ARGO_INSIGHT_CAPABILITY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Capabilities.Timeout = d
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_CAPABILITY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Capabilities.MaxConcurrent = n
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_RETRIEVAL_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.K = n
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_LEXICON_PATH"); v != "" {
		cfg.Translator.LexiconPath = v
	}
	if v := os.Getenv("ARGO_INSIGHT_DETECTOR_MODE"); v != "" {
		cfg.Detector.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("ARGO_INSIGHT_DETECTOR_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.DefaultThreshold = f
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_DETECTOR_WARMUP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Detector.WarmUp = n
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_AGGREGATOR_GAP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Aggregator.Gap = d
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_AGGREGATOR_RADIUS_KM"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Aggregator.RadiusKm = f
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("ARGO_INSIGHT_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ARGO_INSIGHT_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("ARGO_INSIGHT_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ARGO_INSIGHT_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("ARGO_INSIGHT_ALERTS_ENABLED"); v != "" {
		cfg.Alerts.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("ARGO_INSIGHT_AMQP_URL"); v != "" {
		cfg.Alerts.URL = v
	}
	if v := os.Getenv("ARGO_INSIGHT_ALERTS_QUEUE"); v != "" {
		cfg.Alerts.Queue = v
	}
}

// ThresholdFor returns the configured z-score threshold for variable.
func (d DetectorConfig) ThresholdFor(variable string) float64 {
	if t, ok := d.Thresholds[variable]; ok && t > 0 {
		return t
	}
	if d.DefaultThreshold > 0 {
		return d.DefaultThreshold
	}
	return 2.5
}
