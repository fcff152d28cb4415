package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultHost                = "0.0.0.0"
	DefaultPort                = 18690
	DefaultBufSize             = 100
	DefaultWorkers             = 8
	DefaultEventTimeoutSec     = 120
	DefaultProviderTimeoutSec  = 15
	DefaultMediaTimeoutSec     = 30
	DefaultOpenAIModel         = "gpt-4o-mini"
	DefaultGeminiModel         = "gemini-2.0-flash"
	DefaultThreshold           = 0.15
	DefaultEpsilon             = 0.05
	DefaultLearnMinConfidence  = 0.8
	DefaultMaxAdjustment       = 0.25
	DefaultPersistEvery        = 20
	DefaultRatePerSecond       = 10.0
	DefaultBurstCapacity       = 20
	DefaultFailureThreshold    = 5
	DefaultOpenTimeoutSec      = 30
	DefaultSuccessThreshold    = 2
	DefaultHalfOpenMaxCalls    = 3
	DefaultBatchSize           = 10
	DefaultBatchWindowMs       = 2000
	DefaultRecencyWindowMin    = 60
	DefaultMatchPolicy         = "fuzzy"
	DefaultMatchThreshold      = 0.87
	DefaultRetryMaxElapsedSec  = 20
	DefaultPatternFlushExpr    = "0 */5 * * * *"
	DefaultPatternDecayExpr    = "0 0 3 * * *"
)

type Config struct {
	Gateway    GatewayConfig    `json:"gateway"`
	Provider   ProvidersConfig  `json:"provider"`
	Classifier ClassifierConfig `json:"classifier"`
	Media      MediaConfig      `json:"media"`
	RateLimit  RateLimitConfig  `json:"rateLimit"`
	Breaker    BreakerConfig    `json:"breaker"`
	Batch      BatchConfig      `json:"batch"`
	Tracker    TrackerConfig    `json:"tracker"`
	Channels   ChannelsConfig   `json:"channels"`
}

type GatewayConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Workers         int    `json:"workers"`
	BufSize         int    `json:"bufSize"`
	EventTimeoutSec int    `json:"eventTimeoutSec"`
}

// ProviderConfig describes one AI provider endpoint.
type ProviderConfig struct {
	Type       string `json:"type"` // "openai" or "gemini"
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl,omitempty"`
	Model      string `json:"model,omitempty"`
	Project    string `json:"project,omitempty"`  // gemini only
	Location   string `json:"location,omitempty"` // gemini only
	TimeoutSec int    `json:"timeoutSec"`
}

type ProvidersConfig struct {
	Primary  ProviderConfig `json:"primary"`
	Fallback ProviderConfig `json:"fallback"`
}

type ClassifierConfig struct {
	Threshold          float64 `json:"threshold"`
	Epsilon            float64 `json:"epsilon"`
	LearnMinConfidence float64 `json:"learnMinConfidence"`
	MaxAdjustment      float64 `json:"maxAdjustment"`
	PersistEvery       int     `json:"persistEvery"`
	DBPath             string  `json:"dbPath,omitempty"`
	TermsDir           string  `json:"termsDir,omitempty"`
	FlushExpr          string  `json:"flushExpr,omitempty"`
	DecayExpr          string  `json:"decayExpr,omitempty"`
}

type MediaConfig struct {
	Enabled      bool   `json:"enabled"`
	PublishURL   string `json:"publishUrl,omitempty"`
	ResultsWSURL string `json:"resultsWsUrl,omitempty"`
	TimeoutSec   int    `json:"timeoutSec"`
}

type RateLimitConfig struct {
	RatePerSecond float64 `json:"ratePerSecond"`
	Burst         int     `json:"burst"`
}

type BreakerConfig struct {
	FailureThreshold int `json:"failureThreshold"`
	OpenTimeoutSec   int `json:"openTimeoutSec"`
	SuccessThreshold int `json:"successThreshold"`
	HalfOpenMaxCalls int `json:"halfOpenMaxCalls"`
}

type BatchConfig struct {
	Enabled  bool `json:"enabled"`
	Size     int  `json:"size"`
	WindowMs int  `json:"windowMs"`
}

type TrackerConfig struct {
	BaseURL          string   `json:"baseUrl"`
	Token            string   `json:"token"`
	ListID           string   `json:"listId"`
	DefaultStatus    string   `json:"defaultStatus,omitempty"`
	StatusVocabulary []string `json:"statusVocabulary,omitempty"`
	RecencyWindowMin int      `json:"recencyWindowMin"`
	MatchPolicy      string   `json:"matchPolicy"` // "exact" or "fuzzy"
	MatchThreshold   float64  `json:"matchThreshold"`
	RetryMaxElapsed  int      `json:"retryMaxElapsedSec"`
}

type ChannelsConfig struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`
}

type WebhookConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port,omitempty"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			Workers:         DefaultWorkers,
			BufSize:         DefaultBufSize,
			EventTimeoutSec: DefaultEventTimeoutSec,
		},
		Provider: ProvidersConfig{
			Primary:  ProviderConfig{Type: "openai", Model: DefaultOpenAIModel, TimeoutSec: DefaultProviderTimeoutSec},
			Fallback: ProviderConfig{Type: "gemini", Model: DefaultGeminiModel, TimeoutSec: DefaultProviderTimeoutSec},
		},
		Classifier: ClassifierConfig{
			Threshold:          DefaultThreshold,
			Epsilon:            DefaultEpsilon,
			LearnMinConfidence: DefaultLearnMinConfidence,
			MaxAdjustment:      DefaultMaxAdjustment,
			PersistEvery:       DefaultPersistEvery,
			DBPath:             filepath.Join(ConfigDir(), "data", "patterns.db"),
			FlushExpr:          DefaultPatternFlushExpr,
			DecayExpr:          DefaultPatternDecayExpr,
		},
		Media: MediaConfig{
			TimeoutSec: DefaultMediaTimeoutSec,
		},
		RateLimit: RateLimitConfig{
			RatePerSecond: DefaultRatePerSecond,
			Burst:         DefaultBurstCapacity,
		},
		Breaker: BreakerConfig{
			FailureThreshold: DefaultFailureThreshold,
			OpenTimeoutSec:   DefaultOpenTimeoutSec,
			SuccessThreshold: DefaultSuccessThreshold,
			HalfOpenMaxCalls: DefaultHalfOpenMaxCalls,
		},
		Batch: BatchConfig{
			Enabled:  false,
			Size:     DefaultBatchSize,
			WindowMs: DefaultBatchWindowMs,
		},
		Tracker: TrackerConfig{
			DefaultStatus:    "pendente",
			RecencyWindowMin: DefaultRecencyWindowMin,
			MatchPolicy:      DefaultMatchPolicy,
			MatchThreshold:   DefaultMatchThreshold,
			RetryMaxElapsed:  DefaultRetryMaxElapsedSec,
		},
		Channels: ChannelsConfig{
			Webhook: WebhookConfig{Enabled: true},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".taskbridge")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	return LoadConfigFrom(ConfigPath())
}

func LoadConfigFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("TASKBRIDGE_OPENAI_API_KEY"); key != "" {
		applyKeyByType(cfg, "openai", key)
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		applyKeyByType(cfg, "openai", key)
	}
	if key := os.Getenv("TASKBRIDGE_GEMINI_API_KEY"); key != "" {
		applyKeyByType(cfg, "gemini", key)
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		applyKeyByType(cfg, "gemini", key)
	}
	if token := os.Getenv("TASKBRIDGE_TRACKER_TOKEN"); token != "" {
		cfg.Tracker.Token = token
	}
	if url := os.Getenv("TASKBRIDGE_TRACKER_BASE_URL"); url != "" {
		cfg.Tracker.BaseURL = url
	}
	if listID := os.Getenv("TASKBRIDGE_TRACKER_LIST_ID"); listID != "" {
		cfg.Tracker.ListID = listID
	}
	if token := os.Getenv("TASKBRIDGE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if port := os.Getenv("TASKBRIDGE_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
	if dbPath := os.Getenv("TASKBRIDGE_PATTERN_DB"); dbPath != "" {
		cfg.Classifier.DBPath = dbPath
	}

	applyFloors(cfg)
	return cfg, nil
}

// applyKeyByType sets an API key on whichever provider slot has the given type,
// without overriding a key set in the config file.
func applyKeyByType(cfg *Config, typ, key string) {
	if cfg.Provider.Primary.Type == typ && cfg.Provider.Primary.APIKey == "" {
		cfg.Provider.Primary.APIKey = key
	}
	if cfg.Provider.Fallback.Type == typ && cfg.Provider.Fallback.APIKey == "" {
		cfg.Provider.Fallback.APIKey = key
	}
}

func applyFloors(cfg *Config) {
	if cfg.Gateway.Workers <= 0 {
		cfg.Gateway.Workers = DefaultWorkers
	}
	if cfg.Gateway.BufSize <= 0 {
		cfg.Gateway.BufSize = DefaultBufSize
	}
	if cfg.Gateway.EventTimeoutSec <= 0 {
		cfg.Gateway.EventTimeoutSec = DefaultEventTimeoutSec
	}
	if cfg.Provider.Primary.TimeoutSec <= 0 {
		cfg.Provider.Primary.TimeoutSec = DefaultProviderTimeoutSec
	}
	if cfg.Provider.Fallback.TimeoutSec <= 0 {
		cfg.Provider.Fallback.TimeoutSec = DefaultProviderTimeoutSec
	}
	if cfg.Media.TimeoutSec <= 0 {
		cfg.Media.TimeoutSec = DefaultMediaTimeoutSec
	}
	if cfg.Classifier.Threshold <= 0 {
		cfg.Classifier.Threshold = DefaultThreshold
	}
	if cfg.Classifier.Epsilon <= 0 {
		cfg.Classifier.Epsilon = DefaultEpsilon
	}
	if cfg.Classifier.LearnMinConfidence <= 0 {
		cfg.Classifier.LearnMinConfidence = DefaultLearnMinConfidence
	}
	if cfg.Classifier.MaxAdjustment <= 0 {
		cfg.Classifier.MaxAdjustment = DefaultMaxAdjustment
	}
	if cfg.Classifier.PersistEvery <= 0 {
		cfg.Classifier.PersistEvery = DefaultPersistEvery
	}
	if cfg.RateLimit.RatePerSecond <= 0 {
		cfg.RateLimit.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = DefaultBurstCapacity
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		cfg.Breaker.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.Breaker.OpenTimeoutSec <= 0 {
		cfg.Breaker.OpenTimeoutSec = DefaultOpenTimeoutSec
	}
	if cfg.Breaker.SuccessThreshold <= 0 {
		cfg.Breaker.SuccessThreshold = DefaultSuccessThreshold
	}
	if cfg.Breaker.HalfOpenMaxCalls <= 0 {
		cfg.Breaker.HalfOpenMaxCalls = DefaultHalfOpenMaxCalls
	}
	if cfg.Batch.Size <= 0 {
		cfg.Batch.Size = DefaultBatchSize
	}
	if cfg.Batch.WindowMs <= 0 {
		cfg.Batch.WindowMs = DefaultBatchWindowMs
	}
	if cfg.Tracker.RecencyWindowMin <= 0 {
		cfg.Tracker.RecencyWindowMin = DefaultRecencyWindowMin
	}
	if cfg.Tracker.MatchPolicy == "" {
		cfg.Tracker.MatchPolicy = DefaultMatchPolicy
	}
	if cfg.Tracker.MatchThreshold <= 0 {
		cfg.Tracker.MatchThreshold = DefaultMatchThreshold
	}
	if cfg.Tracker.RetryMaxElapsed <= 0 {
		cfg.Tracker.RetryMaxElapsed = DefaultRetryMaxElapsedSec
	}
	if cfg.Classifier.DBPath == "" {
		cfg.Classifier.DBPath = DefaultConfig().Classifier.DBPath
	}
	if cfg.Classifier.FlushExpr == "" {
		cfg.Classifier.FlushExpr = DefaultPatternFlushExpr
	}
	if cfg.Classifier.DecayExpr == "" {
		cfg.Classifier.DecayExpr = DefaultPatternDecayExpr
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
