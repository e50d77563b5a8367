package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAgentName      = "Hana"
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 500
	DefaultProviderTimout = 30
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18791
	DefaultBufSize        = 100

	ExperimentProactive = "proactive"
	ExperimentReactive  = "reactive"

	MemoryBackendSQLite = "sqlite"
	MemoryBackendBadger = "badger"

	DefaultShortTermSize        = 20
	DefaultLongTermSize         = 50
	DefaultThoughtReservoirSize = 10

	DefaultMotivationThreshold         = 3.5
	DefaultSilenceTimeoutSec           = 3600
	DefaultThoughtIntervalSec          = 300
	DefaultMinInterventionSec          = 60
	DefaultMaxConsecutive              = 2
	DefaultProactiveCycleSec           = 30
	DefaultUserTimeoutSec              = 90
	DefaultInfoCycleSec                = 1800
	DefaultSearchIntervalSec           = 7200
	DefaultShareThreshold              = 4.0
	DefaultMaxDailyShares              = 3
	DefaultSearchCount                 = 5
	DefaultSearchLanguage              = "en"
	DefaultSearchFreshness             = "pw"
	DefaultLogLevel                    = "info"
	envPrefix                          = "MYFRIEND"
	configDirName                      = ".myfriend"
	defaultConfigFileName              = "config.json"
	configPathEnv                      = "MYFRIEND_CONFIG"
	maxMotivationScore         float64 = 5
)

type Config struct {
	Agent       AgentConfig       `json:"agent" yaml:"agent"`
	Provider    ProviderConfig    `json:"provider" yaml:"provider"`
	Channels    ChannelsConfig    `json:"channels" yaml:"channels"`
	Gateway     GatewayConfig     `json:"gateway" yaml:"gateway"`
	Memory      MemoryConfig      `json:"memory" yaml:"memory"`
	Proactive   ProactiveConfig   `json:"proactive" yaml:"proactive"`
	Information InformationConfig `json:"information" yaml:"information"`
	Search      SearchConfig      `json:"search" yaml:"search"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
}

type AgentConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	Model      string `json:"model" yaml:"model"`
	MaxTokens  int    `json:"maxTokens" yaml:"maxTokens"`
	Experiment string `json:"experiment" yaml:"experiment"`
}

type ProviderConfig struct {
	Type       string `json:"type,omitempty" yaml:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey     string `json:"apiKey" yaml:"apiKey"`
	BaseURL    string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	TimeoutSec int    `json:"timeoutSec,omitempty" yaml:"timeoutSec,omitempty"`
}

func (p ProviderConfig) Timeout() time.Duration {
	return seconds(p.TimeoutSec)
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	WebUI    WebUIConfig    `json:"webui" yaml:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	Token     string   `json:"token" yaml:"token"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled" yaml:"enabled"`
	AllowFrom []string `json:"allowFrom" yaml:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

type MemoryConfig struct {
	Backend              string `json:"backend" yaml:"backend"`
	DBPath               string `json:"dbPath,omitempty" yaml:"dbPath,omitempty"`
	ShortTermSize        int    `json:"shortTermSize" yaml:"shortTermSize"`
	LongTermSize         int    `json:"longTermSize" yaml:"longTermSize"`
	ThoughtReservoirSize int    `json:"thoughtReservoirSize" yaml:"thoughtReservoirSize"`
}

type ProactiveConfig struct {
	Enabled                    bool    `json:"enabled" yaml:"enabled"`
	MotivationThreshold        float64 `json:"motivationThreshold" yaml:"motivationThreshold"`
	SilenceTimeoutSec          int     `json:"silenceTimeoutSec" yaml:"silenceTimeoutSec"`
	ThoughtIntervalSec         int     `json:"thoughtIntervalSec" yaml:"thoughtIntervalSec"`
	MinInterventionIntervalSec int     `json:"minInterventionIntervalSec" yaml:"minInterventionIntervalSec"`
	MaxConsecutive             int     `json:"maxConsecutive" yaml:"maxConsecutive"`
	CycleIntervalSec           int     `json:"cycleIntervalSec" yaml:"cycleIntervalSec"`
	UserTimeoutSec             int     `json:"userTimeoutSec" yaml:"userTimeoutSec"`
}

func (p ProactiveConfig) SilenceTimeout() time.Duration  { return seconds(p.SilenceTimeoutSec) }
func (p ProactiveConfig) ThoughtInterval() time.Duration { return seconds(p.ThoughtIntervalSec) }
func (p ProactiveConfig) MinInterventionInterval() time.Duration {
	return seconds(p.MinInterventionIntervalSec)
}
func (p ProactiveConfig) CycleInterval() time.Duration { return seconds(p.CycleIntervalSec) }
func (p ProactiveConfig) UserTimeout() time.Duration   { return seconds(p.UserTimeoutSec) }

type InformationConfig struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	CycleIntervalSec  int     `json:"cycleIntervalSec" yaml:"cycleIntervalSec"`
	SearchIntervalSec int     `json:"searchIntervalSec" yaml:"searchIntervalSec"`
	ShareThreshold    float64 `json:"shareThreshold" yaml:"shareThreshold"`
	MaxDailyShares    int     `json:"maxDailyShares" yaml:"maxDailyShares"`
}

func (i InformationConfig) CycleInterval() time.Duration  { return seconds(i.CycleIntervalSec) }
func (i InformationConfig) SearchInterval() time.Duration { return seconds(i.SearchIntervalSec) }

type SearchConfig struct {
	BraveAPIKey string `json:"braveApiKey,omitempty" yaml:"braveApiKey,omitempty"`
	BaseURL     string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Count       int    `json:"count" yaml:"count"`
	Language    string `json:"language" yaml:"language"`
	Freshness   string `json:"freshness" yaml:"freshness"`
}

type LoggingConfig struct {
	Level       string `json:"level" yaml:"level"`
	File        string `json:"file,omitempty" yaml:"file,omitempty"`
	ResearchDir string `json:"researchDir,omitempty" yaml:"researchDir,omitempty"`
}

// envOverrides is filled from MYFRIEND_* variables. Nil pointers mean unset.
type envOverrides struct {
	APIKey         string   `envconfig:"API_KEY"`
	BaseURL        string   `envconfig:"BASE_URL"`
	ProviderType   string   `envconfig:"PROVIDER"`
	Model          string   `envconfig:"MODEL"`
	TelegramToken  string   `envconfig:"TELEGRAM_TOKEN"`
	BraveAPIKey    string   `envconfig:"BRAVE_API_KEY"`
	MemoryBackend  string   `envconfig:"MEMORY_BACKEND"`
	MemoryDBPath   string   `envconfig:"MEMORY_DB_PATH"`
	Experiment     string   `envconfig:"EXPERIMENT"`
	LogLevel       string   `envconfig:"LOG_LEVEL"`
	LogFile        string   `envconfig:"LOG_FILE"`
	Threshold      *float64 `envconfig:"MOTIVATION_THRESHOLD"`
	SilenceTimeout *int     `envconfig:"SILENCE_TIMEOUT_SEC"`
	MaxDaily       *int     `envconfig:"MAX_DAILY_SHARES"`
	Proactive      *bool    `envconfig:"PROACTIVE_ENABLED"`
}

// providerEnv holds the unprefixed vendor variables.
type providerEnv struct {
	AnthropicKey   string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicToken string `envconfig:"ANTHROPIC_AUTH_TOKEN"`
	AnthropicURL   string `envconfig:"ANTHROPIC_BASE_URL"`
	OpenAIKey      string `envconfig:"OPENAI_API_KEY"`
	BraveKey       string `envconfig:"BRAVE_SEARCH_API_KEY"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Agent: AgentConfig{
			Name:       DefaultAgentName,
			Workspace:  filepath.Join(home, configDirName, "workspace"),
			Model:      DefaultModel,
			MaxTokens:  DefaultMaxTokens,
			Experiment: ExperimentProactive,
		},
		Provider: ProviderConfig{TimeoutSec: DefaultProviderTimout},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Memory: MemoryConfig{
			Backend:              MemoryBackendSQLite,
			ShortTermSize:        DefaultShortTermSize,
			LongTermSize:         DefaultLongTermSize,
			ThoughtReservoirSize: DefaultThoughtReservoirSize,
		},
		Proactive: ProactiveConfig{
			Enabled:                    true,
			MotivationThreshold:        DefaultMotivationThreshold,
			SilenceTimeoutSec:          DefaultSilenceTimeoutSec,
			ThoughtIntervalSec:         DefaultThoughtIntervalSec,
			MinInterventionIntervalSec: DefaultMinInterventionSec,
			MaxConsecutive:             DefaultMaxConsecutive,
			CycleIntervalSec:           DefaultProactiveCycleSec,
			UserTimeoutSec:             DefaultUserTimeoutSec,
		},
		Information: InformationConfig{
			Enabled:           true,
			CycleIntervalSec:  DefaultInfoCycleSec,
			SearchIntervalSec: DefaultSearchIntervalSec,
			ShareThreshold:    DefaultShareThreshold,
			MaxDailyShares:    DefaultMaxDailyShares,
		},
		Search: SearchConfig{
			Count:     DefaultSearchCount,
			Language:  DefaultSearchLanguage,
			Freshness: DefaultSearchFreshness,
		},
		Logging: LoggingConfig{Level: DefaultLogLevel},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, configDirName)
}

// ConfigPath honours MYFRIEND_CONFIG before falling back to ~/.myfriend/config.json.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), defaultConfigFileName)
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
	} else if err := unmarshalConfig(path, data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func unmarshalConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		return json.Unmarshal(data, cfg)
	}
}

func applyEnv(cfg *Config) error {
	var ov envOverrides
	if err := envconfig.Process(envPrefix, &ov); err != nil {
		return err
	}
	var vendor providerEnv
	if err := envconfig.Process("", &vendor); err != nil {
		return err
	}

	if ov.APIKey != "" {
		cfg.Provider.APIKey = ov.APIKey
	}
	if vendor.AnthropicKey != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = vendor.AnthropicKey
	}
	if vendor.AnthropicToken != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = vendor.AnthropicToken
	}
	if vendor.OpenAIKey != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = vendor.OpenAIKey
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if ov.ProviderType != "" {
		cfg.Provider.Type = ov.ProviderType
	}
	if ov.BaseURL != "" {
		cfg.Provider.BaseURL = ov.BaseURL
	}
	if vendor.AnthropicURL != "" && cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = vendor.AnthropicURL
	}
	if ov.Model != "" {
		cfg.Agent.Model = ov.Model
	}
	if ov.TelegramToken != "" {
		cfg.Channels.Telegram.Token = ov.TelegramToken
	}
	if ov.BraveAPIKey != "" {
		cfg.Search.BraveAPIKey = ov.BraveAPIKey
	}
	if vendor.BraveKey != "" && cfg.Search.BraveAPIKey == "" {
		cfg.Search.BraveAPIKey = vendor.BraveKey
	}
	if ov.MemoryBackend != "" {
		cfg.Memory.Backend = ov.MemoryBackend
	}
	if ov.MemoryDBPath != "" {
		cfg.Memory.DBPath = ov.MemoryDBPath
	}
	if ov.Experiment != "" {
		cfg.Agent.Experiment = ov.Experiment
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if ov.LogFile != "" {
		cfg.Logging.File = ov.LogFile
	}
	if ov.Threshold != nil {
		cfg.Proactive.MotivationThreshold = *ov.Threshold
	}
	if ov.SilenceTimeout != nil {
		cfg.Proactive.SilenceTimeoutSec = *ov.SilenceTimeout
	}
	if ov.MaxDaily != nil {
		cfg.Information.MaxDailyShares = *ov.MaxDaily
	}
	if ov.Proactive != nil {
		cfg.Proactive.Enabled = *ov.Proactive
	}
	return nil
}

func (c *Config) fillDefaults() {
	def := DefaultConfig()

	if c.Agent.Name == "" {
		c.Agent.Name = def.Agent.Name
	}
	if c.Agent.Workspace == "" {
		c.Agent.Workspace = def.Agent.Workspace
	}
	if c.Agent.Model == "" {
		c.Agent.Model = def.Agent.Model
	}
	if c.Agent.MaxTokens <= 0 {
		c.Agent.MaxTokens = def.Agent.MaxTokens
	}
	if c.Agent.Experiment == "" {
		c.Agent.Experiment = def.Agent.Experiment
	}
	if c.Provider.TimeoutSec <= 0 {
		c.Provider.TimeoutSec = def.Provider.TimeoutSec
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = def.Gateway.Host
	}
	if c.Gateway.Port <= 0 {
		c.Gateway.Port = def.Gateway.Port
	}
	if c.Memory.Backend == "" {
		c.Memory.Backend = def.Memory.Backend
	}
	if c.Memory.ShortTermSize <= 0 {
		c.Memory.ShortTermSize = def.Memory.ShortTermSize
	}
	if c.Memory.LongTermSize <= 0 {
		c.Memory.LongTermSize = def.Memory.LongTermSize
	}
	if c.Memory.ThoughtReservoirSize <= 0 {
		c.Memory.ThoughtReservoirSize = def.Memory.ThoughtReservoirSize
	}
	if c.Proactive.SilenceTimeoutSec <= 0 {
		c.Proactive.SilenceTimeoutSec = def.Proactive.SilenceTimeoutSec
	}
	if c.Proactive.ThoughtIntervalSec <= 0 {
		c.Proactive.ThoughtIntervalSec = def.Proactive.ThoughtIntervalSec
	}
	if c.Proactive.MinInterventionIntervalSec < 0 {
		c.Proactive.MinInterventionIntervalSec = def.Proactive.MinInterventionIntervalSec
	}
	if c.Proactive.MaxConsecutive <= 0 {
		c.Proactive.MaxConsecutive = def.Proactive.MaxConsecutive
	}
	if c.Proactive.CycleIntervalSec <= 0 {
		c.Proactive.CycleIntervalSec = def.Proactive.CycleIntervalSec
	}
	if c.Proactive.UserTimeoutSec <= 0 {
		c.Proactive.UserTimeoutSec = def.Proactive.UserTimeoutSec
	}
	if c.Information.CycleIntervalSec <= 0 {
		c.Information.CycleIntervalSec = def.Information.CycleIntervalSec
	}
	if c.Information.SearchIntervalSec < 0 {
		c.Information.SearchIntervalSec = def.Information.SearchIntervalSec
	}
	if c.Information.MaxDailyShares < 0 {
		c.Information.MaxDailyShares = def.Information.MaxDailyShares
	}
	if c.Search.Count <= 0 {
		c.Search.Count = def.Search.Count
	}
	if c.Search.Language == "" {
		c.Search.Language = def.Search.Language
	}
	if c.Search.Freshness == "" {
		c.Search.Freshness = def.Search.Freshness
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Logging.ResearchDir == "" {
		c.Logging.ResearchDir = filepath.Join(c.Agent.Workspace, "logs")
	}
	if c.Memory.DBPath == "" {
		name := "memory.db"
		if c.Memory.Backend == MemoryBackendBadger {
			name = "memory.badger"
		}
		c.Memory.DBPath = filepath.Join(c.Agent.Workspace, "data", name)
	}
}

// Validate checks value ranges. A missing API key is not a validation error;
// callers that need the provider check RequireCredentials.
func (c *Config) Validate() error {
	if c.Proactive.MotivationThreshold < 0 || c.Proactive.MotivationThreshold > maxMotivationScore {
		return fmt.Errorf("proactive.motivationThreshold must be within 0-5, got %v", c.Proactive.MotivationThreshold)
	}
	if c.Information.ShareThreshold < 0 || c.Information.ShareThreshold > maxMotivationScore {
		return fmt.Errorf("information.shareThreshold must be within 0-5, got %v", c.Information.ShareThreshold)
	}
	switch c.Agent.Experiment {
	case ExperimentProactive, ExperimentReactive:
	default:
		return fmt.Errorf("agent.experiment must be %q or %q, got %q", ExperimentProactive, ExperimentReactive, c.Agent.Experiment)
	}
	switch c.Memory.Backend {
	case MemoryBackendSQLite, MemoryBackendBadger:
	default:
		return fmt.Errorf("memory.backend must be %q or %q, got %q", MemoryBackendSQLite, MemoryBackendBadger, c.Memory.Backend)
	}
	return nil
}

// RequireCredentials is the single fatal-at-boot check.
func (c *Config) RequireCredentials() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("API key not set. Run 'myfriend onboard' or set MYFRIEND_API_KEY / ANTHROPIC_API_KEY")
	}
	return nil
}

// ProactiveEnabled reports whether the proactive cadence should run.
func (c *Config) ProactiveEnabled() bool {
	return c.Proactive.Enabled && c.Agent.Experiment == ExperimentProactive
}

// InformationEnabled reports whether information sharing can ever fire.
func (c *Config) InformationEnabled() bool {
	return c.Information.Enabled && strings.TrimSpace(c.Search.BraveAPIKey) != "" && c.Information.MaxDailyShares > 0
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
