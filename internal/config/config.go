package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for spacecatcher.
type Config struct {
	General GeneralConfig `json:"general"`
	Server  ServerConfig  `json:"server"`
	Slack   SlackConfig   `json:"slack"`
	Fetcher FetcherConfig `json:"fetcher"`
	Dedup   DedupConfig   `json:"dedup"`
	Metrics MetricsConfig `json:"metrics"`

	Housekeeping HousekeepingConfig `json:"housekeeping"`
}

type GeneralConfig struct {
	WorkDir   string `json:"workDir"`           // parent directory for per-job download dirs
	LogLevel  string `json:"logLevel"`          // debug | info | warn | error
	LogFormat string `json:"logFormat"`         // text | json
	LogFile   string `json:"logFile,omitempty"` // optional; stderr when empty
}

type ServerConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	EventsPath        string `json:"eventsPath"`
	AsyncProcessing   bool   `json:"asyncProcessing"`   // ack first, download in the background
	MaxConcurrentJobs int    `json:"maxConcurrentJobs"` // only used with asyncProcessing
}

type SlackConfig struct {
	BotToken      string `json:"botToken"`
	SigningSecret string `json:"signingSecret,omitempty"` // empty disables signature checks
	APIURL        string `json:"apiUrl,omitempty"`
	Debug         bool   `json:"debug,omitempty"`
}

type FetcherConfig struct {
	Binary         string   `json:"binary"`
	AudioFormat    string   `json:"audioFormat"`
	ExtraArgs      []string `json:"extraArgs,omitempty"`
	TimeoutSeconds int      `json:"timeoutSeconds"`
}

type DedupConfig struct {
	Capacity int `json:"capacity"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// HousekeepingConfig controls the periodic sweep of stale job directories
// left behind by a crash or kill.
type HousekeepingConfig struct {
	Enabled       bool   `json:"enabled"`
	Schedule      string `json:"schedule"`      // cron spec, e.g. "@every 1h" or "0 * * * *"
	MaxAgeMinutes int    `json:"maxAgeMinutes"` // must exceed the fetch timeout
}

// DefaultConfigDir returns the default config directory (~/.spacecatcher).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".spacecatcher"
	}
	return filepath.Join(home, ".spacecatcher")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML (by extension) config file on top of Defaults,
// expands ${VAR} references, applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg, err := decode(path, true)
	if err != nil {
		return nil, err
	}

	ApplyEnv(cfg)
	cfg.General.WorkDir = ExpandPath(cfg.General.WorkDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadRaw reads the file as written: no ${VAR} expansion, no environment
// overrides. Use it when the config is going to be saved back.
func LoadRaw(path string) (*Config, error) {
	return decode(path, false)
}

func decode(path string, expand bool) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	if expand {
		data = []byte(ExpandEnvVars(string(data)))
	}

	if isYAML(path) {
		data, err = yamlToJSON(data)
		if err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides credentials and the listen port from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_SIGNING_SECRET"); v != "" {
		cfg.Slack.SigningSecret = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON re-encodes a YAML document so the json tags stay the single
// source of field names.
func yamlToJSON(data []byte) ([]byte, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; unresolved
// references without a default are left as-is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""
		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	if isYAML(path) {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
		if data, err = yaml.Marshal(m); err != nil {
			return fmt.Errorf("cannot marshal config: %w", err)
		}
	}
	// config holds the bot token
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.EventsPath, "/") {
		errs = append(errs, "server.eventsPath must start with /")
	}
	if cfg.Server.AsyncProcessing && (cfg.Server.MaxConcurrentJobs < 1 || cfg.Server.MaxConcurrentJobs > 64) {
		errs = append(errs, "server.maxConcurrentJobs must be between 1 and 64")
	}

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(cfg.General.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Fetcher.Binary == "" {
		errs = append(errs, "fetcher.binary is required")
	}
	if cfg.Fetcher.TimeoutSeconds < 1 {
		errs = append(errs, "fetcher.timeoutSeconds must be >= 1")
	}
	if cfg.Dedup.Capacity < 1 {
		errs = append(errs, "dedup.capacity must be >= 1")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Endpoint == cfg.Server.EventsPath {
		errs = append(errs, "metrics.endpoint must differ from server.eventsPath")
	}

	if cfg.Housekeeping.Enabled {
		if strings.TrimSpace(cfg.Housekeeping.Schedule) == "" {
			errs = append(errs, "housekeeping.schedule is required when housekeeping is enabled")
		}
		if cfg.Housekeeping.MaxAgeMinutes*60 <= cfg.Fetcher.TimeoutSeconds {
			errs = append(errs, "housekeeping.maxAgeMinutes must be longer than fetcher.timeoutSeconds")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
