package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

// Config is the root configuration for askbot.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Channels ChannelsConfig `json:"channels"`
	Auth     AuthConfig     `json:"auth"`
	Audit    AuditConfig    `json:"audit"`
	Backend  BackendConfig  `json:"backend"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel"`
	BusBuffer int    `json:"busBuffer"`
}

type ChannelsConfig struct {
	Slack SlackConfig `json:"slack"`
}

// SlackConfig holds the Slack credentials. Tokens normally come from the
// process environment (see ApplyEnv); config file values are a fallback
// for ${VAR} expansion setups.
type SlackConfig struct {
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"` // required for Socket Mode
}

// AuthConfig points at the line-delimited allow-list of identities.
type AuthConfig struct {
	AllowlistPath string `json:"allowlistPath"`
}

// AuditConfig points at the append-only audit log file.
type AuditConfig struct {
	Path string `json:"path"`
}

// BackendConfig describes the external inference process. The
// JSON-encoded prompt is appended to Args as the final argument.
type BackendConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// DefaultConfigDir returns the default config directory (~/.askbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".askbot"
	}
	return filepath.Join(home, ".askbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			BusBuffer: 100,
		},
		Auth: AuthConfig{
			AllowlistPath: "~/.askbot/users.csv",
		},
		Audit: AuditConfig{
			Path: "~/.askbot/log.txt",
		},
		Backend: BackendConfig{
			Command: "python",
			Args:    []string{"llm_backend.py"},
		},
	}
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Auth.AllowlistPath = ExpandPath(cfg.Auth.AllowlistPath)
	cfg.Audit.Path = ExpandPath(cfg.Audit.Path)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envCredentials is the environment overlay for credentials. The access
// tokens are consumed only at startup by the chat-platform client.
type envCredentials struct {
	SlackBotToken string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken string `envconfig:"SLACK_APP_TOKEN"`
}

// ApplyEnv overlays credentials from the process environment onto cfg.
// Environment values win over config file values.
func ApplyEnv(cfg *Config) error {
	var creds envCredentials
	if err := envconfig.Process("", &creds); err != nil {
		return fmt.Errorf("read credential environment: %w", err)
	}
	if creds.SlackBotToken != "" {
		cfg.Channels.Slack.BotToken = creds.SlackBotToken
	}
	if creds.SlackAppToken != "" {
		cfg.Channels.Slack.AppToken = creds.SlackAppToken
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.BusBuffer < 1 || cfg.General.BusBuffer > 10000 {
		errs = append(errs, "general.busBuffer must be between 1 and 10000")
	}
	if cfg.Backend.Command == "" {
		errs = append(errs, "backend.command must not be empty")
	}
	if cfg.Audit.Path == "" {
		errs = append(errs, "audit.path must not be empty")
	}
	if cfg.Auth.AllowlistPath == "" {
		errs = append(errs, "auth.allowlistPath must not be empty")
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
