// Package config loads, validates, and exposes the JSON configuration
// recognized at the external boundary: scheduler (C4), stamina (C3),
// credentials (C1), LLM backend (C2), task runner (C6), bot identity, and
// channels. Env-var expansion and dotted-path get/set follow the teacher's
// config package; the section layout follows the configuration option
// table instead of the teacher's agent/tool/security options.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for the gateway.
type Config struct {
	LogLevel    string            `json:"logLevel"`
	LogFile     string            `json:"logFile,omitempty"`
	BotIdentity BotIdentityConfig `json:"botIdentity"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
	Stamina     StaminaConfig     `json:"stamina"`
	Credentials CredentialsConfig `json:"credentials"`
	LLM         LLMConfig         `json:"llm"`
	TaskRunner  TaskRunnerConfig  `json:"taskRunner"`
	Channels    ChannelsConfig    `json:"channels"`
	Persona     PersonaConfig     `json:"persona"`
	Audit       AuditConfig       `json:"audit"`
}

// BotIdentityConfig names the bot and the admin identity allowed to invoke
// the control surface.
type BotIdentityConfig struct {
	BotID         string `json:"botId"`
	BotName       string `json:"botName"`
	AdminSenderID string `json:"adminSenderId"`
}

// SchedulerConfig is the per-context queue's global configuration.
type SchedulerConfig struct {
	SilenceSeconds     int `json:"silenceSeconds"`
	MaxQueueSize       int `json:"maxQueueSize"`
	MaxQueueAgeSeconds int `json:"maxQueueAgeSeconds"`
}

// StaminaConfig is the fatigue model's tunable parameter set.
type StaminaConfig struct {
	SMax            float64 `json:"sMax"`
	K               float64 `json:"k"`
	P               float64 `json:"p"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Gamma           float64 `json:"gamma"`
	R               float64 `json:"r"`
	RegenIntervalMS int     `json:"regenIntervalMs"`
	LowThresh       float64 `json:"lowThresh"`
	CriticalThresh  float64 `json:"criticalThresh"`
	RestMode        bool    `json:"restMode"`
}

// RegenInterval converts the millisecond field to a time.Duration for the
// stamina controller.
func (s StaminaConfig) RegenInterval() time.Duration {
	return time.Duration(s.RegenIntervalMS) * time.Millisecond
}

// CredentialsConfig lists the primary and backup secrets the pool merges
// and deduplicates.
type CredentialsConfig struct {
	Primary []string `json:"primary"`
	Backup  []string `json:"backup"`
}

// LLMConfig selects and tunes the remote-model backend.
type LLMConfig struct {
	Backend     string `json:"backend"` // "openai" | "ollama" | "chatgpt-web" | "gemini-web"
	Model       string `json:"model"`
	APIBase     string `json:"apiBase,omitempty"`
	ProfileDir  string `json:"profileDir,omitempty"` // browser-driven backends
	MaxAttempts int    `json:"maxAttempts"`
	BaseDelayMS int    `json:"baseDelayMs"`
	CapDelayMS  int    `json:"capDelayMs"`
}

// TaskRunnerConfig is the task runner's retry budget.
type TaskRunnerConfig struct {
	MaxAttempts int `json:"maxAttempts"`
}

// ChannelsConfig enumerates the supported external event sources.
type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	Slack    SlackConfig    `json:"slack"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	AppToken string `json:"appToken"`
}

// PersonaConfig points at the optional persona YAML file; empty means use
// the built-in default.
type PersonaConfig struct {
	FilePath string `json:"filePath,omitempty"`
}

// AuditConfig controls the operator-visible SQLite audit trail.
type AuditConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays
// containing both strings and numbers (e.g. ["123", 456] both become
// "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.chatrelay).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chatrelay"
	}
	return filepath.Join(home, ".chatrelay")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, env-expands, and validates the config file at path, starting
// from Defaults() so unset fields keep their documented defaults.
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

	cfg.LogFile = ExpandPath(cfg.LogFile)
	cfg.Audit.DBPath = ExpandPath(cfg.Audit.DBPath)
	cfg.Persona.FilePath = ExpandPath(cfg.Persona.FilePath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config
// strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is
// unset or empty.
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

// Save writes cfg as indented JSON to path, creating parent directories as
// needed.
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

// Validate checks that cfg's values are within documented ranges and that
// the credentials required for startup are present. A failure here is the
// ConfigInvalid error kind: fatal at initialization, the process refuses
// to start.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.BotIdentity.BotID == "" {
		errs = append(errs, "botIdentity.botId is required")
	}
	if len(cfg.Credentials.Primary) == 0 {
		errs = append(errs, "credentials.primary must list at least one secret")
	}

	if cfg.Scheduler.SilenceSeconds < 1 {
		errs = append(errs, "scheduler.silenceSeconds must be >= 1")
	}
	if cfg.Scheduler.MaxQueueSize < 1 {
		errs = append(errs, "scheduler.maxQueueSize must be >= 1")
	}
	if cfg.Scheduler.MaxQueueAgeSeconds < 1 {
		errs = append(errs, "scheduler.maxQueueAgeSeconds must be >= 1")
	}

	if cfg.Stamina.SMax <= 0 {
		errs = append(errs, "stamina.sMax must be > 0")
	}
	if cfg.Stamina.CriticalThresh < 0 || cfg.Stamina.CriticalThresh > cfg.Stamina.LowThresh {
		errs = append(errs, "stamina.criticalThresh must be between 0 and lowThresh")
	}
	if cfg.Stamina.RegenIntervalMS < 1 {
		errs = append(errs, "stamina.regenIntervalMs must be >= 1")
	}

	switch cfg.LLM.Backend {
	case "openai", "ollama", "chatgpt-web", "gemini-web":
	default:
		errs = append(errs, "llm.backend must be one of: openai, ollama, chatgpt-web, gemini-web")
	}
	if cfg.LLM.MaxAttempts < 1 {
		errs = append(errs, "llm.maxAttempts must be >= 1")
	}
	if cfg.LLM.BaseDelayMS < 0 {
		errs = append(errs, "llm.baseDelayMs must be >= 0")
	}
	if cfg.LLM.CapDelayMS < cfg.LLM.BaseDelayMS {
		errs = append(errs, "llm.capDelayMs must be >= llm.baseDelayMs")
	}

	if cfg.TaskRunner.MaxAttempts < 1 {
		errs = append(errs, "taskRunner.maxAttempts must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
