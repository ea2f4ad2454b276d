// Package config handles Despierto configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./despierto.yaml, ~/.config/despierto/config.yaml,
// /etc/despierto/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"despierto.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "despierto", "config.yaml"))
	}

	paths = append(paths, "/etc/despierto/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Despierto configuration.
type Config struct {
	Telegram     TelegramConfig     `yaml:"telegram"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	Ops          OpsConfig          `yaml:"ops"`
	Timezone     string             `yaml:"timezone"`
	MessagesFile string             `yaml:"messages_file"`
	PersonaFile  string             `yaml:"persona_file"`
	LogLevel     string             `yaml:"log_level"`
}

// TelegramConfig defines the Bot API connection.
type TelegramConfig struct {
	// Token is the bot token from @BotFather. Usually supplied via
	// ${TELEGRAM_BOT_TOKEN} and expanded at load time.
	Token string `yaml:"token"`
	// Username is the bot's public handle, used for the t.me deep link
	// on the ops surface. Discovered via getMe when empty.
	Username string `yaml:"username"`
	// PollTimeoutSec is the long-poll timeout for getUpdates (default 30).
	PollTimeoutSec int `yaml:"poll_timeout_sec"`
}

// LLMConfig defines the text-generation backend.
type LLMConfig struct {
	// Enabled toggles generation. When false every reply comes from the
	// fallback catalog.
	Enabled bool `yaml:"enabled"`
	// BaseURL is the Ollama endpoint (default http://localhost:11434).
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// TimeoutSec bounds a single generate call (default 20).
	TimeoutSec int `yaml:"timeout_sec"`
}

// ConversationConfig tunes the wake-up session state machine.
type ConversationConfig struct {
	// MaxTurns closes a session automatically after this many user
	// exchanges, with a farewell. 0 means sessions only close on the
	// explicit wake confirmation command.
	MaxTurns int `yaml:"max_turns"`
	// HistoryWindow is how many recent history entries feed the
	// continuation prompt (default 6).
	HistoryWindow int `yaml:"history_window"`
}

// OpsConfig defines the optional operational HTTP server.
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`    // Default: 8091
}

// GenerateTimeout returns the bounded generation timeout as a Duration.
func (c *Config) GenerateTimeout() time.Duration {
	sec := c.LLM.TimeoutSec
	if sec <= 0 {
		sec = 20
	}
	return time.Duration(sec) * time.Second
}

// Location resolves the process-wide IANA timezone. All alarms fire in
// this single location.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Validate checks for configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if c.LLM.Enabled && c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required when llm.enabled is true")
	}
	if c.Conversation.MaxTurns < 0 {
		return fmt.Errorf("conversation.max_turns must be >= 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			PollTimeoutSec: 30,
		},
		LLM: LLMConfig{
			BaseURL:    "http://localhost:11434",
			TimeoutSec: 20,
		},
		Conversation: ConversationConfig{
			HistoryWindow: 6,
		},
		Ops: OpsConfig{
			Port: 8091,
		},
		Timezone: "America/Montevideo",
	}
}
