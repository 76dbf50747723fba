package blankquiz

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the settings shared by the web server and the CLI.
type Config struct {
	Port          string       `yaml:"port"`
	DBPath        string       `yaml:"db_path"`
	LogDir        string       `yaml:"log_dir"`
	LogMode       string       `yaml:"log_mode"`
	Verbose       bool         `yaml:"verbose"`
	SessionSecret string       `yaml:"session_secret"`
	OpenAI        OpenAIConfig `yaml:"openai"`
	Canvas        CanvasConfig `yaml:"canvas"`
}

// OpenAIConfig configures the LLM client.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		Port:    "8180",
		DBPath:  "./quiz.db",
		LogDir:  "log",
		LogMode: "dev",
		OpenAI:  OpenAIConfig{Model: DefaultModel},
	}
}

// LoadConfig reads an optional YAML file over the defaults and then applies
// environment overrides. A missing file is not an error.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.DBPath, "QUIZ_DB_PATH")
	setString(&c.LogDir, "QUIZ_LOG_DIR")
	setString(&c.LogMode, "LOG_MODE")
	setString(&c.SessionSecret, "SESSION_SECRET")
	setString(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	setString(&c.OpenAI.Model, "OPENAI_MODEL")
	setString(&c.Canvas.BaseURL, "CANVAS_BASE_URL")
	setString(&c.Canvas.ClientID, "CANVAS_CLIENT_ID")
	setString(&c.Canvas.ClientSecret, "CANVAS_CLIENT_SECRET")
	setString(&c.Canvas.RedirectURL, "CANVAS_REDIRECT_URL")
	if v := strings.TrimSpace(os.Getenv("QUIZ_VERBOSE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Verbose = b
		}
	}
}

func setString(dst *string, name string) {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		*dst = v
	}
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	redact := func(s string) string {
		if s == "" {
			return ""
		}
		return "[REDACTED]"
	}
	c.SessionSecret = redact(c.SessionSecret)
	c.OpenAI.APIKey = redact(c.OpenAI.APIKey)
	c.Canvas.ClientSecret = redact(c.Canvas.ClientSecret)
	return c
}

// YAML renders the configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
