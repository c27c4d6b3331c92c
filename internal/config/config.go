package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`

	Server struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
		TLS          struct {
			Enable    bool     `mapstructure:"enable"`
			CertFile  string   `mapstructure:"cert_file"`
			KeyFile   string   `mapstructure:"key_file"`
			Hostnames []string `mapstructure:"hostnames"`
		} `mapstructure:"tls"`
	} `mapstructure:"server"`
	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"db"`
	Auth struct {
		Issuer   string `mapstructure:"issuer"`
		Audience string `mapstructure:"audience"`
	} `mapstructure:"auth"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Engine struct {
		MaxStepVisits       int `mapstructure:"max_step_visits"`
		DefinitionCacheSize int `mapstructure:"definition_cache_size"`
	} `mapstructure:"engine"`
	Automation AutomationConfig `mapstructure:"automation"`
	Hooks      struct {
		TaskProjectorURL string `mapstructure:"task_projector_url"`
		NotifierURL      string `mapstructure:"notifier_url"`
		TokenURL         string `mapstructure:"token_url"`
		ClientID         string `mapstructure:"client_id"`
		ClientSecret     string `mapstructure:"client_secret"`
	} `mapstructure:"hooks"`
	Definitions struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"definitions"`
}

// AutomationConfig configures the automation executor and its actions.
type AutomationConfig struct {
	MaxRetries       int                     `mapstructure:"max_retries"`
	InitialInterval  time.Duration           `mapstructure:"initial_interval"`
	BackoffFactor    float64                 `mapstructure:"backoff_factor"`
	MaxInterval      time.Duration           `mapstructure:"max_interval"`
	Timeout          time.Duration           `mapstructure:"timeout"`
	Inline           bool                    `mapstructure:"inline"`
	SweepBatch       int                     `mapstructure:"sweep_batch"`
	SweepConcurrency int                     `mapstructure:"sweep_concurrency"`
	Actions          map[string]ActionConfig `mapstructure:"actions"`
}

// ActionConfig binds a named automation action to a webhook.
type ActionConfig struct {
	URL        string        `mapstructure:"url"`
	MaxRetries int           `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// DSN returns the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.tls.enable", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.hostnames", []string{"localhost", "127.0.0.1"})
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "megicode")
	v.SetDefault("db.name", "megicode")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.password", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.audience", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("engine.max_step_visits", 10)
	v.SetDefault("engine.definition_cache_size", 128)
	v.SetDefault("automation.max_retries", 3)
	v.SetDefault("automation.initial_interval", time.Second)
	v.SetDefault("automation.backoff_factor", 2.0)
	v.SetDefault("automation.max_interval", 30*time.Second)
	v.SetDefault("automation.timeout", 30*time.Second)
	v.SetDefault("automation.inline", false)
	v.SetDefault("automation.sweep_batch", 100)
	v.SetDefault("automation.sweep_concurrency", 4)
	v.SetDefault("hooks.task_projector_url", "")
	v.SetDefault("hooks.notifier_url", "")
	v.SetDefault("hooks.token_url", "")
	v.SetDefault("hooks.client_id", "")
	v.SetDefault("hooks.client_secret", "")
	v.SetDefault("definitions.dir", "workflows")
}

// LoadConfig loads the configuration from a file and the environment. An
// empty path searches for config.yaml in . and ./config; a missing file there
// is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("MEGICODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	config.Auth.Issuer = normalizeIssuer(config.Auth.Issuer)
	return &config, nil
}

// normalizeIssuer strips a trailing slash so a URL pasted from the identity
// provider console matches the issuer claim.
func normalizeIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
