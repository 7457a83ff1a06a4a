package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"scenehub/internal/channels/telegram"
	"scenehub/internal/channels/vk"
)

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// AllowOrigins is the CORS allow-list; "*" allows any origin.
	AllowOrigins []string `mapstructure:"allow_origins"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ChannelsConfig holds the messaging backend settings.
type ChannelsConfig struct {
	// Default names the executor used for notification delivery.
	Default  string          `mapstructure:"default"`
	Telegram telegram.Config `mapstructure:"telegram"`
	VK       vk.Config       `mapstructure:"vk"`
}

// ScenesConfig holds the scene directory and broadcast settings.
type ScenesConfig struct {
	// ActionTimeout bounds each per-session broadcast action.
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
}

// PresenceConfig holds the viewer tracker settings.
type PresenceConfig struct {
	TTL        time.Duration `mapstructure:"ttl"`
	MaxPerItem int           `mapstructure:"max_per_item"`
}

// NotifyConfig holds the notification dispatcher settings.
type NotifyConfig struct {
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`
}

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Scenes   ScenesConfig   `mapstructure:"scenes"`
	Presence PresenceConfig `mapstructure:"presence"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	// ObservabilityConfig points at the yaml file holding the
	// logging/metrics/tracing section; empty means the default location.
	ObservabilityConfig string `mapstructure:"observability_config"`
}

// Load reads scenehub-config.yaml from the given path (or $HOME and the
// working directory when path is empty), applies SCENEHUB_* environment
// overrides, and fills in defaults for anything unset. A missing config file
// is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("scenehub-config")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("$HOME")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SCENEHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// The default search locations are optional; an explicit path is not.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)

	v.SetDefault("channels.default", "telegram")
	v.SetDefault("channels.telegram.enabled", false)
	v.SetDefault("channels.telegram.poll_timeout", 30*time.Second)
	v.SetDefault("channels.vk.enabled", false)
	v.SetDefault("channels.vk.poll_wait", 25*time.Second)

	v.SetDefault("scenes.action_timeout", 5*time.Second)

	v.SetDefault("presence.ttl", 5*time.Minute)
	v.SetDefault("presence.max_per_item", 64)

	v.SetDefault("notify.delivery_timeout", 10*time.Second)
}
