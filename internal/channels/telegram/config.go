package telegram

import "time"

const defaultAPIBase = "https://api.telegram.org"

// Config holds the Telegram Bot API settings.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"token"`
	// APIBase overrides the Bot API host, mainly for tests.
	APIBase string `mapstructure:"api_base" yaml:"api_base"`
	// PollTimeout is the long-poll wait passed to getUpdates.
	PollTimeout time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
}
