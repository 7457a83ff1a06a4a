package vk

import "time"

const (
	defaultAPIBase    = "https://api.vk.com"
	defaultAPIVersion = "5.199"
)

// Config holds the VK community bot settings.
type Config struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"token"`
	GroupID int64  `mapstructure:"group_id" yaml:"group_id"`
	// APIBase overrides the VK API host, mainly for tests.
	APIBase string `mapstructure:"api_base" yaml:"api_base"`
	// APIVersion is the VK API version sent with every call.
	APIVersion string `mapstructure:"api_version" yaml:"api_version"`
	// PollWait is the long-poll wait passed to the Bots Long Poll server.
	PollWait time.Duration `mapstructure:"poll_wait" yaml:"poll_wait"`
}
