package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Client struct {
	ServerURL  string   `mapstructure:"server_url"`
	UserID     string   `mapstructure:"user_id"`
	PushToken  string   `mapstructure:"push_token"`
	Call       string   `mapstructure:"call"`
	RingFirst  bool     `mapstructure:"ring_first"`
	AutoAccept bool     `mapstructure:"auto_accept"`
	DenyMedia  bool     `mapstructure:"deny_media"`
	StunURLs   []string `mapstructure:"stun_urls"`
	LogLevel   string   `mapstructure:"log_level"`
}

// ClientFlags registers the client flags on fs.
func ClientFlags(fs *pflag.FlagSet) {
	fs.String("server_url", "ws://localhost:8080/api/ws/signal", "signaling websocket url")
	fs.String("user_id", "", "own user id")
	fs.String("push_token", "", "push token announced on join")
	fs.String("call", "", "user id to call after joining")
	fs.Bool("ring_first", false, "ring the callee before sending an offer")
	fs.Bool("auto_accept", true, "accept incoming calls without prompting")
	fs.Bool("deny_media", false, "simulate refused media permissions")
	fs.StringSlice("stun_urls", []string{"stun:stun.l.google.com:19302"}, "ICE servers")
	fs.String("log_level", "info", "zerolog level")
	fs.String("config", "", "optional yaml config file")
}

// LoadClient merges flags, CALLRING_ env vars and an optional file.
// fs must already be parsed.
func LoadClient(fs *pflag.FlagSet) (*Client, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read %s: %w", file, err)
		}
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	cfg.UserID = strings.TrimSpace(cfg.UserID)
	if cfg.UserID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server_url is required")
	}
	return &cfg, nil
}
