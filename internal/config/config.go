package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const envPrefix = "CALLRING"

type Push struct {
	Provider        string        `mapstructure:"provider"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	Workers         int           `mapstructure:"workers"`
	Queue           int           `mapstructure:"queue"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	Secret       string        `mapstructure:"secret"`
	LogLevel     string        `mapstructure:"log_level"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	WriteWait    time.Duration `mapstructure:"write_wait"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
	Backpressure string        `mapstructure:"backpressure"`
	Push         Push          `mapstructure:"push"`
}

// Server wraps a loaded config together with the viper instance backing it.
type Server struct {
	*Config
	v *viper.Viper
}

func newViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(file)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func configFile() string {
	if f := os.Getenv("CONFIG_FILE"); f != "" {
		return f
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return fmt.Sprintf("config/config.%s.yaml", env)
}

func serverDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("secret", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit", 50)
	v.SetDefault("rate_interval", "1s")
	v.SetDefault("session_ttl", "0s")
	v.SetDefault("backpressure", "kick")
	v.SetDefault("push.provider", "log")
	v.SetDefault("push.credentials_file", "")
	v.SetDefault("push.workers", 4)
	v.SetDefault("push.queue", 256)
	v.SetDefault("push.timeout", "10s")
}

// Load reads the server config from file, env and defaults.
func Load() (*Server, error) {
	return LoadFile(configFile())
}

func LoadFile(file string) (*Server, error) {
	v := newViper(file)
	serverDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("loaded config")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("push", cfg.Push.Provider).
		Msg("server config")
	return &Server{Config: cfg, v: v}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	switch cfg.Push.Provider {
	case "log", "fcm":
	default:
		return nil, fmt.Errorf("unknown push provider %q", cfg.Push.Provider)
	}
	if cfg.Push.Provider == "fcm" && cfg.Push.CredentialsFile == "" {
		return nil, fmt.Errorf("push.credentials_file is required for fcm")
	}
	switch cfg.Backpressure {
	case "kick", "tolerate":
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", cfg.Backpressure)
	}
	if cfg.Secret == "" {
		key := securecookie.GenerateRandomKey(32)
		if key == nil {
			return nil, fmt.Errorf("secret is empty and no random key could be generated")
		}
		cfg.Secret = string(key)
		log.Warn().Str("module", "config").Msg("secret not set, sessions will not survive a restart")
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send_buffer must be positive")
	}
	return &cfg, nil
}

// Watch re-reads the file on change and hands the new config to onChange.
// Broken edits are logged and ignored.
func (s *Server) Watch(onChange func(*Config)) {
	s.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode(s.v)
		if err != nil {
			log.Error().Err(err).Str("module", "config").Msg("ignoring config change")
			return
		}
		log.Info().Str("module", "config").Str("file", e.Name).Msg("config reloaded")
		onChange(cfg)
	})
	s.v.WatchConfig()
}

// ApplyLogLevel sets the global zerolog level, falling back to info.
func ApplyLogLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return lvl
}
