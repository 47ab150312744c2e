package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config is the relay server configuration.
type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`
	Secret     string        `mapstructure:"secret"`
	AuthToken  string        `mapstructure:"auth_token"`
	// Backpressure is "drop" (log and continue) or "kick" (close the slow connection).
	Backpressure string  `mapstructure:"backpressure"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
}

// ClientConfig is the headless client configuration.
type ClientConfig struct {
	ServerURL        string        `mapstructure:"server_url"`
	Name             string        `mapstructure:"name"`
	Token            string        `mapstructure:"token"`
	LogLevel         string        `mapstructure:"log_level"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	TURNURL          string        `mapstructure:"turn_url"`
	TURNUsername     string        `mapstructure:"turn_username"`
	TURNCredential   string        `mapstructure:"turn_credential"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	ReconnectInitial time.Duration `mapstructure:"reconnect_initial"`
	ReconnectMax     time.Duration `mapstructure:"reconnect_max"`
	Video            bool          `mapstructure:"video"`
	Audio            bool          `mapstructure:"audio"`
	Width            int           `mapstructure:"width"`
	Height           int           `mapstructure:"height"`
}

func newViper(kind string) (*viper.Viper, string) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", kind, env)
	if kind == "" {
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, fileName
}

func read(v *viper.Viper, fileName string, out any) error {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func Load() (*Config, error) {
	v, fileName := newViper("")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("secret", "mesh-dev-secret")
	v.SetDefault("auth_token", "")
	v.SetDefault("backpressure", "drop")
	v.SetDefault("rate_limit", 50.0)
	v.SetDefault("rate_burst", 100)

	var cfg Config
	if err := read(v, fileName, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("backpressure", cfg.Backpressure).Msg("server config")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.PingPeriod >= c.PongWait {
		return fmt.Errorf("ping_period (%s) must be shorter than pong_wait (%s)", c.PingPeriod, c.PongWait)
	}
	switch c.Backpressure {
	case "drop", "kick":
	default:
		return fmt.Errorf("backpressure must be drop or kick, got %q", c.Backpressure)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("send_buffer must be positive")
	}
	return nil
}

func LoadClient() (*ClientConfig, error) {
	v, fileName := newViper("client")

	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("name", "guest")
	v.SetDefault("token", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("turn_url", "")
	v.SetDefault("turn_username", "")
	v.SetDefault("turn_credential", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302", "stun:stun1.l.google.com:19302"})
	v.SetDefault("connect_timeout", "30s")
	v.SetDefault("handshake_timeout", "10s")
	v.SetDefault("reconnect_initial", "500ms")
	v.SetDefault("reconnect_max", "15s")
	v.SetDefault("video", true)
	v.SetDefault("audio", true)
	v.SetDefault("width", 640)
	v.SetDefault("height", 480)

	var cfg ClientConfig
	if err := read(v, fileName, &cfg); err != nil {
		return nil, err
	}
	if cfg.TURNURL != "" && (cfg.TURNUsername == "" || cfg.TURNCredential == "") {
		return nil, fmt.Errorf("turn_url requires turn_username and turn_credential")
	}
	return &cfg, nil
}
