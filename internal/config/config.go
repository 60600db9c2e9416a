package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	StaticPath  string        `mapstructure:"static_path"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	Secret      string        `mapstructure:"secret"`
	LogLevel    string        `mapstructure:"log_level"`
	ICEServers  []string      `mapstructure:"ice_servers"`
	MetricsPath string        `mapstructure:"metrics_path"`
	Speaking    Speaking      `mapstructure:"speaking"`
	Relay       Relay         `mapstructure:"relay"`
	Client      Client        `mapstructure:"client"`
}

// Speaking tunes audio-level based speaking detection. LevelThreshold is in
// -dBov as carried by RFC 6464 (0 loudest, 127 silence).
type Speaking struct {
	LevelThreshold uint8         `mapstructure:"level_threshold"`
	Hold           time.Duration `mapstructure:"hold"`
}

type Relay struct {
	// MaxBufferedBytes is the per-channel buffered amount above which data
	// frames to a member are dropped.
	MaxBufferedBytes uint64 `mapstructure:"max_buffered_bytes"`
}

type Client struct {
	ServerURL      string        `mapstructure:"server_url"`
	Endpoint       string        `mapstructure:"endpoint"`
	Transport      string        `mapstructure:"transport"`
	DisplayName    string        `mapstructure:"display_name"`
	Session        string        `mapstructure:"session"`
	FrameRate      int           `mapstructure:"frame_rate"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Camera         Camera        `mapstructure:"camera"`
	Audio          Audio         `mapstructure:"audio"`
	Engine         Engine        `mapstructure:"engine"`
}

type Camera struct {
	Device string `mapstructure:"device"`
	Width  int    `mapstructure:"width"`
	Height int    `mapstructure:"height"`
}

type Audio struct {
	Enabled bool `mapstructure:"enabled"`
}

type Engine struct {
	Command       string        `mapstructure:"command"`
	Args          []string      `mapstructure:"args"`
	Model         string        `mapstructure:"model"`
	LoadTimeout   time.Duration `mapstructure:"load_timeout"`
	DetectTimeout time.Duration `mapstructure:"detect_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("log_level", "info")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("metrics_path", "/metrics")
	v.SetDefault("speaking.level_threshold", 50)
	v.SetDefault("speaking.hold", "400ms")
	v.SetDefault("relay.max_buffered_bytes", 64*1024)

	v.SetDefault("client.server_url", "http://localhost:8080")
	v.SetDefault("client.transport", "webrtc")
	v.SetDefault("client.session", "")
	v.SetDefault("client.frame_rate", 30)
	v.SetDefault("client.connect_timeout", "15s")
	v.SetDefault("client.camera.width", 1280)
	v.SetDefault("client.camera.height", 720)
	v.SetDefault("client.audio.enabled", true)
	v.SetDefault("client.engine.model", "face_landmarker.task")
	v.SetDefault("client.engine.load_timeout", "30s")
	v.SetDefault("client.engine.detect_timeout", "500ms")
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("MIMIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

// Level parses log_level, falling back to info.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
