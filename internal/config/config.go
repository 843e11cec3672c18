package config

import (
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	ServerURL string       `yaml:"server_url" env:"PEERWAVE_SERVER_URL" env-default:"ws://localhost:8090/signal"`
	Username  string       `yaml:"username" env:"PEERWAVE_USERNAME" env-default:""`
	AppName   string       `yaml:"app_name" env:"PEERWAVE_APP" env-default:"default"`
	Rooms     []string     `yaml:"rooms" env-default:""`
	LogLevel  string       `yaml:"log_level" env:"PEERWAVE_LOG_LEVEL" env-default:"info"`
	Journal   string       `yaml:"journal" env:"PEERWAVE_JOURNAL" env-default:"peerwave.sqlite3"`
	WebRTC    WebRTCConfig `yaml:"webrtc"`
}

type WebRTCConfig struct {
	STUNServers []string `yaml:"stun_servers" env-default:""`
	// ChunkLimit is the largest data-channel message sent without
	// fragmentation, in bytes.
	ChunkLimit int `yaml:"chunk_limit" env-default:"16384"`
}

// Load reads the YAML config at path with environment overrides. A missing
// file is not an error; env vars and defaults still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, err
		}
		cfg.setDefaults()
		return &cfg, nil
	}
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if len(c.WebRTC.STUNServers) == 0 {
		c.WebRTC.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if c.WebRTC.ChunkLimit <= 0 {
		c.WebRTC.ChunkLimit = 16384
	}
}
