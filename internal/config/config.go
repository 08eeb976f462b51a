package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API       APIConfig
	Transport TransportConfig
	Chat      ChatConfig
	Storage   StorageConfig
}

type APIConfig struct {
	BaseURL string
	Timeout time.Duration
}

type TransportConfig struct {
	URL                 string
	DialTimeout         time.Duration
	ReconnectInterval   time.Duration
	ReconnectBackoffMax time.Duration
}

type ChatConfig struct {
	HighlightTTL      time.Duration
	SendRatePerSecond float64
	SendBurst         int
}

type StorageConfig struct {
	SessionPath   string
	SessionSecret string
	DeviceIDPath  string
}

// Duration parses yaml scalars like "5s" or "250ms".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return errors.Wrapf(err, "duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

// FileConfig is the on-disk shape. Absent fields keep defaults.
type FileConfig struct {
	API struct {
		BaseURL string   `yaml:"baseUrl"`
		Timeout Duration `yaml:"timeout"`
	} `yaml:"api"`
	Transport struct {
		URL                 string   `yaml:"url"`
		DialTimeout         Duration `yaml:"dialTimeout"`
		ReconnectInterval   Duration `yaml:"reconnectInterval"`
		ReconnectBackoffMax Duration `yaml:"reconnectBackoffMax"`
	} `yaml:"transport"`
	Chat struct {
		HighlightTTL      Duration `yaml:"highlightTtl"`
		SendRatePerSecond float64  `yaml:"sendRatePerSecond"`
		SendBurst         int      `yaml:"sendBurst"`
	} `yaml:"chat"`
	Storage struct {
		SessionPath   string `yaml:"sessionPath"`
		SessionSecret string `yaml:"sessionSecret"`
		DeviceIDPath  string `yaml:"deviceIdPath"`
	} `yaml:"storage"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://127.0.0.1:3000",
			Timeout: 15 * time.Second,
		},
		Transport: TransportConfig{
			DialTimeout:         10 * time.Second,
			ReconnectInterval:   1 * time.Second,
			ReconnectBackoffMax: 30 * time.Second,
		},
		Chat: ChatConfig{
			HighlightTTL:      2 * time.Second,
			SendRatePerSecond: 2,
			SendBurst:         5,
		},
	}
}

// LoadFromPath reads the config file, falling back through the default
// candidate locations and then to built-in defaults. A missing or broken
// file is not an error; the daemon runs on defaults.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates, "configs/config.yaml", "config.yaml")
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed FileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}
		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return normalize(merged)
	}

	ApplyEnvOverrides(&cfg)
	return normalize(cfg)
}

func Merge(dst *Config, src FileConfig) {
	if src.API.BaseURL != "" {
		dst.API.BaseURL = src.API.BaseURL
	}
	if src.API.Timeout > 0 {
		dst.API.Timeout = time.Duration(src.API.Timeout)
	}
	if src.Transport.URL != "" {
		dst.Transport.URL = src.Transport.URL
	}
	if src.Transport.DialTimeout > 0 {
		dst.Transport.DialTimeout = time.Duration(src.Transport.DialTimeout)
	}
	if src.Transport.ReconnectInterval > 0 {
		dst.Transport.ReconnectInterval = time.Duration(src.Transport.ReconnectInterval)
	}
	if src.Transport.ReconnectBackoffMax > 0 {
		dst.Transport.ReconnectBackoffMax = time.Duration(src.Transport.ReconnectBackoffMax)
	}
	if src.Chat.HighlightTTL > 0 {
		dst.Chat.HighlightTTL = time.Duration(src.Chat.HighlightTTL)
	}
	if src.Chat.SendRatePerSecond > 0 {
		dst.Chat.SendRatePerSecond = src.Chat.SendRatePerSecond
	}
	if src.Chat.SendBurst > 0 {
		dst.Chat.SendBurst = src.Chat.SendBurst
	}
	if src.Storage.SessionPath != "" {
		dst.Storage.SessionPath = src.Storage.SessionPath
	}
	if src.Storage.SessionSecret != "" {
		dst.Storage.SessionSecret = src.Storage.SessionSecret
	}
	if src.Storage.DeviceIDPath != "" {
		dst.Storage.DeviceIDPath = src.Storage.DeviceIDPath
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("HAULSYNC_API_URL")); v != "" {
		cfg.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("HAULSYNC_WS_URL")); v != "" {
		cfg.Transport.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("HAULSYNC_SESSION_SECRET")); v != "" {
		cfg.Storage.SessionSecret = v
	}
}

func normalize(cfg Config) Config {
	def := Default()
	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = def.API.Timeout
	}
	if cfg.Transport.DialTimeout <= 0 {
		cfg.Transport.DialTimeout = def.Transport.DialTimeout
	}
	if cfg.Transport.ReconnectInterval <= 0 {
		cfg.Transport.ReconnectInterval = def.Transport.ReconnectInterval
	}
	if cfg.Transport.ReconnectBackoffMax < cfg.Transport.ReconnectInterval {
		cfg.Transport.ReconnectBackoffMax = def.Transport.ReconnectBackoffMax
	}
	if cfg.Chat.HighlightTTL <= 0 {
		cfg.Chat.HighlightTTL = def.Chat.HighlightTTL
	}
	if cfg.Transport.URL == "" {
		cfg.Transport.URL = deriveSocketURL(cfg.API.BaseURL)
	}
	return cfg
}

// deriveSocketURL points the socket at the API host when no explicit
// transport URL is configured.
func deriveSocketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://")
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://")
	default:
		return baseURL
	}
}
