package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/parlo-ai/voice-gateway/internal/logger"
)

// BackendConfig represents a backendConfig.
type BackendConfig struct {
	ChatWSURL      string `mapstructure:"chat_ws_url"`
	APIBaseURL     string `mapstructure:"api_base_url"`
	AccessToken    string `mapstructure:"access_token"`
	MaxTurns       int    `mapstructure:"max_turns"`
	ReconnectDelay int    `mapstructure:"reconnect_delay_seconds"`
}

// SessionConfig represents a sessionConfig.
type SessionConfig struct {
	DifficultyGate   bool `mapstructure:"difficulty_gate"`
	Suggestions      bool `mapstructure:"suggestions"`
	PlaybackWatchdog int  `mapstructure:"playback_watchdog_seconds"`
}

// Config represents a config.
type Config struct {
	RootDir       string        `mapstructure:"-"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	HTTPAddr      string        `mapstructure:"http_addr"`
	FrontendDir   string        `mapstructure:"frontend_dir"`
	PresetsDir    string        `mapstructure:"character_presets_dir"`
	TranscriptDir string        `mapstructure:"transcript_dir"`
	Backend       BackendConfig `mapstructure:"backend"`
	Session       SessionConfig `mapstructure:"session"`
	Log           logger.Config `mapstructure:"log"`
}

// ReconnectDelay returns the socket reconnect delay as a duration.
func (c Config) ReconnectDelay() time.Duration {
	seconds := c.Backend.ReconnectDelay
	if seconds <= 0 {
		seconds = 5
	}
	return time.Duration(seconds) * time.Second
}

// PlaybackWatchdog returns the playback watchdog timeout as a duration.
func (c Config) PlaybackWatchdog() time.Duration {
	seconds := c.Session.PlaybackWatchdog
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}

// Load executes the load function.
func Load() (Config, error) {
	rootDir, err := resolveRootDir()
	if err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetConfigName("conf")
	v.SetConfigType("yaml")
	v.AddConfigPath(rootDir)

	applyDefaults(v)

	v.SetEnvPrefix("parlo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	if cfg.Backend.ChatWSURL == "" {
		return Config{}, fmt.Errorf("backend.chat_ws_url is required")
	}

	return cfg, nil
}

// LoadFile executes the loadFile function.
func LoadFile(configPath string) (Config, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		return Load()
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, err
	}

	rootDir := strings.TrimSpace(os.Getenv("PARLO_ROOT_DIR"))
	if rootDir == "" {
		rootDir = filepath.Dir(absPath)
		if filepath.Base(rootDir) == "config" {
			rootDir = filepath.Dir(rootDir)
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")

	applyDefaults(v)

	v.SetEnvPrefix("parlo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(absPath)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	cfg.RootDir = rootDir
	deriveHTTPAddr(&cfg)
	derivePaths(&cfg)

	if cfg.Backend.ChatWSURL == "" {
		return Config{}, fmt.Errorf("backend.chat_ws_url is required")
	}

	return cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", "")
	v.SetDefault("backend.chat_ws_url", "")
	v.SetDefault("backend.api_base_url", "")
	v.SetDefault("backend.access_token", "")
	v.SetDefault("backend.max_turns", 10)
	v.SetDefault("backend.reconnect_delay_seconds", 5)
	v.SetDefault("session.difficulty_gate", true)
	v.SetDefault("session.suggestions", true)
	v.SetDefault("session.playback_watchdog_seconds", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.stdout", true)
	v.SetDefault("log.file.enabled", true)
	v.SetDefault("log.file.path", "./data/logs")
	v.SetDefault("log.file.name", "voice-gateway.log")
	v.SetDefault("log.file.max_size_mb", 50)
	v.SetDefault("log.file.max_backups", 5)
	v.SetDefault("log.file.max_age_days", 30)
	v.SetDefault("log.file.compress", true)
}

func deriveHTTPAddr(cfg *Config) {
	if cfg.HTTPAddr != "" {
		return
	}
	port := cfg.Port
	if port == 0 {
		port = 8190
	}
	if cfg.Host == "" {
		cfg.HTTPAddr = fmt.Sprintf(":%d", port)
		return
	}
	cfg.HTTPAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func resolveRootDir() (string, error) {
	if root := strings.TrimSpace(os.Getenv("PARLO_ROOT_DIR")); root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	dir := wd
	for i := 0; i < 6; i++ {
		if fileExists(filepath.Join(dir, "conf.yaml")) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return wd, nil
}

func derivePaths(cfg *Config) {
	cfg.FrontendDir = resolvePath(cfg.RootDir, cfg.FrontendDir, filepath.Join("webassets", "app"))
	cfg.PresetsDir = resolvePath(cfg.RootDir, cfg.PresetsDir, "character_presets")
	cfg.TranscriptDir = resolvePath(cfg.RootDir, cfg.TranscriptDir, filepath.Join("data", "transcripts"))
}

func resolvePath(rootDir string, configured string, fallback string) string {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(rootDir, path)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
