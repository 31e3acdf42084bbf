package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestApplyDefaults(t *testing.T) {
	v := viper.New()
	applyDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if cfg.Backend.MaxTurns != 10 {
		t.Fatalf("backend.max_turns=%d, want 10", cfg.Backend.MaxTurns)
	}
	if got := cfg.ReconnectDelay(); got != 5*time.Second {
		t.Fatalf("ReconnectDelay()=%s, want 5s", got)
	}
	if got := cfg.PlaybackWatchdog(); got != 30*time.Second {
		t.Fatalf("PlaybackWatchdog()=%s, want 30s", got)
	}
	if !cfg.Session.DifficultyGate {
		t.Fatal("session.difficulty_gate=false, want true")
	}
	if !cfg.Session.Suggestions {
		t.Fatal("session.suggestions=false, want true")
	}
}

func TestDurationFallbacksIgnoreInvalidValues(t *testing.T) {
	cfg := Config{}
	cfg.Backend.ReconnectDelay = -3
	cfg.Session.PlaybackWatchdog = 0

	if got := cfg.ReconnectDelay(); got != 5*time.Second {
		t.Fatalf("ReconnectDelay()=%s, want 5s", got)
	}
	if got := cfg.PlaybackWatchdog(); got != 30*time.Second {
		t.Fatalf("PlaybackWatchdog()=%s, want 30s", got)
	}
}

func TestDeriveHTTPAddr(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		addr string
		want string
	}{
		{name: "default port", want: ":8190"},
		{name: "explicit port", port: 9000, want: ":9000"},
		{name: "host and port", host: "127.0.0.1", port: 9000, want: "127.0.0.1:9000"},
		{name: "explicit addr wins", host: "127.0.0.1", port: 9000, addr: ":1234", want: ":1234"},
	}
	for _, tt := range tests {
		cfg := Config{Host: tt.host, Port: tt.port, HTTPAddr: tt.addr}
		deriveHTTPAddr(&cfg)
		if cfg.HTTPAddr != tt.want {
			t.Fatalf("%s: http_addr=%q, want %q", tt.name, cfg.HTTPAddr, tt.want)
		}
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	body := "backend:\n  chat_ws_url: ws://localhost:9000/ws/chat\n  max_turns: 6\nsession:\n  difficulty_gate: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}
	if cfg.Backend.ChatWSURL != "ws://localhost:9000/ws/chat" {
		t.Fatalf("chat_ws_url=%q", cfg.Backend.ChatWSURL)
	}
	if cfg.Backend.MaxTurns != 6 {
		t.Fatalf("max_turns=%d, want 6", cfg.Backend.MaxTurns)
	}
	if cfg.Session.DifficultyGate {
		t.Fatal("difficulty_gate=true, want false")
	}
	if !cfg.Session.Suggestions {
		t.Fatal("suggestions=false, want default true")
	}
}

func TestLoadFileRequiresChatWSURL(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Fatal("LoadFile error=nil, want non-nil")
	}
}

func TestReadCharacterPreset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mina.yaml")
	body := "id: mina\nname: Mina\navatar: /characters/mina.webp\ngreeting: Hey! Come on in.\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	preset, err := ReadCharacterPreset(path)
	if err != nil {
		t.Fatalf("ReadCharacterPreset error: %v", err)
	}
	if preset.ID != "mina" || preset.Name != "Mina" {
		t.Fatalf("preset=%+v", preset)
	}

	presets := ScanCharacterPresets(dir)
	if _, ok := presets["mina"]; !ok {
		t.Fatalf("ScanCharacterPresets missing mina: %v", presets)
	}
}
