package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all relaysim configuration.
// Priority: CLI flags > env vars > settings.json > defaults.
type Config struct {
	ListenAddr     string `json:"listen_addr"`
	LogLevel       string `json:"log_level"`
	Scenario       string `json:"scenario"`
	Mode           string `json:"mode"`
	Title          string `json:"title"`
	AutoplayCron   string `json:"autoplay_cron"`
	RestartOnStart bool   `json:"restart_on_start"`
	LogCapacity    int    `json:"log_capacity"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4200",
		LogLevel:   "info",
		Mode:       "streaming",
		Title:      "relaysim",
	}
}

func relaysimDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaysim"
	}
	return filepath.Join(home, ".relaysim")
}

func settingsPath() string {
	return filepath.Join(relaysimDir(), "settings.json")
}

// loadConfig layers settings.json at path and RELAYSIM_* variables read
// through getenv over the defaults.
func loadConfig(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("RELAYSIM_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("RELAYSIM_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("RELAYSIM_SCENARIO"); v != "" {
		cfg.Scenario = v
	}
	if v := getenv("RELAYSIM_MODE"); v != "" {
		cfg.Mode = v
	}
	if v := getenv("RELAYSIM_TITLE"); v != "" {
		cfg.Title = v
	}
	if v := getenv("RELAYSIM_AUTOPLAY_CRON"); v != "" {
		cfg.AutoplayCron = v
	}
	if v := getenv("RELAYSIM_RESTART_ON_START"); v != "" {
		cfg.RestartOnStart = v == "true" || v == "1"
	}
	if v := getenv("RELAYSIM_LOG_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LogCapacity = n
		}
	}

	return cfg
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	ScenarioChanged bool
	ModeChanged     bool
	AutoplayChanged bool
	LogLevelChanged bool
	RestartNeeded   []string // fields that require a process restart
}

// RebuildNeeded reports whether the controller and panel must be rebuilt.
func (d configDiff) RebuildNeeded() bool {
	return d.ScenarioChanged || d.ModeChanged || d.AutoplayChanged
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if old.Scenario != new.Scenario || old.LogCapacity != new.LogCapacity ||
		old.RestartOnStart != new.RestartOnStart || old.Title != new.Title {
		d.ScenarioChanged = true
	}
	if old.Mode != new.Mode {
		d.ModeChanged = true
	}
	if old.AutoplayCron != new.AutoplayCron {
		d.AutoplayChanged = true
	}
	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
	}
	if old.ListenAddr != new.ListenAddr {
		d.RestartNeeded = append(d.RestartNeeded, "listen_addr")
	}
	return d
}
