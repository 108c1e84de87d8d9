// Package config loads Aethercast's session configuration from
// layered sources: built-in defaults, an optional YAML file, an
// optional .env-style key=value file, then the process environment —
// each layer overriding the previous one.
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds every setting the core reads to configure the
// pipeline. Fields absent from spec.md's §6.4 environment-variable
// list (codec tuning, ports) still live here since something has to
// own them; they are the session layer's own defaults, not external
// collaborator contracts.
type Config struct {
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	Framerate      int    `yaml:"framerate"`
	BitrateBps     int    `yaml:"bitrate_bps"`
	IFrameInterval int    `yaml:"i_frame_interval_sec"`
	MaxUnitSize    int    `yaml:"max_unit_size"`
	RTSPPort       int    `yaml:"rtsp_port"`
	VideoModesPath string `yaml:"video_modes_path"`
	SourceType     string `yaml:"source_type"`
	DebugCategories string `yaml:"debug_categories"`
}

// Defaults returns the built-in baseline: 720p30, CBP level 3.1 sized
// bitrate, and the standard 1472-byte UDP payload budget for IPv4 over
// a 1500-byte-MTU link (N=7 whole TS packets per datagram).
func Defaults() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Width:          1280,
		Height:         720,
		Framerate:      30,
		BitrateBps:     6_000_000,
		IFrameInterval: 2,
		MaxUnitSize:    1472,
		RTSPPort:       7236,
		VideoModesPath: home + "/.config/aethercast/video_modes.conf",
		SourceType:     "",
	}
}

// Load builds a Config starting from Defaults, applying yamlPath (if
// non-empty and present), then envPath (if non-empty and present),
// then process environment variables.
func Load(yamlPath, envPath string) (Config, error) {
	cfg := Defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse yaml config %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read yaml config %s: %w", yamlPath, err)
		}
	}

	if envPath != "" {
		if err := applyEnvFile(&cfg, envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, err
		}
	}

	applyProcessEnv(&cfg)

	return cfg, nil
}

func applyEnvFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		setField(cfg, strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	return sc.Err()
}

func applyProcessEnv(cfg *Config) {
	if v := os.Getenv("AETHERCAST_SOURCE_TYPE"); v != "" {
		cfg.SourceType = v
	}
	if v := os.Getenv("AETHERCAST_DEBUG"); v != "" {
		cfg.DebugCategories = v
	}
	if os.Getenv("MIRACAST_RTSP_DEBUG") == "1" {
		if cfg.DebugCategories == "" {
			cfg.DebugCategories = "rtsp"
		} else {
			cfg.DebugCategories += ",rtsp"
		}
	}
}

func setField(cfg *Config, key, value string) {
	switch key {
	case "width":
		cfg.Width = atoiOr(value, cfg.Width)
	case "height":
		cfg.Height = atoiOr(value, cfg.Height)
	case "framerate":
		cfg.Framerate = atoiOr(value, cfg.Framerate)
	case "bitrate_bps":
		cfg.BitrateBps = atoiOr(value, cfg.BitrateBps)
	case "i_frame_interval_sec":
		cfg.IFrameInterval = atoiOr(value, cfg.IFrameInterval)
	case "max_unit_size":
		cfg.MaxUnitSize = atoiOr(value, cfg.MaxUnitSize)
	case "rtsp_port":
		cfg.RTSPPort = atoiOr(value, cfg.RTSPPort)
	case "video_modes_path":
		cfg.VideoModesPath = value
	case "source_type":
		cfg.SourceType = value
	case "debug_categories":
		cfg.DebugCategories = value
	}
}

func atoiOr(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

// Validate checks the invariants spec §3 requires at Configure time.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("config: width and height must be positive, got %dx%d", c.Width, c.Height)
	}
	if c.Framerate <= 0 {
		return fmt.Errorf("config: framerate must be positive, got %d", c.Framerate)
	}
	if c.MaxUnitSize < 12+188 {
		return fmt.Errorf("config: max_unit_size %d too small to carry a single TS packet", c.MaxUnitSize)
	}
	return nil
}
