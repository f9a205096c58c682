package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

const defaultConfigPath = "~/.config/camforge/config.json"

// Config holds user-editable settings.
type Config struct {
	Server   Server   `json:"server"`
	Services Services `json:"services"`
	Export   Export   `json:"export"`
	Defaults Defaults `json:"defaults"`
	Logging  Logging  `json:"logging"`
	Paths    Paths    `json:"paths"`
}

// Server configures the local HTTP API.
type Server struct {
	Listen string `json:"listen"`
}

// Services names the two remote processing endpoints.
type Services struct {
	VideoURL string `json:"video_url"`
	LiveURL  string `json:"live_url"`
}

// Export controls artifact production.
type Export struct {
	OutputDir     string   `json:"output_dir"`
	JPEGQuality   int      `json:"jpeg_quality"`
	NormalizeTool string   `json:"normalize_tool"` // "imaging", "imagemagick"
	Fallbacks     []string `json:"fallbacks"`
}

// Defaults seeds a fresh session's metadata fields.
type Defaults struct {
	Make     string `json:"make"`
	Model    string `json:"model"`
	Aperture string `json:"aperture"`
	Focal    string `json:"focal"`
	Focal35  string `json:"focal35"`
	ISO      string `json:"iso"`
	Width    string `json:"width"`
}

// Logging controls logging verbosity and destinations.
type Logging struct {
	Level      string `json:"level"`       // debug, info, warn, error
	Format     string `json:"format"`      // text, json
	FileOutput bool   `json:"file_output"` // Enable file logging
	LogDir     string `json:"log_dir"`     // Directory for log files
}

// Paths configures storage locations.
type Paths struct {
	DatabasePath string `json:"database_path"`
	TempDir      string `json:"temp_dir"`
	WatchDir     string `json:"watch_dir"`
}

// Load reads configuration from disk, falling back to sensible defaults.
// The path comes from CAMFORGE_CONFIG when set.
func Load() (*Config, error) {
	cfg := defaultConfig()

	configPath := os.Getenv("CAMFORGE_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	expanded, err := expandUser(configPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the fields a running export actually depends on.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"services.video_url": c.Services.VideoURL,
		"services.live_url":  c.Services.LiveURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s: not a valid URL: %q", name, raw)
		}
	}
	if c.Export.JPEGQuality < 1 || c.Export.JPEGQuality > 100 {
		return fmt.Errorf("export.jpeg_quality: %d out of range 1-100", c.Export.JPEGQuality)
	}
	if c.Export.OutputDir == "" {
		return errors.New("export.output_dir: empty")
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: Server{
			Listen: "127.0.0.1:8790",
		},
		Services: Services{
			VideoURL: "http://127.0.0.1:5000/api/process-video",
			LiveURL:  "http://127.0.0.1:5001/api/process-live",
		},
		Export: Export{
			OutputDir:     "./output",
			JPEGQuality:   100,
			NormalizeTool: "imaging",
			Fallbacks:     []string{"imagemagick"},
		},
		Defaults: Defaults{
			Make:     "Apple",
			Model:    "iPhone 17 Pro Max",
			Aperture: "1.78",
			Focal:    "24",
			Focal35:  "24",
			ISO:      "100",
			Width:    "4032",
		},
		Logging: Logging{
			Level:      "info",
			Format:     "text",
			FileOutput: true,
			LogDir:     "./logs",
		},
		Paths: Paths{
			DatabasePath: filepath.Join(os.TempDir(), "camforge.db"),
			TempDir:      filepath.Join(os.TempDir(), "camforge"),
			WatchDir:     "",
		},
	}
}

func expandUser(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	if path == "~" {
		return home, nil
	}

	return filepath.Join(home, path[2:]), nil
}
