// Package config holds the YAML configuration of the try-on tool
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/richinsley/comfytryon/tryon"
	"gopkg.in/yaml.v3"
)

// Config is the top level configuration
type Config struct {
	Server ServerConfig `yaml:"server"`
	// ComfyUIRoot is a local ComfyUI installation used for model preflight.
	// When empty it is searched for from the working directory.
	ComfyUIRoot string `yaml:"comfyui_root"`
	// ExtraModelPaths overrides the discovered extra_model_paths.yaml
	ExtraModelPaths string       `yaml:"extra_model_paths"`
	OutputDir       string       `yaml:"output_dir"`
	Count           int          `yaml:"count"`
	Pipeline        tryon.Params `yaml:"pipeline"`
}

// ServerConfig locates the ComfyUI server
type ServerConfig struct {
	Scheme  string `yaml:"scheme"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Timeout is the number of seconds to wait for the websocket, <0 waits forever
	Timeout int `yaml:"timeout"`
	// Retry is the number of websocket connection retries
	Retry int `yaml:"retry"`
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Scheme:  "http",
			Address: "127.0.0.1",
			Port:    8188,
			Timeout: 30,
			Retry:   5,
		},
		OutputDir: "output",
		Count:     1,
		Pipeline:  tryon.DefaultParams(),
	}
}

// Load reads the configuration from path.  Missing files yield the defaults,
// and fields absent from the file keep their default values.  The environment
// overrides both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, cfg.Validate()
}

// Save writes the configuration to path
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets COMFYUI_ADDRESS and COMFYUI_PORT point at another server
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("COMFYUI_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("COMFYUI_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
}

// Validate checks the server settings and the pipeline parameters
func (c *Config) Validate() error {
	if c.Server.Scheme != "http" && c.Server.Scheme != "https" {
		return fmt.Errorf("invalid server scheme: %s (valid: http, https)", c.Server.Scheme)
	}
	if c.Server.Address == "" {
		return fmt.Errorf("server address not configured")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", c.Count)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline: %w", err)
	}
	return nil
}
