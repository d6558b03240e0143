// ABOUTME: Configuration management for canvas-mark.
// ABOUTME: Resolves the Canvas domain and token from flags, environment, or the saved config file.

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "canvas-mark", "config.yaml"), nil
}

func loadConfig() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	return &cfg, nil
}

func saveConfig(cfg *Config) (string, error) {
	path, err := configPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	return path, os.WriteFile(path, data, 0600)
}

// resolveConfig fills in whatever the command line left empty from the saved
// config file. A missing file is not an error.
func resolveConfig(domain, token string) (*Config, error) {
	cfg := &Config{
		BaseURL:     strings.TrimSpace(domain),
		AccessToken: strings.TrimSpace(token),
	}
	if cfg.BaseURL != "" && cfg.AccessToken != "" {
		return cfg, nil
	}

	saved, err := loadConfig()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = saved.BaseURL
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = saved.AccessToken
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.BaseURL == "":
		return errors.New("a Canvas domain is required (-D/--domain, e.g. https://utah.instructure.com)")
	case c.AccessToken == "":
		return errors.New("a Canvas access token is required (-T/--token, from Canvas > Account > Settings > New Access Token)")
	}
	return nil
}
