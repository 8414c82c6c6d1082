// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Config describes one messaging session.
type Config struct {
	// ServerURL is the base of the REST history/persist layer.
	ServerURL string `yaml:"server_url"`

	// SocketURL is the websocket endpoint of the push channel.
	SocketURL string `yaml:"socket_url"`

	// UserID and UserType identify this session's user for the setup frame
	// and for locally originated messages.
	UserID   string   `yaml:"user_id"`
	UserType PeerType `yaml:"user_type"`

	// AuthToken authenticates REST calls. Falls back to the VGMSG_TOKEN
	// environment variable when empty.
	AuthToken string `yaml:"auth_token"`

	// LogLevel is a zerolog level name. Applied live on config reload.
	LogLevel string `yaml:"log_level"`

	// CachePath is the sqlite seen-message cache location. Empty disables
	// the cache; ":memory:" keeps it for the session only.
	CachePath string `yaml:"cache_path"`

	// SendTimeoutSeconds bounds the persist call; on expiry the optimistic
	// message is marked failed. Default 10.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`

	// TypingTimeoutSeconds auto-clears the typing indicator when the stop
	// event is lost. Default 5.
	TypingTimeoutSeconds int `yaml:"typing_timeout_seconds"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.SocketURL == "" {
		return fmt.Errorf("socket_url is required")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	switch c.UserType {
	case PeerEmployee, PeerClient:
	case "":
		c.UserType = PeerEmployee
	default:
		return fmt.Errorf("user_type must be %q or %q, got %q", PeerEmployee, PeerClient, c.UserType)
	}
	if c.AuthToken == "" {
		c.AuthToken = os.Getenv("VGMSG_TOKEN")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	if c.SendTimeoutSeconds <= 0 {
		c.SendTimeoutSeconds = 10
	}
	if c.TypingTimeoutSeconds <= 0 {
		c.TypingTimeoutSeconds = 5
	}
	return nil
}

// SendTimeout returns the persist deadline as a duration.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// TypingTimeout returns the typing auto-clear deadline as a duration.
func (c *Config) TypingTimeout() time.Duration {
	return time.Duration(c.TypingTimeoutSeconds) * time.Second
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// WatchConfig reloads the file on change and hands valid configs to apply.
// Invalid intermediate states (editors write in multiple steps) are logged
// and skipped. Returns a stop function.
func WatchConfig(path string, log zerolog.Logger, apply func(*Config)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}
	log = log.With().Str("component", "config_watcher").Str("path", path).Logger()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || !event.Op.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfig(path)
				if err != nil {
					log.Warn().Err(err).Msg("Ignoring config reload with invalid contents")
					continue
				}
				log.Info().Msg("Config reloaded")
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return func() { watcher.Close() }, nil
}
