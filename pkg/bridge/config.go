// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// HomeserverConfig points at the homeserver the appservice talks to.
type HomeserverConfig struct {
	// Address is the client-server API base URL.
	Address string `yaml:"address"`
	// Domain is the server name that appears in aliases and user IDs.
	Domain string `yaml:"domain"`
}

// AppserviceConfig is the inbound listener configuration.
type AppserviceConfig struct {
	Hostname string `yaml:"hostname"`
	Port     uint16 `yaml:"port"`
	// Registration is the path to the appservice registration file
	// shared with the homeserver (as_token, hs_token, sender localpart).
	Registration string `yaml:"registration"`
}

// NamespaceConfig defines the alias namespace the appservice owns.
type NamespaceConfig struct {
	// Prefix is the alias localpart prefix, including its trailing
	// delimiter, e.g. "comments_".
	Prefix string `yaml:"prefix"`
	// Delimiter separates the site and section segments. It is
	// reserved and can't appear in site names.
	Delimiter string `yaml:"delimiter"`
}

// Config is the process configuration. It is loaded once at startup,
// validated, and passed read-only into every component.
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver"`
	Appservice AppserviceConfig `yaml:"appservice"`
	Namespace  NamespaceConfig  `yaml:"namespace"`

	// AllowedUsers is a regular expression matched against sender user
	// IDs. Only matching senders may invite the bot into rooms and run
	// commands.
	AllowedUsers string `yaml:"allowed_users"`
	// AliasCacheSize bounds the alias-resolution LRU cache. Zero or
	// negative disables caching.
	AliasCacheSize int `yaml:"alias_cache_size"`
	// LogLevel is a zerolog level name (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	allowedUsers *regexp.Regexp
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// LoadConfig reads, parses and validates a config file. Any problem
// here is a startup failure, never a runtime one.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := &Config{
		Appservice: AppserviceConfig{
			Hostname: "0.0.0.0",
			Port:     29333,
		},
		Namespace: NamespaceConfig{
			Prefix:    "comments_",
			Delimiter: "_",
		},
		AliasCacheSize: 128,
		LogLevel:       "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// PostProcess validates the config and compiles the sender pattern.
func (c *Config) PostProcess() error {
	switch {
	case c.Homeserver.Address == "":
		return fmt.Errorf("homeserver.address is required")
	case c.Homeserver.Domain == "":
		return fmt.Errorf("homeserver.domain is required")
	case c.Appservice.Registration == "":
		return fmt.Errorf("appservice.registration is required")
	case c.Namespace.Prefix == "":
		return fmt.Errorf("namespace.prefix is required")
	case len(c.Namespace.Delimiter) != 1:
		return fmt.Errorf("namespace.delimiter must be a single character")
	case c.AllowedUsers == "":
		return fmt.Errorf("allowed_users is required")
	}
	var err error
	c.allowedUsers, err = regexp.Compile(c.AllowedUsers)
	if err != nil {
		return fmt.Errorf("failed to compile allowed_users pattern: %w", err)
	}
	return nil
}

// AllowUser reports whether a sender passes the configured allow
// pattern.
func (c *Config) AllowUser(userID id.UserID) bool {
	return c.allowedUsers.MatchString(string(userID))
}

// AliasNamespace builds the alias codec namespace from the config.
func (c *Config) AliasNamespace() *Namespace {
	return &Namespace{
		Prefix:    c.Namespace.Prefix,
		Delimiter: c.Namespace.Delimiter,
		Server:    c.Homeserver.Domain,
	}
}
