// Package config loads and validates the server and user configuration
// documents consumed at startup.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Default values applied to any field absent from server.json.
const (
	DefaultRoot                = "./ftp_root"
	DefaultBind                = "0.0.0.0"
	DefaultControlPort         = 21
	DefaultPasvMin             = 50000
	DefaultPasvMax             = 50100
	DefaultPreLoginIdleSecs    = 120
	DefaultPostLoginIdleSecs   = 300
	DefaultAllowAnonymous      = true
	anonymousHomeDirectoryName = "anonymous"
	namedUsersDirectoryName    = "users"
)

// ServerConfig is immutable after Load; every session and the acceptor
// read it without synchronization.
type ServerConfig struct {
	Root                string `json:"Root"`
	Bind                string `json:"Bind"`
	ControlPort         int    `json:"ControlPort"`
	PasvMin             int    `json:"PasvMin"`
	PasvMax             int    `json:"PasvMax"`
	PreLoginIdleSeconds int    `json:"PreLoginIdleSeconds"`
	PostLoginIdleSeconds int   `json:"PostLoginIdleSeconds"`
	AllowAnonymous      bool   `json:"AllowAnonymous"`
}

// UserRecord is a single entry from users.json.
type UserRecord struct {
	Username string `json:"Username"`
	Password string `json:"Password"`
}

// AnonymousHome returns the physical home directory for anonymous logins.
func (c *ServerConfig) AnonymousHome() string {
	return filepath.Join(c.Root, anonymousHomeDirectoryName)
}

// UserHome returns the physical home directory for a named user.
func (c *ServerConfig) UserHome(username string) string {
	return filepath.Join(c.Root, namedUsersDirectoryName, username)
}

// LoadServerConfig reads a server config document from path, filling in
// defaults for anything the document omits or for a missing file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Root:                 DefaultRoot,
		Bind:                 DefaultBind,
		ControlPort:          DefaultControlPort,
		PasvMin:              DefaultPasvMin,
		PasvMax:              DefaultPasvMax,
		PreLoginIdleSeconds:  DefaultPreLoginIdleSecs,
		PostLoginIdleSeconds: DefaultPostLoginIdleSecs,
		AllowAnonymous:       DefaultAllowAnonymous,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return finishServerConfig(cfg)
		}
		return nil, fmt.Errorf("read server config: %w", err)
	}

	// Unmarshal into a struct with pointer fields so we can tell an
	// explicit zero value apart from an absent key, then merge.
	var raw struct {
		Root                 *string `json:"Root"`
		Bind                 *string `json:"Bind"`
		ControlPort          *int    `json:"ControlPort"`
		PasvMin              *int    `json:"PasvMin"`
		PasvMax              *int    `json:"PasvMax"`
		PreLoginIdleSeconds  *int    `json:"PreLoginIdleSeconds"`
		PostLoginIdleSeconds *int    `json:"PostLoginIdleSeconds"`
		AllowAnonymous       *bool   `json:"AllowAnonymous"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse server config: %w", err)
	}

	if raw.Root != nil {
		cfg.Root = *raw.Root
	}
	if raw.Bind != nil {
		cfg.Bind = *raw.Bind
	}
	if raw.ControlPort != nil {
		cfg.ControlPort = *raw.ControlPort
	}
	if raw.PasvMin != nil {
		cfg.PasvMin = *raw.PasvMin
	}
	if raw.PasvMax != nil {
		cfg.PasvMax = *raw.PasvMax
	}
	if raw.PreLoginIdleSeconds != nil {
		cfg.PreLoginIdleSeconds = *raw.PreLoginIdleSeconds
	}
	if raw.PostLoginIdleSeconds != nil {
		cfg.PostLoginIdleSeconds = *raw.PostLoginIdleSeconds
	}
	if raw.AllowAnonymous != nil {
		cfg.AllowAnonymous = *raw.AllowAnonymous
	}

	return finishServerConfig(cfg)
}

func finishServerConfig(cfg *ServerConfig) (*ServerConfig, error) {
	abs, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root directory: %w", err)
	}
	cfg.Root = abs

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the invariants a malformed document could violate.
func (c *ServerConfig) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root directory cannot be empty")
	}
	if c.PasvMin < 1 || c.PasvMax > 65535 || c.PasvMin > c.PasvMax {
		return fmt.Errorf("invalid passive port range [%d,%d]", c.PasvMin, c.PasvMax)
	}
	if c.ControlPort < 1 || c.ControlPort > 65535 {
		return fmt.Errorf("invalid control port %d", c.ControlPort)
	}
	if c.PreLoginIdleSeconds <= 0 || c.PostLoginIdleSeconds <= 0 {
		return fmt.Errorf("idle timeouts must be positive")
	}
	return nil
}

// LoadUsers reads the user registry document from path. A missing file
// or an empty list is valid.
func LoadUsers(path string) ([]UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users config: %w", err)
	}

	var users []UserRecord
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse users config: %w", err)
	}
	return users, nil
}
