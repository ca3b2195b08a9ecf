// Package policy holds runtime configuration and the guard rails the tool
// layer consults before acting.
package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalStateDir returns the default global state directory (~/.config/conductor).
func GlobalStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "conductor")
}

// GlobalStateFile returns the default global state file path.
func GlobalStateFile() string {
	return filepath.Join(GlobalStateDir(), "state.sqlite")
}

// Config holds the server configuration loaded from YAML.
type Config struct {
	WorkspaceRoot string   `yaml:"workspace_root"`
	EnabledTools  []string `yaml:"enabled_tools"`
	StateFile     string   `yaml:"state_file"`
	LogFile       string   `yaml:"log_file"`

	HTTPPort int `yaml:"http_port"` // 0 disables the HTTP transport

	WaitPollIntervalSeconds int `yaml:"wait_poll_interval_seconds"` // wait_for_mail fallback poll (default 2)
	WaitMaxTimeoutSeconds   int `yaml:"wait_max_timeout_seconds"`   // cap on a single wait_for_mail call (default 300)
	InboxLimit              int `yaml:"inbox_limit"`                // max messages per check_mailbox response (default 50)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		EnabledTools:            []string{"*"},
		WaitPollIntervalSeconds: 2,
		WaitMaxTimeoutSeconds:   300,
		InboxLimit:              50,
	}
}

// LoadConfig loads configuration from a YAML file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Policy answers configuration questions for the rest of the server.
type Policy struct {
	config *Config
	mu     sync.RWMutex // protects workspaceRoot for dynamic updates
}

// New creates a policy over the given config.
func New(cfg *Config) *Policy {
	return &Policy{config: cfg}
}

// WorkspaceRoot returns the current workspace root.
func (p *Policy) WorkspaceRoot() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config.WorkspaceRoot
}

// SetWorkspaceRoot dynamically changes the workspace root at runtime.
func (p *Policy) SetWorkspaceRoot(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.config.WorkspaceRoot = root
}

// StateFile returns the configured state file path.
// If unset, defaults to the global state file (~/.config/conductor/state.sqlite)
// so that all agents on the machine share the same state regardless of working
// directory.
func (p *Policy) StateFile() string {
	p.mu.RLock()
	sf := p.config.StateFile
	wsRoot := p.config.WorkspaceRoot
	p.mu.RUnlock()

	if sf == "" {
		return GlobalStateFile()
	}
	if filepath.IsAbs(sf) {
		return sf
	}
	return filepath.Join(wsRoot, sf)
}

// SignalFilePath returns the path to the notify signal file (same directory as
// the state file). Watchers use this to detect state changes without relying
// on SQLite WAL file events.
func (p *Policy) SignalFilePath() string {
	return filepath.Join(filepath.Dir(p.StateFile()), ".conductor-notify")
}

// LogFile returns the configured log file path.
// If unset, defaults to ~/.config/conductor/conductor.log.
// Set to "none" or "off" to disable file logging entirely.
func (p *Policy) LogFile() string {
	p.mu.RLock()
	lf := p.config.LogFile
	p.mu.RUnlock()

	if lf == "" {
		return filepath.Join(GlobalStateDir(), "conductor.log")
	}
	return lf
}

// IsToolEnabled checks if a tool is enabled
func (p *Policy) IsToolEnabled(name string) bool {
	for _, t := range p.config.EnabledTools {
		if t == "*" || t == name {
			return true
		}
	}
	return false
}

// HTTPPort returns the HTTP transport port, 0 when disabled.
func (p *Policy) HTTPPort() int {
	return p.config.HTTPPort
}

// WaitPollInterval returns the wait_for_mail fallback poll interval.
func (p *Policy) WaitPollInterval() time.Duration {
	if p.config.WaitPollIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(p.config.WaitPollIntervalSeconds) * time.Second
}

// WaitMaxTimeout returns the upper bound for a single wait_for_mail call.
// Requested timeouts above it are clamped, not rejected.
func (p *Policy) WaitMaxTimeout() time.Duration {
	if p.config.WaitMaxTimeoutSeconds <= 0 {
		return 300 * time.Second
	}
	return time.Duration(p.config.WaitMaxTimeoutSeconds) * time.Second
}

// InboxLimit returns the maximum messages returned by one check_mailbox call.
func (p *Policy) InboxLimit() int {
	if p.config.InboxLimit <= 0 {
		return 50
	}
	return p.config.InboxLimit
}
