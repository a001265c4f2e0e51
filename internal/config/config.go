// Package config loads and validates the pve-nestlab configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration written to config.yml.
type Config struct {
	Service ServiceConfig  `yaml:"service"`
	Auth    AuthConfig     `yaml:"auth"`
	Proxmox ProxmoxConfig  `yaml:"proxmox"`
	Limits  LimitsConfig   `yaml:"limits"`
	Nested  NestedDefaults `yaml:"nested"`
	Guest   GuestDefaults  `yaml:"guest"`
}

type ServiceConfig struct {
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`
}

type AuthConfig struct {
	Mode         string `yaml:"mode"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// ProxmoxConfig controls outbound TLS behavior for every hypervisor the
// service talks to. Lab hosts typically run self-signed certificates.
type ProxmoxConfig struct {
	TLSSkipVerify bool   `yaml:"tls_skip_verify"`
	TLSCACertPath string `yaml:"tls_ca_cert,omitempty"`
}

type LimitsConfig struct {
	VMCountMin             int `yaml:"vm_count_min"`
	VMCountMax             int `yaml:"vm_count_max"`
	ProvisionWorkers       int `yaml:"provision_workers"`
	TaskTimeoutSec         int `yaml:"task_timeout_sec"`
	PollIntervalSec        int `yaml:"poll_interval_sec"`
	ReachabilityTimeoutSec int `yaml:"reachability_timeout_sec"`
	LogCapacity            int `yaml:"log_capacity"`
}

// NestedDefaults are applied to a create-nested request wherever the
// operator left a field empty.
type NestedDefaults struct {
	Name     string `yaml:"name"`
	MemoryMB int    `yaml:"memory_mb"`
	Cores    int    `yaml:"cores"`
	DiskGB   int    `yaml:"disk_gb"`
	Bridge   string `yaml:"bridge"`
	Storage  string `yaml:"storage,omitempty"`
}

// GuestDefaults shape every VM provisioned inside the nested hypervisor.
type GuestDefaults struct {
	MemoryMB int    `yaml:"memory_mb"`
	Cores    int    `yaml:"cores"`
	DiskGB   int    `yaml:"disk_gb"`
	Bridge   string `yaml:"bridge"`
	Storage  string `yaml:"storage,omitempty"`
}

// TaskTimeout returns the external task-wait timeout as a duration.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Limits.TaskTimeoutSec) * time.Second
}

// PollInterval returns the task-status poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Limits.PollIntervalSec) * time.Second
}

// ReachabilityTimeout returns the per-VM guest reachability bound.
func (c *Config) ReachabilityTimeout() time.Duration {
	return time.Duration(c.Limits.ReachabilityTimeoutSec) * time.Second
}

// Load reads and parses a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Start from defaults so partial files stay runnable.
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and values are in range.
func (c *Config) Validate() error {
	if c.Service.BindAddress == "" {
		return fmt.Errorf("service.bind_address is required")
	}
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535")
	}

	switch c.Auth.Mode {
	case AuthModeNone, AuthModePassword:
		// ok
	default:
		return fmt.Errorf("auth.mode must be %q or %q", AuthModeNone, AuthModePassword)
	}
	if c.Auth.Mode == AuthModePassword && c.Auth.PasswordHash == "" {
		return fmt.Errorf("auth.password_hash is required when auth.mode is %q", AuthModePassword)
	}

	if c.Limits.VMCountMin < 1 {
		return fmt.Errorf("limits.vm_count_min must be >= 1")
	}
	if c.Limits.VMCountMax < c.Limits.VMCountMin {
		return fmt.Errorf("limits.vm_count_max must be >= limits.vm_count_min")
	}
	if c.Limits.ProvisionWorkers < 1 {
		return fmt.Errorf("limits.provision_workers must be >= 1")
	}
	if c.Limits.TaskTimeoutSec < 1 {
		return fmt.Errorf("limits.task_timeout_sec must be >= 1")
	}
	if c.Limits.PollIntervalSec < 1 {
		return fmt.Errorf("limits.poll_interval_sec must be >= 1")
	}
	if c.Limits.ReachabilityTimeoutSec < 1 {
		return fmt.Errorf("limits.reachability_timeout_sec must be >= 1")
	}
	if c.Limits.LogCapacity < 1 {
		return fmt.Errorf("limits.log_capacity must be >= 1")
	}

	if c.Nested.MemoryMB < 2048 {
		return fmt.Errorf("nested.memory_mb must be >= 2048 (a hypervisor needs room)")
	}
	if c.Nested.Cores < 1 {
		return fmt.Errorf("nested.cores must be >= 1")
	}
	if c.Nested.DiskGB < 8 {
		return fmt.Errorf("nested.disk_gb must be >= 8")
	}
	if c.Nested.Bridge == "" {
		return fmt.Errorf("nested.bridge is required")
	}

	if c.Guest.MemoryMB < 128 {
		return fmt.Errorf("guest.memory_mb must be >= 128")
	}
	if c.Guest.Cores < 1 {
		return fmt.Errorf("guest.cores must be >= 1")
	}
	if c.Guest.DiskGB < 1 {
		return fmt.Errorf("guest.disk_gb must be >= 1")
	}
	if c.Guest.Bridge == "" {
		return fmt.Errorf("guest.bridge is required")
	}

	return nil
}

// Save writes the config to the given path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
