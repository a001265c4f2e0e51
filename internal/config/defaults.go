package config

const (
	// Filesystem paths
	DefaultConfigPath = "/etc/pve-nestlab/config.yml"
	DefaultLogDir     = "/var/log/pve-nestlab"

	// Service defaults
	DefaultBindAddress = "0.0.0.0"
	DefaultPort        = 8090

	// Auth modes
	AuthModeNone     = "none"
	AuthModePassword = "password"

	// Batch provisioning limits
	DefaultVMCountMin       = 10
	DefaultVMCountMax       = 15
	DefaultProvisionWorkers = 3

	// Polling and timeouts (seconds)
	DefaultTaskTimeoutSec         = 600
	DefaultPollIntervalSec        = 2
	DefaultReachabilityTimeoutSec = 90

	// Operation log
	DefaultLogCapacity = 100

	// Nested hypervisor VM defaults
	DefaultNestedName     = "nested-proxmox"
	DefaultNestedMemoryMB = 16384
	DefaultNestedCores    = 4
	DefaultNestedDiskGB   = 100

	// Guest VM defaults
	DefaultGuestMemoryMB = 512
	DefaultGuestCores    = 1
	DefaultGuestDiskGB   = 8

	// Network
	DefaultBridge = "vmbr0"
)

// Default returns a runnable configuration so `serve` works without a file.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			BindAddress: DefaultBindAddress,
			Port:        DefaultPort,
		},
		Auth: AuthConfig{Mode: AuthModeNone},
		Proxmox: ProxmoxConfig{
			TLSSkipVerify: true,
		},
		Limits: LimitsConfig{
			VMCountMin:             DefaultVMCountMin,
			VMCountMax:             DefaultVMCountMax,
			ProvisionWorkers:       DefaultProvisionWorkers,
			TaskTimeoutSec:         DefaultTaskTimeoutSec,
			PollIntervalSec:        DefaultPollIntervalSec,
			ReachabilityTimeoutSec: DefaultReachabilityTimeoutSec,
			LogCapacity:            DefaultLogCapacity,
		},
		Nested: NestedDefaults{
			Name:     DefaultNestedName,
			MemoryMB: DefaultNestedMemoryMB,
			Cores:    DefaultNestedCores,
			DiskGB:   DefaultNestedDiskGB,
			Bridge:   DefaultBridge,
		},
		Guest: GuestDefaults{
			MemoryMB: DefaultGuestMemoryMB,
			Cores:    DefaultGuestCores,
			DiskGB:   DefaultGuestDiskGB,
			Bridge:   DefaultBridge,
		},
	}
}
