package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/node-watchdog/config.yaml"

// Config represents the runtime configuration for the node watchdog.
type Config struct {
	NodeName              string        `yaml:"node_name"`
	Execution             ServiceConfig `yaml:"execution"`
	Consensus             ServiceConfig `yaml:"consensus"`
	DataMountDestinations []string      `yaml:"data_mount_destinations"`
	Thresholds            Thresholds    `yaml:"thresholds"`
	Timings               Timings       `yaml:"timings"`
	LockFile              string        `yaml:"lock_file"`
	LockTTLSec            int           `yaml:"lock_ttl_sec"`
	CooldownFile          string        `yaml:"cooldown_file"`
	MinRestartIntervalSec int           `yaml:"min_restart_interval_sec"`
	DisableFile           string        `yaml:"disable_file"`
	CheckIntervalSec      int           `yaml:"check_interval_sec"`
	Metrics               MetricsConfig `yaml:"metrics"`
	DryRun                bool          `yaml:"dry_run"`
}

// ServiceConfig names one supervised container and its status endpoint.
type ServiceConfig struct {
	Container string `yaml:"container"`
	Endpoint  string `yaml:"endpoint"`
}

// Thresholds hold the health classification boundaries.
type Thresholds struct {
	SyncStallSec     int    `yaml:"sync_stall_sec"`
	MinPeers         uint64 `yaml:"min_peers"`
	DiskWarnPercent  int    `yaml:"disk_warn_percent"`
	DiskCritPercent  int    `yaml:"disk_crit_percent"`
	DiskFatalPercent int    `yaml:"disk_fatal_percent"`
	RAMWarnPercent   int    `yaml:"ram_warn_percent"`
	RAMCritPercent   int    `yaml:"ram_crit_percent"`
}

// Timings hold the bounded waits used while probing and restarting services.
type Timings struct {
	RPCTimeoutSec           int `yaml:"rpc_timeout_sec"`
	StartSettleSec          int `yaml:"start_settle_sec"`
	RestartDelaySec         int `yaml:"restart_delay_sec"`
	StopConsensusTimeoutSec int `yaml:"stop_consensus_timeout_sec"`
	StopExecutionTimeoutSec int `yaml:"stop_execution_timeout_sec"`
}

// MetricsConfig defines observability exposure options.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ValidationError aggregates multiple configuration validation failures.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	var other *ValidationError
	return errors.As(target, &other)
}

// Load reads, parses, and validates a configuration from disk.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks for semantic correctness in the configuration.
func (c *Config) Validate() error {
	problems := make([]string, 0)

	if strings.TrimSpace(c.NodeName) == "" {
		problems = append(problems, "node_name is required")
	}
	problems = append(problems, c.Execution.validate("execution")...)
	problems = append(problems, c.Consensus.validate("consensus")...)
	if c.Execution.Container != "" && c.Execution.Container == c.Consensus.Container {
		problems = append(problems, "execution and consensus must name different containers")
	}
	if len(c.DataMountDestinations) == 0 {
		problems = append(problems, "data_mount_destinations must contain at least one path")
	}

	if c.Thresholds.SyncStallSec <= 0 {
		problems = append(problems, "thresholds.sync_stall_sec must be greater than zero")
	}
	if c.Thresholds.MinPeers == 0 {
		problems = append(problems, "thresholds.min_peers must be greater than zero")
	}
	problems = append(problems, validatePercentPair("disk_warn_percent", "disk_crit_percent", c.Thresholds.DiskWarnPercent, c.Thresholds.DiskCritPercent)...)
	if c.Thresholds.DiskFatalPercent <= 0 || c.Thresholds.DiskFatalPercent > 100 {
		problems = append(problems, "thresholds.disk_fatal_percent must be within (0,100]")
	} else if c.Thresholds.DiskFatalPercent < c.Thresholds.DiskCritPercent {
		problems = append(problems, "thresholds.disk_fatal_percent must not be below disk_crit_percent")
	}
	problems = append(problems, validatePercentPair("ram_warn_percent", "ram_crit_percent", c.Thresholds.RAMWarnPercent, c.Thresholds.RAMCritPercent)...)

	if c.Timings.RPCTimeoutSec <= 0 {
		problems = append(problems, "timings.rpc_timeout_sec must be greater than zero")
	}
	if c.Timings.StartSettleSec < 0 {
		problems = append(problems, "timings.start_settle_sec must be non-negative")
	}
	if c.Timings.RestartDelaySec < 0 {
		problems = append(problems, "timings.restart_delay_sec must be non-negative")
	}
	if c.Timings.StopConsensusTimeoutSec <= 0 {
		problems = append(problems, "timings.stop_consensus_timeout_sec must be greater than zero")
	}
	if c.Timings.StopExecutionTimeoutSec <= 0 {
		problems = append(problems, "timings.stop_execution_timeout_sec must be greater than zero")
	}

	if strings.TrimSpace(c.LockFile) == "" {
		problems = append(problems, "lock_file is required")
	}
	if c.LockTTLSec <= 0 {
		problems = append(problems, "lock_ttl_sec must be greater than zero")
	}
	if c.MinRestartIntervalSec < 0 {
		problems = append(problems, "min_restart_interval_sec must be non-negative")
	}
	if c.MinRestartIntervalSec > 0 && strings.TrimSpace(c.CooldownFile) == "" {
		problems = append(problems, "cooldown_file is required when min_restart_interval_sec is set")
	}
	if c.CheckIntervalSec <= 0 {
		problems = append(problems, "check_interval_sec must be greater than zero")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Listen) == "" {
		problems = append(problems, "metrics.listen must be set when metrics.enabled is true")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (s ServiceConfig) validate(role string) []string {
	problems := make([]string, 0)
	if strings.TrimSpace(s.Container) == "" {
		problems = append(problems, fmt.Sprintf("%s.container is required", role))
	}
	if strings.TrimSpace(s.Endpoint) == "" {
		problems = append(problems, fmt.Sprintf("%s.endpoint is required", role))
	} else if u, err := url.Parse(s.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("%s.endpoint must be an absolute URL", role))
	}
	return problems
}

func validatePercentPair(warnKey, critKey string, warn, crit int) []string {
	problems := make([]string, 0)
	if warn <= 0 || warn > 100 {
		problems = append(problems, fmt.Sprintf("thresholds.%s must be within (0,100]", warnKey))
	}
	if crit <= 0 || crit > 100 {
		problems = append(problems, fmt.Sprintf("thresholds.%s must be within (0,100]", critKey))
	}
	if len(problems) == 0 && crit < warn {
		problems = append(problems, fmt.Sprintf("thresholds.%s must not be below %s", critKey, warnKey))
	}
	return problems
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.NodeName) == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeName = host
		}
	}
	if strings.TrimSpace(c.Execution.Container) == "" {
		c.Execution.Container = "execution"
	}
	if strings.TrimSpace(c.Execution.Endpoint) == "" {
		c.Execution.Endpoint = "http://127.0.0.1:8545"
	}
	if strings.TrimSpace(c.Consensus.Container) == "" {
		c.Consensus.Container = "beacon"
	}
	if strings.TrimSpace(c.Consensus.Endpoint) == "" {
		c.Consensus.Endpoint = "http://127.0.0.1:5052"
	}
	if len(c.DataMountDestinations) == 0 {
		c.DataMountDestinations = []string{"/blockchain", "/data"}
	}
	if c.Thresholds.SyncStallSec == 0 {
		c.Thresholds.SyncStallSec = 1800
	}
	if c.Thresholds.MinPeers == 0 {
		c.Thresholds.MinPeers = 3
	}
	if c.Thresholds.DiskWarnPercent == 0 {
		c.Thresholds.DiskWarnPercent = 80
	}
	if c.Thresholds.DiskCritPercent == 0 {
		c.Thresholds.DiskCritPercent = 90
	}
	if c.Thresholds.DiskFatalPercent == 0 {
		c.Thresholds.DiskFatalPercent = 95
	}
	if c.Thresholds.RAMWarnPercent == 0 {
		c.Thresholds.RAMWarnPercent = 80
	}
	if c.Thresholds.RAMCritPercent == 0 {
		c.Thresholds.RAMCritPercent = 90
	}
	if c.Timings.RPCTimeoutSec == 0 {
		c.Timings.RPCTimeoutSec = 5
	}
	if c.Timings.StartSettleSec == 0 {
		c.Timings.StartSettleSec = 10
	}
	if c.Timings.RestartDelaySec == 0 {
		c.Timings.RestartDelaySec = 10
	}
	if c.Timings.StopConsensusTimeoutSec == 0 {
		c.Timings.StopConsensusTimeoutSec = 60
	}
	if c.Timings.StopExecutionTimeoutSec == 0 {
		c.Timings.StopExecutionTimeoutSec = 120
	}
	if strings.TrimSpace(c.LockFile) == "" {
		c.LockFile = "/run/node-watchdog/recovery.lock"
	}
	if c.LockTTLSec == 0 {
		c.LockTTLSec = 900
	}
	if strings.TrimSpace(c.CooldownFile) == "" {
		c.CooldownFile = "/run/node-watchdog/last-restart"
	}
	if strings.TrimSpace(c.DisableFile) == "" {
		c.DisableFile = "/etc/node-watchdog/disable"
	}
	if c.CheckIntervalSec == 0 {
		c.CheckIntervalSec = 300
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9090"
	}
}

// SyncStallThreshold returns the staleness bound after which sync counts as stuck.
func (c *Config) SyncStallThreshold() time.Duration {
	return time.Duration(c.Thresholds.SyncStallSec) * time.Second
}

// RPCTimeout returns the per-call budget for service status queries.
func (c *Config) RPCTimeout() time.Duration {
	return time.Duration(c.Timings.RPCTimeoutSec) * time.Second
}

// StartSettle returns the heuristic wait applied after starting a container.
func (c *Config) StartSettle() time.Duration {
	return time.Duration(c.Timings.StartSettleSec) * time.Second
}

// RestartDelay returns the wait between stopping and starting during a full restart.
func (c *Config) RestartDelay() time.Duration {
	return time.Duration(c.Timings.RestartDelaySec) * time.Second
}

// StopConsensusTimeout returns the bounded stop timeout for the consensus container.
func (c *Config) StopConsensusTimeout() time.Duration {
	return time.Duration(c.Timings.StopConsensusTimeoutSec) * time.Second
}

// StopExecutionTimeout returns the bounded stop timeout for the execution container.
func (c *Config) StopExecutionTimeout() time.Duration {
	return time.Duration(c.Timings.StopExecutionTimeoutSec) * time.Second
}

// LockTTL returns how long a held lease is honoured before it is considered stale.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSec) * time.Second
}

// MinRestartInterval returns the minimum spacing between automated restarts.
func (c *Config) MinRestartInterval() time.Duration {
	if c == nil {
		return 0
	}
	return time.Duration(c.MinRestartIntervalSec) * time.Second
}

// CheckInterval returns how long watch mode waits between recovery passes.
func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}
