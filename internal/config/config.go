// Package config loads the worker's main YAML configuration document.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Cluster describes how to reach the dispatcher and authenticate with it.
type Cluster struct {
	JudgeBoardURL       string `yaml:"judge_board_url"`
	HeartbeatInterval   uint32 `yaml:"heartbeat_interval"`
	AuthenticateKeyFile string `yaml:"authenticate_key_file"`
}

// Storage describes on-disk persisted state locations.
type Storage struct {
	DBFile     string `yaml:"db_file"`
	ArchiveDir string `yaml:"archive_dir"`
	JuryDir    string `yaml:"jury_dir"`
}

// Engine describes the sandbox/judge engine's defaults.
type Engine struct {
	JudgeDir                string   `yaml:"judge_dir"`
	LanguageDylibs          []string `yaml:"language_dylibs"`
	JudgeUsername           string   `yaml:"judge_username"`
	JudgeeSyscallWhitelist  []string `yaml:"judgee_syscall_whitelist"`
	JuryCPUTimeLimitMS      uint64   `yaml:"jury_cpu_time_limit"`
	JuryRealTimeLimitMS     uint64   `yaml:"jury_real_time_limit"`
	JuryMemoryLimitMB       uint64   `yaml:"jury_memory_limit"`
	JurySyscallWhitelist    []string `yaml:"jury_syscall_whitelist"`
}

// Config is the top-level worker configuration document.
type Config struct {
	Workers uint32  `yaml:"workers"`
	Cluster Cluster `yaml:"cluster"`
	Storage Storage `yaml:"storage"`
	Engine  Engine  `yaml:"engine"`
}

// Load reads and parses the YAML document at path.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}
	if cfg.Workers > 10 {
		cfg.Workers = 10
	}
	return cfg, nil
}

// LogConfig is the secondary YAML document pointed to by --logconfig.
type LogConfig struct {
	Dir      string `yaml:"dir"`
	Filename string `yaml:"filename"`
}

// LoadLogConfig reads the logging configuration document at path.
func LoadLogConfig(path string) (LogConfig, error) {
	var cfg LogConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
