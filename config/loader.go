package config

// loader.go - configuration loading from files and environment
// variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables
//   3. Config file (YAML)
//   4. Defaults   (defaults.go)

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ── Config file ──────────────────────────────────────────────────────

// fileConfig is the on-disk shape of the config file.  Zero values mean
// "not set" and leave the current value alone.
type fileConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	Identity       string        `yaml:"identity"`
	PublicKey      string        `yaml:"public_key"`
	StrictHostKey  bool          `yaml:"strict_host_key"`
	KnownHosts     string        `yaml:"known_hosts"`
	Jump           string        `yaml:"jump"`
	JumpIdentity   string        `yaml:"jump_identity"`
	UseAgent       bool          `yaml:"use_agent"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
	WaitTimeout    time.Duration `yaml:"wait_timeout"`
	ReadChunk      int           `yaml:"read_chunk"`
	QueueDepth     int           `yaml:"queue_depth"`
	Verbose        int           `yaml:"verbose"`
	Timestamps     bool          `yaml:"timestamps"`
	PromptPassword bool          `yaml:"password_prompt"`
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadFile overlays the YAML file at path onto cfg.  A missing file is
// not an error when optional is true.
func LoadFile(cfg *Config, path string, optional bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	fc.apply(cfg)
	return nil
}

func (fc *fileConfig) apply(cfg *Config) {
	setString(&cfg.Host, fc.Host)
	setInt(&cfg.Port, fc.Port)
	setString(&cfg.User, fc.User)
	setString(&cfg.KeyPath, fc.Identity)
	setString(&cfg.PublicKeyPath, fc.PublicKey)
	setString(&cfg.KnownHostsPath, fc.KnownHosts)
	setString(&cfg.JumpSpec, fc.Jump)
	setString(&cfg.JumpKeyPath, fc.JumpIdentity)
	setInt(&cfg.ReadChunk, fc.ReadChunk)
	setInt(&cfg.QueueDepth, fc.QueueDepth)
	setInt(&cfg.Verbose, fc.Verbose)
	if fc.DialTimeout > 0 {
		cfg.DialTimeout = fc.DialTimeout
	}
	if fc.WaitTimeout > 0 {
		cfg.WaitTimeout = fc.WaitTimeout
	}
	cfg.StrictHostKey = cfg.StrictHostKey || fc.StrictHostKey
	cfg.UseSSHAgent = cfg.UseSSHAgent || fc.UseAgent
	cfg.Timestamps = cfg.Timestamps || fc.Timestamps
	cfg.PromptPassword = cfg.PromptPassword || fc.PromptPassword
}

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the SSHEXEC_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	setString(&cfg.Host, os.Getenv("SSHEXEC_HOST"))
	setInt(&cfg.Port, envInt("SSHEXEC_PORT"))
	setString(&cfg.User, os.Getenv("SSHEXEC_USER"))

	// Authentication
	setString(&cfg.Password, os.Getenv("SSHEXEC_PASSWORD"))
	setString(&cfg.KeyPath, os.Getenv("SSHEXEC_IDENTITY"))
	setString(&cfg.PublicKeyPath, os.Getenv("SSHEXEC_PUBLIC_KEY"))
	setString(&cfg.Passphrase, os.Getenv("SSHEXEC_PASSPHRASE"))
	if envBool("SSHEXEC_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	setString(&cfg.KnownHostsPath, os.Getenv("SSHEXEC_KNOWN_HOSTS"))

	// Jump host
	setString(&cfg.JumpSpec, os.Getenv("SSHEXEC_JUMP"))
	setString(&cfg.JumpKeyPath, os.Getenv("SSHEXEC_JUMP_IDENTITY"))
	if envBool("SSHEXEC_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}

	// Engine
	if v := envInt("SSHEXEC_DIAL_TIMEOUT"); v > 0 {
		cfg.DialTimeout = secondsDuration(v)
	}
	if v := envInt("SSHEXEC_WAIT_TIMEOUT"); v > 0 {
		cfg.WaitTimeout = secondsDuration(v)
	}
	setInt(&cfg.ReadChunk, envInt("SSHEXEC_READ_CHUNK"))
	setInt(&cfg.QueueDepth, envInt("SSHEXEC_QUEUE_DEPTH"))

	// Output
	setInt(&cfg.Verbose, envInt("SSHEXEC_VERBOSE"))
	if envBool("SSHEXEC_TIMESTAMPS") {
		cfg.Timestamps = true
	}
}

// ── Acceptance tests ─────────────────────────────────────────────────

// AcceptanceConfig is the server a real-host acceptance run talks to.
// It is read from the "acceptance" key of a YAML file.
type AcceptanceConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	PublicKeyPath  string `yaml:"public_key_path"`
	PrivateKeyPath string `yaml:"private_key_path"`
}

// LoadAcceptance reads the acceptance configuration from path.
func LoadAcceptance(path string) (*AcceptanceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read acceptance config: %w", err)
	}
	var doc struct {
		Acceptance *AcceptanceConfig `yaml:"acceptance"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse acceptance config: %w", err)
	}
	if doc.Acceptance == nil {
		return nil, fmt.Errorf("%s: missing \"acceptance\" section", path)
	}
	ac := doc.Acceptance
	if ac.Host == "" || ac.User == "" {
		return nil, fmt.Errorf("%s: acceptance host and user are required", path)
	}
	if ac.Port == 0 {
		ac.Port = DefaultSSHPort
	}
	return ac, nil
}

// ── helpers ──────────────────────────────────────────────────────────

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
