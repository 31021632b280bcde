// Package config defines the runtime configuration for sshexec and
// provides helpers for parsing [user@]host[:port] targets.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Config holds every tuneable for a single sshexec run.
type Config struct {
	// ── Target ───────────────────────────────────────────────────────
	Host string
	Port int
	User string

	// ── Authentication ───────────────────────────────────────────────
	Password       string
	PromptPassword bool // true → prompt interactively
	KeyPath        string
	PublicKeyPath  string // "" derives the public key from KeyPath
	Passphrase     string
	StrictHostKey  bool
	KnownHostsPath string

	// ── Jump host ────────────────────────────────────────────────────
	JumpSpec        string // raw user@host[:port] from -J
	JumpEnabled     bool
	JumpUser        string
	JumpHost        string
	JumpPort        int
	JumpKeyPath     string
	JumpPassword    bool // true → prompt interactively
	UseSSHAgent     bool
	JumpStrictCheck bool

	// ── Engine ───────────────────────────────────────────────────────
	DialTimeout time.Duration
	WaitTimeout time.Duration
	ReadChunk   int
	QueueDepth  int

	// ── Execution ────────────────────────────────────────────────────
	Commands []string

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Timestamps bool
}

// New returns a Config populated with the defaults.
func New() *Config {
	return &Config{
		Port:        DefaultSSHPort,
		DialTimeout: DefaultDialTimeout,
		WaitTimeout: DefaultWaitTimeout,
		ReadChunk:   DefaultReadChunk,
		QueueDepth:  DefaultQueueDepth,
		Verbose:     1,
	}
}

// ── Target parser ────────────────────────────────────────────────────

// targetRe matches [user@]host[:port].
var targetRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseTarget extracts user, host, and port from a string such as
// "deploy@build.example.com:2222".  Port defaults to 22.
func ParseTarget(spec string) (user, host string, port int, err error) {
	m := targetRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid target %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyJumpSpec parses JumpSpec into the Jump* fields.  An empty spec
// disables the jump host.
func (c *Config) ApplyJumpSpec() error {
	if c.JumpSpec == "" {
		c.JumpEnabled = false
		return nil
	}
	user, host, port, err := ParseTarget(c.JumpSpec)
	if err != nil {
		return fmt.Errorf("jump host: %w", err)
	}
	if user == "" {
		user = c.User
	}
	c.JumpEnabled = true
	c.JumpUser, c.JumpHost, c.JumpPort = user, host, port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("hostname is required (use --help for usage)")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range 1-65535", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required\n  hint: use user@host or --user")
	}
	if len(c.Commands) == 0 {
		return fmt.Errorf("at least one command is required")
	}

	if c.Password != "" && c.PromptPassword {
		return fmt.Errorf("--password-prompt and a configured password are mutually exclusive")
	}
	if c.KeyPath == "" && c.PublicKeyPath != "" {
		return fmt.Errorf("--pubkey needs --identity\n  hint: pass the private key with -i")
	}

	if c.ReadChunk < 1 {
		return fmt.Errorf("read chunk must be positive")
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	if c.JumpEnabled && c.JumpHost == "" {
		return fmt.Errorf("jump host is required")
	}
	if c.JumpEnabled && c.JumpUser == "" {
		return fmt.Errorf("jump user is required\n  hint: use -J user@host")
	}
	return nil
}
