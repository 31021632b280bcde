package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultDialTimeout bounds the TCP connect (and the jump host
	// handshake).
	DefaultDialTimeout = 30 * time.Second

	// DefaultWaitTimeout bounds a single readiness wait.  A wait that
	// times out is retried, so this governs how quickly a dead peer is
	// noticed, not how long a command may run.
	DefaultWaitTimeout = 10 * time.Second

	// DefaultReadChunk is the most bytes requested per engine read.
	DefaultReadChunk = 32 * 1024

	// DefaultQueueDepth is how many read chunks the engine buffers per
	// stream before applying backpressure.
	DefaultQueueDepth = 64

	// DefaultConfigFile is looked up under the user config directory.
	DefaultConfigFile = "sshexec/config.yaml"

	// AcceptanceConfigEnv names the variable holding the acceptance
	// test configuration path.
	AcceptanceConfigEnv = "SSHEXEC_ACCEPTANCE_CONFIG"
)
