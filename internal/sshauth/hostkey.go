package sshauth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback returns the host-key policy.  Without strict checking
// every key is accepted.  With it, keys are checked against knownHosts,
// or ~/.ssh/known_hosts when that is empty.
func HostKeyCallback(strict bool, knownHosts string) (ssh.HostKeyCallback, error) {
	if !strict {
		//nolint:gosec // user opted out of host key checking
		return ssh.InsecureIgnoreHostKey(), nil
	}

	if knownHosts == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(knownHosts)
	if err != nil {
		return nil, fmt.Errorf("loading known_hosts from %s: %w", knownHosts, err)
	}
	return cb, nil
}

// IsHostKeyError reports whether err came from a failed known_hosts
// check (unknown, mismatched or revoked key).
func IsHostKeyError(err error) bool {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	return errors.As(err, &keyErr) || errors.As(err, &revoked)
}
