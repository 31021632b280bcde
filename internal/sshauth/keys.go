// Package sshauth loads the credentials and host-key policy shared by
// the engine and the jump-host dialer.
package sshauth

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// ErrPassphraseRequired is returned by LoadSigner for an encrypted key
// when no passphrase was given.
var ErrPassphraseRequired = errors.New("private key is encrypted")

// LoadSigner reads a private key file.  passphrase is only used when
// the key turns out to be encrypted.
func LoadSigner(privateKeyPath, passphrase string) (ssh.Signer, error) {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(data)
	if err == nil {
		return signer, nil
	}
	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	if passphrase == "" {
		return nil, fmt.Errorf("%s: %w", privateKeyPath, ErrPassphraseRequired)
	}
	signer, err = ssh.ParsePrivateKeyWithPassphrase(data, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("decrypting key: %w", err)
	}
	return signer, nil
}

// IsEncrypted reports whether the key at path needs a passphrase.
func IsEncrypted(privateKeyPath string) bool {
	data, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return false
	}
	_, err = ssh.ParsePrivateKey(data)
	var missing *ssh.PassphraseMissingError
	return errors.As(err, &missing)
}

// CheckPublicKey verifies that the authorized_keys-format file at
// publicKeyPath holds the public half of signer.
func CheckPublicKey(publicKeyPath string, signer ssh.Signer) error {
	data, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}
	pub, _, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}
	if !bytes.Equal(pub.Marshal(), signer.PublicKey().Marshal()) {
		return fmt.Errorf("public key %s does not match the private key", publicKeyPath)
	}
	return nil
}

// AgentAuth returns a public-key method backed by the agent listening
// on SSH_AUTH_SOCK.  The returned closer releases the agent socket.
func AgentAuth() (ssh.AuthMethod, io.Closer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil, fmt.Errorf("SSH_AUTH_SOCK is not set")
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to agent at %s: %w", sock, err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers), conn, nil
}

// DefaultKeyFiles lists the conventional private key files under
// ~/.ssh that exist, most preferred first.
func DefaultKeyFiles() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	var out []string
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			out = append(out, p)
		}
	}
	return out
}
