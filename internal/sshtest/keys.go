package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/ssh"
)

// KeyPair is a generated ed25519 key written to disk in OpenSSH format.
type KeyPair struct {
	Signer      ssh.Signer
	PublicKey   ssh.PublicKey
	PrivatePath string
	PublicPath  string
}

// WriteKeyPair generates a key under dir as name and name.pub.  A
// non-empty passphrase encrypts the private key.
func WriteKeyPair(t testing.TB, dir, name, passphrase string) KeyPair {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("sshtest: generate key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("sshtest: signer: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = ssh.MarshalPrivateKey(priv, "sshtest")
	} else {
		block, err = ssh.MarshalPrivateKeyWithPassphrase(priv, "sshtest", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("sshtest: marshal key: %v", err)
	}

	kp := KeyPair{
		Signer:      signer,
		PublicKey:   signer.PublicKey(),
		PrivatePath: filepath.Join(dir, name),
		PublicPath:  filepath.Join(dir, name+".pub"),
	}
	if err := os.WriteFile(kp.PrivatePath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(kp.PublicPath, ssh.MarshalAuthorizedKey(kp.PublicKey), 0o644); err != nil {
		t.Fatal(err)
	}
	return kp
}
