package sshauth

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"sshexec/internal/sshtest"
)

func TestLoadSigner_Plain(t *testing.T) {
	kp := sshtest.WriteKeyPair(t, t.TempDir(), "id_test", "")

	signer, err := LoadSigner(kp.PrivatePath, "")
	if err != nil {
		t.Fatalf("LoadSigner: %v", err)
	}
	if err := CheckPublicKey(kp.PublicPath, signer); err != nil {
		t.Errorf("CheckPublicKey: %v", err)
	}
	if IsEncrypted(kp.PrivatePath) {
		t.Error("plain key reported as encrypted")
	}
}

func TestLoadSigner_Encrypted(t *testing.T) {
	kp := sshtest.WriteKeyPair(t, t.TempDir(), "id_test", "s3cret")

	if !IsEncrypted(kp.PrivatePath) {
		t.Error("encrypted key not detected")
	}
	if _, err := LoadSigner(kp.PrivatePath, ""); err == nil {
		t.Error("expected error without passphrase")
	}
	if _, err := LoadSigner(kp.PrivatePath, "wrong"); err == nil {
		t.Error("expected error with wrong passphrase")
	}
	if _, err := LoadSigner(kp.PrivatePath, "s3cret"); err != nil {
		t.Errorf("LoadSigner with passphrase: %v", err)
	}
}

func TestLoadSigner_Missing(t *testing.T) {
	if _, err := LoadSigner("/nonexistent/key", ""); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestLoadSigner_Garbage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "junk")
	if err := os.WriteFile(p, []byte("not a key"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSigner(p, ""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCheckPublicKey_Mismatch(t *testing.T) {
	dir := t.TempDir()
	a := sshtest.WriteKeyPair(t, dir, "a", "")
	b := sshtest.WriteKeyPair(t, dir, "b", "")

	if err := CheckPublicKey(b.PublicPath, a.Signer); err == nil {
		t.Error("mismatched public key should fail")
	}
}

func TestAgentAuth_NoSocket(t *testing.T) {
	t.Setenv("SSH_AUTH_SOCK", "")
	if _, _, err := AgentAuth(); err == nil {
		t.Error("expected error without SSH_AUTH_SOCK")
	}
}

func TestDefaultKeyFiles(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".ssh"), 0o700); err != nil {
		t.Fatal(err)
	}
	sshtest.WriteKeyPair(t, filepath.Join(home, ".ssh"), "id_rsa", "")
	sshtest.WriteKeyPair(t, filepath.Join(home, ".ssh"), "id_ed25519", "")

	got := DefaultKeyFiles()
	if len(got) != 2 || filepath.Base(got[0]) != "id_ed25519" || filepath.Base(got[1]) != "id_rsa" {
		t.Errorf("DefaultKeyFiles = %v", got)
	}
}

func TestHostKeyCallback_Insecure(t *testing.T) {
	cb, err := HostKeyCallback(false, "")
	if err != nil {
		t.Fatal(err)
	}
	if cb == nil {
		t.Fatal("callback should not be nil")
	}
}

func TestHostKeyCallback_Strict(t *testing.T) {
	kp := sshtest.WriteKeyPair(t, t.TempDir(), "host", "")
	kh := filepath.Join(t.TempDir(), "known_hosts")
	line := "[127.0.0.1]:2222 " + string(mustRead(t, kp.PublicPath))
	if err := os.WriteFile(kh, []byte(line), 0o600); err != nil {
		t.Fatal(err)
	}

	cb, err := HostKeyCallback(true, kh)
	if err != nil {
		t.Fatal(err)
	}
	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 2222}
	if err := cb("127.0.0.1:2222", addr, kp.PublicKey); err != nil {
		t.Errorf("known key rejected: %v", err)
	}

	other := sshtest.WriteKeyPair(t, t.TempDir(), "other", "")
	err = cb("127.0.0.1:2222", addr, other.PublicKey)
	if err == nil || !IsHostKeyError(err) {
		t.Errorf("mismatched key: err = %v, want host key error", err)
	}
}

func TestHostKeyCallback_MissingFile(t *testing.T) {
	if _, err := HostKeyCallback(true, "/nonexistent/known_hosts"); err == nil {
		t.Error("expected error for missing known_hosts")
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}
