package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sshexec/internal/sshtest"
)

// isolate keeps the user's config files and environment out of a test.
func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("USER", "tester")
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "SSHEXEC_") {
			t.Setenv(strings.SplitN(kv, "=", 2)[0], "")
		}
	}
}

func stubSecret(t *testing.T, secret string) *[]string {
	t.Helper()
	var prompts []string
	orig := readSecret
	readSecret = func(prompt string) (string, error) {
		prompts = append(prompts, prompt)
		return secret, nil
	}
	t.Cleanup(func() { readSecret = orig })
	return &prompts
}

func runArgs(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err = run(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), err
}

// TestExecute_Version verifies --version prints a version string.
func TestExecute_Version(t *testing.T) {
	isolate(t)
	out, _, err := runArgs(t, "--version")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "sshexec ") {
		t.Errorf("output = %q", out)
	}
}

// TestExecute_Help verifies --help (and no args) returns without error.
func TestExecute_Help(t *testing.T) {
	isolate(t)
	for _, args := range [][]string{{"--help"}, {}} {
		name := "no-args"
		if len(args) > 0 {
			name = args[0]
		}
		t.Run(name, func(t *testing.T) {
			_, errOut, err := runArgs(t, args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(errOut, "Usage:") {
				t.Errorf("usage not printed: %q", errOut)
			}
		})
	}
}

// TestExecute_InvalidFlags verifies unknown flags produce an error.
func TestExecute_InvalidFlags(t *testing.T) {
	isolate(t)
	if _, _, err := runArgs(t, "--nonexistent-flag"); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestExecute_DryRun(t *testing.T) {
	isolate(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"full target", []string{"--dry-run", "deploy@build:2222", "uptime"}, "would run 1 command(s) on deploy@build:2222"},
		{"default user and port", []string{"--dry-run", "build", "a", "b"}, "would run 2 command(s) on tester@build:22"},
		{"flags override target", []string{"--dry-run", "-l", "ops", "-p", "2200", "deploy@build:2222", "x"}, "on ops@build:2200"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := runArgs(t, tt.args...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(out, tt.want) {
				t.Errorf("output %q should contain %q", out, tt.want)
			}
		})
	}
}

func TestExecute_DryRunInvalid(t *testing.T) {
	isolate(t)
	tests := []struct {
		name    string
		args    []string
		wantSub string
	}{
		{"no command", []string{"--dry-run", "build"}, "command required"},
		{"bad target", []string{"--dry-run", "a@b@c", "x"}, "invalid target"},
		{"bad jump", []string{"--dry-run", "-J", "gw:0", "build", "x"}, "jump host"},
		{"zero chunk", []string{"--dry-run", "--read-chunk", "0", "build", "x"}, "read chunk"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runArgs(t, tt.args...)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err, tt.wantSub)
			}
		})
	}
}

func TestExecute_ConfigFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "sshexec.yaml")
	if err := os.WriteFile(path, []byte("user: fromfile\nport: 2022\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, _, err := runArgs(t, "--config", path, "--dry-run", "build", "x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "fromfile@build:2022") {
		t.Errorf("output = %q", out)
	}

	t.Setenv("SSHEXEC_USER", "fromenv")
	out, _, err = runArgs(t, "--config="+path, "--dry-run", "build", "x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "fromenv@build:2022") {
		t.Errorf("environment should beat the file, output = %q", out)
	}
}

func TestExecute_ConfigFileMissing(t *testing.T) {
	isolate(t)
	missing := filepath.Join(t.TempDir(), "absent.yaml")
	if _, _, err := runArgs(t, "--config", missing, "--dry-run", "build", "x"); err == nil {
		t.Fatal("an explicit config file must exist")
	}
}

// ── against a live server ────────────────────────────────────────────

func TestExecute_Password(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	prompts := stubSecret(t, "hunter2")

	out, errOut, err := runArgs(t, "-q", "-P", "deploy@"+srv.Addr, "echo foo")
	if err != nil {
		t.Fatalf("run: %v (stderr %q)", err, errOut)
	}
	if out != "foo\n" {
		t.Errorf("stdout = %q, want foo", out)
	}
	if len(*prompts) != 1 {
		t.Errorf("prompts = %v", *prompts)
	}
}

func TestExecute_PasswordFromEnv(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	prompts := stubSecret(t, "unused")
	t.Setenv("SSHEXEC_PASSWORD", "hunter2")

	if _, _, err := runArgs(t, "-q", "deploy@"+srv.Addr, "echo ok"); err != nil {
		t.Fatal(err)
	}
	if len(*prompts) != 0 {
		t.Errorf("no prompt expected, got %v", *prompts)
	}
}

func TestExecute_Keypair(t *testing.T) {
	isolate(t)
	kp := sshtest.WriteKeyPair(t, t.TempDir(), "id_ed25519", "")
	srv := sshtest.Start(t, sshtest.WithAuthorizedKey("deploy", kp.PublicKey))

	out, _, err := runArgs(t, "-q", "-i", kp.PrivatePath, "deploy@"+srv.Addr, "echo key")
	if err != nil {
		t.Fatal(err)
	}
	if out != "key\n" {
		t.Errorf("stdout = %q", out)
	}
}

func TestExecute_EncryptedKeyPrompts(t *testing.T) {
	isolate(t)
	kp := sshtest.WriteKeyPair(t, t.TempDir(), "id_ed25519", "s3cret")
	srv := sshtest.Start(t, sshtest.WithAuthorizedKey("deploy", kp.PublicKey))
	prompts := stubSecret(t, "s3cret")

	if _, _, err := runArgs(t, "-q", "-i", kp.PrivatePath, "deploy@"+srv.Addr, "echo ok"); err != nil {
		t.Fatal(err)
	}
	if len(*prompts) != 1 || !strings.Contains((*prompts)[0], "passphrase") {
		t.Errorf("prompts = %v", *prompts)
	}
}

func TestExecute_MultipleCommandsArePrefixed(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	t.Setenv("SSHEXEC_PASSWORD", "hunter2")

	out, errOut, err := runArgs(t, "-q", "deploy@"+srv.Addr, "seq 2", "echo two >&2")
	if err != nil {
		t.Fatal(err)
	}
	if out != "[1] 1\n[1] 2\n" {
		t.Errorf("stdout = %q", out)
	}
	if errOut != "[2] two\n" {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestExecute_ExitStatus(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	t.Setenv("SSHEXEC_PASSWORD", "hunter2")

	_, _, err := runArgs(t, "-q", "deploy@"+srv.Addr, "exit 3", "echo fine")
	ee, ok := err.(*ExitError)
	if !ok {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if ee.Status != 3 || ExitCode(err) != 3 {
		t.Errorf("status = %d, ExitCode = %d, want 3", ee.Status, ExitCode(err))
	}
	if ExitCode(fmt.Errorf("other")) != 1 {
		t.Error("non-remote errors exit 1")
	}
}

func TestExecute_WrongPassword(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	t.Setenv("SSHEXEC_PASSWORD", "nope")

	_, _, err := runArgs(t, "-q", "deploy@"+srv.Addr, "echo x")
	if err == nil || !strings.Contains(err.Error(), "password") {
		t.Fatalf("err = %v, want an authentication error", err)
	}
}

func TestExecute_MetricsAtDebug(t *testing.T) {
	isolate(t)
	srv := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	t.Setenv("SSHEXEC_PASSWORD", "hunter2")

	_, errOut, err := runArgs(t, "-vv", "deploy@"+srv.Addr, "echo x")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(errOut, `"channels_total"`) {
		t.Errorf("metrics JSON missing from stderr: %q", errOut)
	}
}

func TestExecute_Jump(t *testing.T) {
	isolate(t)
	target := sshtest.Start(t, sshtest.WithPassword("deploy", "hunter2"))
	gw := sshtest.Start(t, sshtest.WithPassword("ops", "gwpass"))
	t.Setenv("SSHEXEC_PASSWORD", "hunter2")
	stubSecret(t, "gwpass")

	out, _, err := runArgs(t, "-q", "-J", "ops@"+gw.Addr, "--jump-password",
		"deploy@"+target.Addr, "echo hop")
	if err != nil {
		t.Fatal(err)
	}
	if out != "hop\n" {
		t.Errorf("stdout = %q", out)
	}
}

// ── prefixWriter ─────────────────────────────────────────────────────

func TestPrefixWriter(t *testing.T) {
	tests := []struct {
		name   string
		writes []string
		want   string
	}{
		{"one line", []string{"a\n"}, "> a\n"},
		{"split line", []string{"a", "b\n"}, "> ab\n"},
		{"many lines", []string{"a\nb\nc"}, "> a\n> b\n> c"},
		{"newline at write boundary", []string{"a\n", "b\n"}, "> a\n> b\n"},
		{"empty write", []string{""}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			w := newPrefixWriter(&buf, "> ")
			for _, s := range tt.writes {
				n, err := w.Write([]byte(s))
				if err != nil || n != len(s) {
					t.Fatalf("Write(%q) = %d, %v", s, n, err)
				}
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
