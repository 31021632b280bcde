package config

import (
	"testing"
)

// ── ParseTarget ──────────────────────────────────────────────────────

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantUser string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"full", "deploy@build.example.com:2222", "deploy", "build.example.com", 2222, false},
		{"no port", "root@gateway", "root", "gateway", 22, false},
		{"no user", "jump-host:2200", "", "jump-host", 2200, false},
		{"host only", "gateway.local", "", "gateway.local", 22, false},
		{"bad port", "user@host:999999", "", "", 0, true},
		{"zero port", "user@host:0", "", "", 0, true},
		{"empty", "", "", "", 0, true},
		{"colon only", ":", "", "", 0, true},
		{"double at", "a@b@c", "", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, host, port, err := ParseTarget(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr = %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if user != tt.wantUser || host != tt.wantHost || port != tt.wantPort {
				t.Errorf("got (%q, %q, %d), want (%q, %q, %d)",
					user, host, port, tt.wantUser, tt.wantHost, tt.wantPort)
			}
		})
	}
}

// ── ApplyJumpSpec ────────────────────────────────────────────────────

func TestApplyJumpSpec(t *testing.T) {
	cfg := New()
	cfg.User = "deploy"
	cfg.JumpSpec = "bastion:2200"
	if err := cfg.ApplyJumpSpec(); err != nil {
		t.Fatal(err)
	}
	if !cfg.JumpEnabled {
		t.Fatal("jump host should be enabled")
	}
	if cfg.JumpUser != "deploy" || cfg.JumpHost != "bastion" || cfg.JumpPort != 2200 {
		t.Errorf("got (%q, %q, %d)", cfg.JumpUser, cfg.JumpHost, cfg.JumpPort)
	}
}

func TestApplyJumpSpec_Empty(t *testing.T) {
	cfg := &Config{JumpEnabled: true}
	if err := cfg.ApplyJumpSpec(); err != nil {
		t.Fatal(err)
	}
	if cfg.JumpEnabled {
		t.Error("empty spec should disable the jump host")
	}
}

func TestApplyJumpSpec_Invalid(t *testing.T) {
	cfg := &Config{JumpSpec: "ops@bastion:abc"}
	if err := cfg.ApplyJumpSpec(); err == nil {
		t.Fatal("expected error")
	}
}

// ── Defaults ─────────────────────────────────────────────────────────

func TestNew_Defaults(t *testing.T) {
	cfg := New()
	if cfg.Port != DefaultSSHPort {
		t.Errorf("Port = %d, want %d", cfg.Port, DefaultSSHPort)
	}
	if cfg.WaitTimeout != DefaultWaitTimeout {
		t.Errorf("WaitTimeout = %v, want %v", cfg.WaitTimeout, DefaultWaitTimeout)
	}
	if cfg.DialTimeout != DefaultDialTimeout {
		t.Errorf("DialTimeout = %v, want %v", cfg.DialTimeout, DefaultDialTimeout)
	}
	if cfg.ReadChunk != DefaultReadChunk {
		t.Errorf("ReadChunk = %d, want %d", cfg.ReadChunk, DefaultReadChunk)
	}
	if cfg.Verbose != 1 {
		t.Errorf("Verbose = %d, want 1", cfg.Verbose)
	}
}
