package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "127.0.0.1" {
		t.Errorf("host = %q, want 127.0.0.1", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 18789 {
		t.Errorf("port = %d, want 18789", cfg.Gateway.Port)
	}
	if cfg.Agents.Default != "assistant" {
		t.Errorf("default agent = %q, want assistant", cfg.Agents.Default)
	}
	if cfg.Tools.Timeout != 120_000 {
		t.Errorf("timeout = %d, want 120000", cfg.Tools.Timeout)
	}
	if cfg.Tools.MaxOutputBytes != 100*1024 {
		t.Errorf("maxOutputBytes = %d, want 102400", cfg.Tools.MaxOutputBytes)
	}
	if !cfg.AuditLogEnabled() || !cfg.SecretsFilterEnabled() {
		t.Error("security toggles should default on")
	}
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"gateway": {"port": 9999},
		"agents": {"default": "researcher", "workspacePath": "/tmp/ws"},
		"tools": {"timeout": 5000, "maxOutputBytes": 1024},
		"security": {"auditLog": false}
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Gateway.Port)
	}
	if cfg.Agents.Default != "researcher" {
		t.Errorf("default agent = %q", cfg.Agents.Default)
	}
	if got := cfg.WorkspaceDir(dir); got != "/tmp/ws" {
		t.Errorf("WorkspaceDir = %q, want /tmp/ws", got)
	}
	if cfg.AuditLogEnabled() {
		t.Error("auditLog=false should disable the audit log")
	}
	if !cfg.SecretsFilterEnabled() {
		t.Error("secretsFilter should stay on when unset")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(EnvHost, "::1")
	t.Setenv(EnvPort, "28789")
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Host != "::1" {
		t.Errorf("host = %q, want ::1", cfg.Gateway.Host)
	}
	if cfg.Gateway.Port != 28789 {
		t.Errorf("port = %d, want 28789", cfg.Gateway.Port)
	}
}

func TestLoadBadEnvPort(t *testing.T) {
	t.Setenv(EnvPort, "nope")
	if _, err := Load(filepath.Join(t.TempDir(), "config.json")); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWorkspaceDirDefault(t *testing.T) {
	cfg := Default()
	got := cfg.WorkspaceDir("/data")
	if got != filepath.Join("/data", "workspace") {
		t.Errorf("WorkspaceDir = %q", got)
	}
}
