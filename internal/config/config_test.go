package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_ExplicitPathOverridesDefaults(t *testing.T) {
	p := writeFile(t, t.TempDir(), "c.yaml", `
server:
  addr: ":9090"
session:
  idle_timeout: 30s
audio:
  max_chunk_ms: 500
log:
  level: debug
`)

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" || cfg.Session.IdleTimeout != 30*time.Second || cfg.Audio.MaxChunkMs != 500 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Audio.MinChunkMs != 50 || cfg.AssemblyAI.SampleRate != 16000 || cfg.Log.Format != "text" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_GuessListAndMissingFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("CONFIG_ENV", "test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load without files: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("defaults expected, got %+v", cfg.Server)
	}

	writeFile(t, dir, filepath.Join("config", "test", "config.yaml"), "profiles:\n  path: /tmp/p.json\n")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load with guess file: %v", err)
	}
	if cfg.Profiles.Path != "/tmp/p.json" {
		t.Errorf("profiles.path = %q", cfg.Profiles.Path)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad yaml", "server: [", "failed to decode"},
		{"chunk bounds", "audio:\n  min_chunk_ms: 800\n  max_chunk_ms: 100\n", "exceeds"},
		{"sample rate", "assemblyai:\n  sample_rate: 0\n", "sample_rate"},
		{"idle timeout", "session:\n  idle_timeout: 0s\n", "idle_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeFile(t, dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml", tt.body)
			_, err := Load(p)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingExplicitPath(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for a missing explicit config file")
	}
}

func TestAssemblyAI_APIKey(t *testing.T) {
	t.Setenv("CUSTOM_KEY", "secret")
	a := AssemblyAI{APIKeyEnv: "CUSTOM_KEY"}
	if a.APIKey() != "secret" {
		t.Errorf("APIKey = %q", a.APIKey())
	}
}
