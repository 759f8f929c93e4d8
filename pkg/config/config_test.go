package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`
}

func (s *sample) Validate() error {
	if s.Port <= 0 {
		return errors.New("port must be positive")
	}
	return nil
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_KeepsDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("SAMPLE_TOKEN", "s3cret")
	p := writeFile(t, "name: api\ntoken: ${SAMPLE_TOKEN}\n")

	cfg := sample{Port: 8080}
	if err := Load(p, &cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "api" || cfg.Port != 8080 || cfg.Token != "s3cret" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoad_Errors(t *testing.T) {
	cfg := sample{Port: 1}
	if err := Load(filepath.Join(t.TempDir(), "missing.yaml"), &cfg); err == nil {
		t.Error("expected error for missing file")
	}
	if err := Load(writeFile(t, "name: [unclosed\n"), &cfg); err == nil {
		t.Error("expected parse error")
	}
	err := Load(writeFile(t, "port: 0\n"), &cfg)
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Errorf("validation err = %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	cfg := sample{Port: 9}
	found, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &cfg)
	if err != nil || found {
		t.Errorf("missing file: found=%v err=%v", found, err)
	}

	bad := sample{}
	if _, err := LoadOptional(filepath.Join(t.TempDir(), "missing.yaml"), &bad); err == nil {
		t.Error("defaults are still validated")
	}

	found, err = LoadOptional(writeFile(t, "port: 7\n"), &cfg)
	if err != nil || !found || cfg.Port != 7 {
		t.Errorf("present file: found=%v err=%v cfg=%+v", found, err, cfg)
	}
}
