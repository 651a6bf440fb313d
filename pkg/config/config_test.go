package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	Name  string `yaml:"name"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"`

	invalid bool
}

func (s *sample) Validate() error {
	if s.invalid || s.Port == 0 {
		return errors.New("port is required")
	}
	return nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("CFG_TEST_NAME", "threadnote")
	path := writeFile(t, t.TempDir(), "c.yaml", "name: ${CFG_TEST_NAME}\nport: 8080\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Name != "threadnote" || s.Port != 8080 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_Fallback(t *testing.T) {
	t.Setenv("CFG_TEST_PORT", "")
	path := writeFile(t, t.TempDir(), "c.yaml", "port: ${CFG_TEST_PORT:-9000}\nname: ${CFG_TEST_UNSET_NAME:-default}\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 9000 || s.Name != "default" {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := writeFile(t, dir, ".env", "CFG_TEST_DOTENV_TOKEN=from-dotenv\n")
	path := writeFile(t, dir, "c.yaml", "port: 1\ntoken: ${CFG_TEST_DOTENV_TOKEN}\n")
	t.Cleanup(func() { os.Unsetenv("CFG_TEST_DOTENV_TOKEN") })

	var s sample
	if err := Load(path, &s, WithEnvFiles(envFile, filepath.Join(dir, "missing.env"))); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Token != "from-dotenv" {
		t.Errorf("token = %q", s.Token)
	}
}

func TestLoad_DefaultFile(t *testing.T) {
	dir := t.TempDir()
	def := writeFile(t, dir, "default.yaml", "port: 7000\n")

	var s sample
	if err := Load(filepath.Join(dir, "absent.yaml"), &s, WithDefaultFile(def)); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Port != 7000 {
		t.Errorf("port = %d", s.Port)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	var s sample
	if err := Load(filepath.Join(dir, "absent.yaml"), &s); err == nil {
		t.Error("missing file should fail")
	}

	bad := writeFile(t, dir, "bad.yaml", "port: [unterminated\n")
	if err := Load(bad, &s); err == nil {
		t.Error("malformed yaml should fail")
	}

	invalid := writeFile(t, dir, "invalid.yaml", "name: x\n")
	if err := Load(invalid, &sample{}); err == nil {
		t.Error("validation failure should be reported")
	}
}
