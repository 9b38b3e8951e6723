package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func tempConfigPath(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, "config.json")
}

func writeTestConfig(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestLoad_WritesDefaults(t *testing.T) {
	path := tempConfigPath(t)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timeline.DedupeWindowMS != 5000 {
		t.Errorf("expected default dedupe window 5000, got %d", cfg.Timeline.DedupeWindowMS)
	}
	if cfg.Sync.FallbackReply == "" {
		t.Error("expected default fallback reply")
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected defaults to be written: %v", err)
	}
}

func TestSave_ReloadRoundTrip(t *testing.T) {
	path := tempConfigPath(t)

	original := Default()
	original.DataDir = "/tmp/test-data"
	original.LogLevel = "debug"
	original.MaxConcurrent = 8
	original.Store.BaseURL = "https://store.example"
	original.Channel.URL = "wss://store.example/ws"
	original.Channel.Reconnect.MaxAttempts = 5
	original.Sync.FallbackReply = "nothing yet"
	original.Auth.Token = "tok-round-trip"

	if err := Save(path, original); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.DataDir != original.DataDir {
		t.Errorf("DataDir mismatch: %v != %v", loaded.DataDir, original.DataDir)
	}
	if loaded.MaxConcurrent != 8 {
		t.Errorf("MaxConcurrent mismatch: %v", loaded.MaxConcurrent)
	}
	if loaded.Store.BaseURL != original.Store.BaseURL {
		t.Errorf("Store.BaseURL mismatch: %v != %v", loaded.Store.BaseURL, original.Store.BaseURL)
	}
	if loaded.Channel.Reconnect.MaxAttempts != 5 {
		t.Errorf("Channel.Reconnect.MaxAttempts mismatch: %v", loaded.Channel.Reconnect.MaxAttempts)
	}
	if loaded.Sync.FallbackReply != "nothing yet" {
		t.Errorf("Sync.FallbackReply mismatch: %v", loaded.Sync.FallbackReply)
	}
	if loaded.Auth.Token != "tok-round-trip" {
		t.Errorf("Auth.Token mismatch: %v", loaded.Auth.Token)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := tempConfigPath(t)
	if err := os.WriteFile(path, []byte(`{"log_level":"warn"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected warn, got %s", cfg.LogLevel)
	}
	if cfg.Channel.Reconnect.Multiplier != 2.0 {
		t.Errorf("expected default multiplier, got %v", cfg.Channel.Reconnect.Multiplier)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	t.Setenv("MIRRORCHAT_STORE_URL", "http://env-store:9000")
	t.Setenv("MIRRORCHAT_TOKEN", "env-token")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Store.BaseURL != "http://env-store:9000" {
		t.Errorf("expected env store url, got %s", cfg.Store.BaseURL)
	}
	if cfg.Auth.Token != "env-token" {
		t.Errorf("expected env token, got %s", cfg.Auth.Token)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	dotenv := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(dotenv, []byte("MIRRORCHAT_CHANNEL_URL=ws://dotenv:1/ws\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	// Registered so the variable godotenv sets is removed after the test.
	t.Setenv("MIRRORCHAT_CHANNEL_URL", "")
	os.Unsetenv("MIRRORCHAT_CHANNEL_URL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Channel.URL != "ws://dotenv:1/ws" {
		t.Errorf("expected channel url from .env, got %s", cfg.Channel.URL)
	}
}

func TestSave_AtomicWrite(t *testing.T) {
	path := tempConfigPath(t)

	if err := Save(path, &Config{LogLevel: "info"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("temp file should not exist after successful save")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestListValues_WithMask(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "jwt-abcd1234"

	flat, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if flat["auth.token"] != "***1234" {
		t.Errorf("expected masked auth.token=***1234, got %v", flat["auth.token"])
	}
	if flat["store.base_url"] != "http://localhost:1337" {
		t.Errorf("expected store.base_url, got %v", flat["store.base_url"])
	}

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatal(err)
	}
	if plain["auth.token"] != "jwt-abcd1234" {
		t.Errorf("expected unmasked auth.token, got %v", plain["auth.token"])
	}
}

func TestGetValue_UnknownKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, &Config{LogLevel: "info"})

	_, err := GetValue(path, "nonexistent.key")
	if err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
	expected := "unknown config key: nonexistent.key"
	if err.Error() != expected {
		t.Errorf("expected error %q, got %q", expected, err.Error())
	}
}

func TestSetValue_StringAndNumeric(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "auth.username", "1234"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "auth.username")
	if err != nil {
		t.Fatal(err)
	}
	if v != "1234" {
		t.Errorf("expected string 1234, got %v (%T)", v, v)
	}

	if err := SetValue(path, "timeline.dedupe_window_ms", "750"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Timeline.DedupeWindowMS != 750 {
		t.Errorf("expected 750, got %d", cfg.Timeline.DedupeWindowMS)
	}
	if cfg.Store.BaseURL != "http://localhost:1337" {
		t.Errorf("expected other keys preserved, got %s", cfg.Store.BaseURL)
	}
}

func TestSetValue_RejectsBadNumber(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "max_concurrent", "many"); err == nil {
		t.Fatal("expected error for non-numeric value")
	}
}

func TestSetValue_NewBooleanKey(t *testing.T) {
	path := tempConfigPath(t)
	writeTestConfig(t, path, Default())

	if err := SetValue(path, "some_flag", "true"); err != nil {
		t.Fatalf("SetValue failed: %v", err)
	}
	v, err := GetValue(path, "some_flag")
	if err != nil {
		t.Fatal(err)
	}
	if v != true {
		t.Errorf("expected some_flag=true, got %v (%T)", v, v)
	}
}
