package config

import (
	"testing"
)

func TestFlatten_Nested(t *testing.T) {
	m := map[string]any{
		"log_level": "info",
		"store": map[string]any{
			"base_url": "http://localhost:1337",
		},
		"channel": map[string]any{
			"reconnect": map[string]any{
				"multiplier": 2.0,
			},
		},
	}
	got := Flatten(m)
	if len(got) != 3 {
		t.Fatalf("expected 3 keys, got %d: %v", len(got), got)
	}
	if got["store.base_url"] != "http://localhost:1337" {
		t.Errorf("expected store.base_url, got %v", got["store.base_url"])
	}
	if got["channel.reconnect.multiplier"] != 2.0 {
		t.Errorf("expected channel.reconnect.multiplier=2, got %v", got["channel.reconnect.multiplier"])
	}
}

func TestFlatten_EmptyNestedMap(t *testing.T) {
	got := Flatten(map[string]any{"auth": map[string]any{}})
	if len(got) != 0 {
		t.Errorf("expected empty nested map to produce no keys, got %v", got)
	}
}

func TestUnflatten_Nested(t *testing.T) {
	got := Unflatten(map[string]any{
		"auth.token":    "tok",
		"auth.base_url": "http://auth",
		"log_level":     "debug",
	})
	auth, ok := got["auth"].(map[string]any)
	if !ok {
		t.Fatalf("expected auth to be map, got %T", got["auth"])
	}
	if auth["token"] != "tok" || auth["base_url"] != "http://auth" {
		t.Errorf("unexpected auth map %v", auth)
	}
	if got["log_level"] != "debug" {
		t.Errorf("expected log_level=debug, got %v", got["log_level"])
	}
}

func TestRoundTrip_FlattenUnflatten(t *testing.T) {
	cfg := Default()
	cfg.Auth.Token = "secret-token"
	original, err := ToMap(cfg)
	if err != nil {
		t.Fatal(err)
	}

	restored := Unflatten(Flatten(original))

	auth := restored["auth"].(map[string]any)
	if auth["token"] != "secret-token" {
		t.Errorf("auth.token mismatch: %v", auth["token"])
	}
	sync := restored["sync"].(map[string]any)
	origSync := original["sync"].(map[string]any)
	if sync["fallback_reply"] != origSync["fallback_reply"] {
		t.Errorf("sync.fallback_reply mismatch: %v != %v", sync["fallback_reply"], origSync["fallback_reply"])
	}
}

func TestMaskSecrets(t *testing.T) {
	got := MaskSecrets(map[string]any{
		"auth.token":     "eyJhbGciOiJIUzI1NiJ9.abcd",
		"auth.username":  "alice",
		"store.base_url": "http://localhost:1337",
	})
	if got["auth.token"] != "***abcd" {
		t.Errorf("expected auth.token=***abcd, got %v", got["auth.token"])
	}
	if got["auth.username"] != "alice" {
		t.Errorf("expected username untouched, got %v", got["auth.username"])
	}
	if got["store.base_url"] != "http://localhost:1337" {
		t.Errorf("expected base url untouched, got %v", got["store.base_url"])
	}
}

func TestMaskSecrets_ShortAndEmpty(t *testing.T) {
	if got := MaskSecrets(map[string]any{"auth.token": ""}); got["auth.token"] != "" {
		t.Errorf("expected empty string to remain empty, got %v", got["auth.token"])
	}
	if got := MaskSecrets(map[string]any{"auth.token": "ab"}); got["auth.token"] != "***" {
		t.Errorf("expected short secret fully hidden, got %v", got["auth.token"])
	}
}

func TestIsSecretKey(t *testing.T) {
	if !IsSecretKey("auth.token") {
		t.Error("expected auth.token to be secret")
	}
	if !IsSecretKey("serve.admin.password") {
		t.Error("expected password keys to be secret")
	}
	if IsSecretKey("auth.username") {
		t.Error("expected auth.username not to be secret")
	}
}
