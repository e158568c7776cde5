package config

import (
	"strings"
	"testing"
	"time"
)

func loadWith(t *testing.T, overrides map[string]any) (AppConfig, error) {
	t.Helper()
	v := NewViper()
	v.Set("api.secret_key", "test-secret")
	for key, value := range overrides {
		v.Set(key, value)
	}
	return Load(v)
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := loadWith(t, nil)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.SessionExpiryDefault != 24*time.Hour {
		t.Fatalf("unexpected default expiry %v", cfg.SessionExpiryDefault)
	}
	if cfg.SessionExpiryMin != time.Hour || cfg.SessionExpiryMax != 168*time.Hour {
		t.Fatalf("unexpected expiry bounds %v..%v", cfg.SessionExpiryMin, cfg.SessionExpiryMax)
	}
	if cfg.WebhookRetryAttempts != 3 || cfg.WebhookInitialBackoff != time.Second {
		t.Fatalf("unexpected webhook tuning %d/%v", cfg.WebhookRetryAttempts, cfg.WebhookInitialBackoff)
	}
	if cfg.UploadMaxSize != 50<<20 || cfg.ImageMaxSize != 10<<20 {
		t.Fatalf("unexpected size limits %d/%d", cfg.UploadMaxSize, cfg.ImageMaxSize)
	}
	if len(cfg.UploadExtensions) != 1 || cfg.UploadExtensions[0] != ".pdf" {
		t.Fatalf("unexpected upload extensions %v", cfg.UploadExtensions)
	}
	if len(cfg.ImageExtensions) != 4 {
		t.Fatalf("unexpected image extensions %v", cfg.ImageExtensions)
	}
}

func TestLoadRequiresSecretKey(t *testing.T) {
	v := NewViper()
	_, err := Load(v)
	if err == nil || !strings.Contains(err.Error(), "api.secret_key") {
		t.Fatalf("expected missing secret error, got %v", err)
	}
}

func TestLoadRejectsExpiryOutsideBounds(t *testing.T) {
	_, err := loadWith(t, map[string]any{"session.expiry_hours": 500})
	if err == nil || !strings.Contains(err.Error(), "expiry_hours") {
		t.Fatalf("expected expiry bounds error, got %v", err)
	}
}

func TestLoadRejectsZeroRetryAttempts(t *testing.T) {
	_, err := loadWith(t, map[string]any{"webhook.retry_attempts": 0})
	if err == nil || !strings.Contains(err.Error(), "retry_attempts") {
		t.Fatalf("expected retry attempts error, got %v", err)
	}
}

func TestLoadTrimsBaseURLTrailingSlash(t *testing.T) {
	cfg, err := loadWith(t, map[string]any{"http.base_url": "https://edit.example.com/"})
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.BaseURL != "https://edit.example.com" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
}

func TestSplitExtensionsNormalizes(t *testing.T) {
	got := splitExtensions("PNG, .jpg ,,gif")
	want := []string{".png", ".jpg", ".gif"}
	if len(got) != len(want) {
		t.Fatalf("unexpected extensions %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}
