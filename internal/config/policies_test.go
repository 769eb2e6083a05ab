package config

import (
	"testing"
	"time"

	"github.com/patcreator/alx-backend-security/internal/anomaly"
)

func TestGuardPolicyFromDefaults(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg, _ := DefaultConfig()
	cfg.RateLimits.Classes = append(cfg.RateLimits.Classes, RouteClassConfig{
		Name:      "api",
		Prefixes:  []string{" api/ ", "/api/", ""},
		Anonymous: QuotaConfig{Requests: 30},
	})
	configValue.Store(cfg)

	policy := GuardPolicy()
	if len(policy.Classes) != 2 {
		t.Fatalf("expected two classes, got %+v", policy.Classes)
	}

	login := policy.MatchClass("/login/")
	if login == nil || login.Anonymous.Requests != 5 || login.Anonymous.Window != time.Minute {
		t.Fatalf("unexpected login class %+v", login)
	}
	if login.Authenticated.Requests != 10 {
		t.Fatalf("unexpected authenticated quota %+v", login.Authenticated)
	}

	api := policy.MatchClass("/api/items")
	if api == nil || len(api.Prefixes) != 1 || api.Prefixes[0] != "/api/" {
		t.Fatalf("expected normalized prefixes, got %+v", api)
	}
	if api.Anonymous.Requests != 0 {
		t.Fatal("a quota without a window is disabled")
	}
}

func TestAnomalySettingsFromConfig(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	cfg, _ := DefaultConfig()
	cfg.Anomaly.Window = Timer{Minutes: 30}
	cfg.Anomaly.ResolvePolicy = "sticky"
	cfg.Anomaly.SensitivePaths = []string{"/admin/", "/admin/", "wp-login.php"}
	configValue.Store(cfg)

	settings := AnomalySettings()
	if settings.Window != 30*time.Minute {
		t.Fatalf("unexpected window %s", settings.Window)
	}
	if settings.ResolvePolicy != anomaly.ResolveSticky {
		t.Fatalf("unexpected policy %q", settings.ResolvePolicy)
	}
	if len(settings.SensitivePaths) != 2 || settings.SensitivePaths[1] != "/wp-login.php" {
		t.Fatalf("unexpected paths %v", settings.SensitivePaths)
	}
}

func TestDurationsFallBackToDefaults(t *testing.T) {
	origCfg := GetConfig()
	t.Cleanup(func() { configValue.Store(origCfg) })

	configValue.Store(Config{})
	if RetentionMaxAge() != 7*24*time.Hour {
		t.Fatalf("unexpected retention %s", RetentionMaxAge())
	}
	if GeoTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout %s", GeoTimeout())
	}
	if GeoCacheTTL() != 24*time.Hour {
		t.Fatalf("unexpected ttl %s", GeoCacheTTL())
	}
	if ForwardedHeader() != "X-Forwarded-For" {
		t.Fatalf("unexpected header %q", ForwardedHeader())
	}
}
