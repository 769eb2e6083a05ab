package config

import (
	"net/http"
	"strings"
	"time"

	"github.com/patcreator/alx-backend-security/internal/anomaly"
	"github.com/patcreator/alx-backend-security/internal/guard"
)

const (
	defaultGeoTimeout      = 1500 * time.Millisecond
	defaultGeoCacheTTL     = 24 * time.Hour
	defaultRetentionMaxAge = 7 * 24 * time.Hour
)

// GuardPolicy is read by the rate-limit stage on every request.
func GuardPolicy() guard.Policy {
	cfg := GetConfig()

	classes := make([]guard.RouteClass, 0, len(cfg.RateLimits.Classes))
	for _, class := range cfg.RateLimits.Classes {
		classes = append(classes, guard.RouteClass{
			Name:          strings.TrimSpace(class.Name),
			Prefixes:      normalizePaths(class.Prefixes),
			Anonymous:     quota(class.Anonymous),
			Authenticated: quota(class.Authenticated),
		})
	}

	return guard.Policy{
		Classes:        classes,
		LogRateLimited: cfg.Pipeline.LogRateLimited,
	}
}

func quota(q QuotaConfig) guard.Quota {
	if q.Requests <= 0 || q.Window.IsZero() {
		return guard.Quota{}
	}
	return guard.Quota{Requests: q.Requests, Window: CalculateBetweenTime(q.Window)}
}

// AnomalySettings is read by the detector at the start of every run.
func AnomalySettings() anomaly.Settings {
	cfg := GetConfig()
	settings := anomaly.DefaultSettings()

	if !cfg.Anomaly.Window.IsZero() {
		settings.Window = CalculateBetweenTime(cfg.Anomaly.Window)
	}
	if cfg.Anomaly.VolumeThreshold > 0 {
		settings.VolumeThreshold = cfg.Anomaly.VolumeThreshold
	}
	if cfg.Anomaly.SensitiveThreshold > 0 {
		settings.SensitiveThreshold = cfg.Anomaly.SensitiveThreshold
	}
	if cfg.Anomaly.SensitivePaths != nil {
		settings.SensitivePaths = normalizePaths(cfg.Anomaly.SensitivePaths)
	}
	if cfg.Anomaly.ResolvePolicy == string(anomaly.ResolveSticky) {
		settings.ResolvePolicy = anomaly.ResolveSticky
	}
	return settings
}

func RetentionMaxAge() time.Duration {
	return timerOrDefault(GetConfig().Retention.MaxAge, defaultRetentionMaxAge)
}

func GeoTimeout() time.Duration {
	ms := GetConfig().Geolocation.TimeoutMs
	if ms == 0 {
		return defaultGeoTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func GeoCacheTTL() time.Duration {
	return timerOrDefault(GetConfig().Geolocation.CacheTTL, defaultGeoCacheTTL)
}

func ForwardedHeader() string {
	header := strings.TrimSpace(GetConfig().Pipeline.ForwardedHeader)
	if header == "" {
		return "X-Forwarded-For"
	}
	return http.CanonicalHeaderKey(header)
}

// normalizePaths trims and deduplicates path entries, keeping their order.
func normalizePaths(entries []string) []string {
	seen := make(map[string]struct{}, len(entries))
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}
