package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	Geolocation struct {
		Provider    string `json:"provider"`
		Endpoint    string `json:"endpoint"`
		APIKey      string `json:"api_key"`
		MMDBPath    string `json:"mmdb_path"`
		TimeoutMs   uint32 `json:"timeout_ms"`
		CacheTTL    Timer  `json:"cache_ttl"`
		CacheSize   int    `json:"cache_size"`
		SharedCache bool   `json:"shared_cache"`
	} `json:"geolocation"`

	RateLimits struct {
		Backend    string             `json:"backend"`
		FailClosed bool               `json:"fail_closed"`
		Classes    []RouteClassConfig `json:"classes"`
	} `json:"rate_limits"`

	Anomaly struct {
		Enabled            bool     `json:"enabled"`
		ScanTimer          Timer    `json:"scan_timer"`
		Window             Timer    `json:"window"`
		VolumeThreshold    int64    `json:"volume_threshold"`
		SensitiveThreshold int64    `json:"sensitive_threshold"`
		SensitivePaths     []string `json:"sensitive_paths"`
		ResolvePolicy      string   `json:"resolve_policy"`
	} `json:"anomaly"`

	Retention struct {
		Enabled      bool  `json:"enabled"`
		CleanupTimer Timer `json:"cleanup_timer"`
		MaxAge       Timer `json:"max_age"`
	} `json:"retention"`

	DenyList struct {
		RefreshTimer Timer `json:"refresh_timer"`
	} `json:"denylist"`

	Pipeline struct {
		ForwardedHeader string `json:"forwarded_header"`
		LogRateLimited  bool   `json:"log_rate_limited"`
	} `json:"pipeline"`
}

type RouteClassConfig struct {
	Name          string      `json:"name"`
	Prefixes      []string    `json:"prefixes"`
	Anonymous     QuotaConfig `json:"anonymous"`
	Authenticated QuotaConfig `json:"authenticated"`
}

type QuotaConfig struct {
	Requests int   `json:"requests"`
	Window   Timer `json:"window"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

func (t Timer) IsZero() bool {
	return t.Days == 0 && t.Hours == 0 && t.Minutes == 0 && t.Seconds == 0
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue  atomic.Value
	settingsPath atomic.Value
	configMu     sync.Mutex
	settingsTime atomic.Value

	InProductionMode bool
)

func init() {
	settingsPath.Store(defaultSettingsFilePath)
	settingsTime.Store(time.Time{})

	cfg, err := DefaultConfig()
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	configValue.Store(cfg)
	SetBetweenTime()
}

// DefaultConfig decodes the embedded defaults.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func SetSettingsPath(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = defaultSettingsFilePath
	}
	settingsPath.Store(path)
}

func SettingsPath() string {
	return settingsPath.Load().(string)
}

// SettingsVersion is the modification time of the active settings. Redis
// sync uses it to decide whether the local file or the shared copy wins.
func SettingsVersion() time.Time {
	return settingsTime.Load().(time.Time)
}

// ReadSettings loads the settings file, creating it from the defaults when it
// does not exist yet.
func ReadSettings() error {
	path := SettingsPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read %s: %w", path, err)
		}
		log.Warn("Settings file not found, creating with default configuration", "path", path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("config: create settings dir: %w", err)
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}
		data = defaultConfig
	}

	// Fields missing from the file keep their default value.
	newConfig, err := DefaultConfig()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	version := time.Now().UTC()
	if info, err := os.Stat(path); err == nil {
		version = info.ModTime().UTC()
	}

	if err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file", version: version}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

// SetConfig applies, persists and broadcasts newConfig.
func SetConfig(newConfig Config) error {
	opts := configUpdateOptions{
		persistToFile: true,
		broadcast:     true,
		source:        "local",
		version:       time.Now().UTC(),
	}
	if err := applyConfigUpdate(newConfig, opts); err != nil {
		log.Error("Error applying configuration update", "error", err)
		return err
	}

	log.Debug("Configuration updated and written to file successfully")
	return nil
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
	version       time.Time
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) error {
	if err := newConfig.Validate(); err != nil {
		return err
	}

	configMu.Lock()
	defer configMu.Unlock()

	configValue.Store(newConfig)
	if !opts.version.IsZero() {
		settingsTime.Store(opts.version)
	}
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		if err := writeSettingsFile(newConfig, opts.version); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.broadcast {
		if err := broadcastConfig(newConfig, opts.version); err != nil {
			errs = append(errs, err)
		}
	}

	if opts.source != "" {
		log.Debug("Configuration applied", "source", opts.source)
	} else {
		log.Debug("Configuration applied")
	}

	return errors.Join(errs...)
}

// writeSettingsFile stamps the file with version so a restart can tell a
// local edit from a copy received through Redis.
func writeSettingsFile(cfg Config, version time.Time) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	path := SettingsPath()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	if version.IsZero() {
		return nil
	}
	return os.Chtimes(path, version, version)
}

// Validate rejects settings the components cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Geolocation.Provider) {
	case "", "none", "http", "mmdb":
	default:
		errs = append(errs, fmt.Errorf("config: unknown geolocation provider %q", c.Geolocation.Provider))
	}

	switch strings.ToLower(c.RateLimits.Backend) {
	case "", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("config: unknown rate limit backend %q", c.RateLimits.Backend))
	}

	seen := make(map[string]struct{}, len(c.RateLimits.Classes))
	for _, class := range c.RateLimits.Classes {
		name := strings.TrimSpace(class.Name)
		if name == "" {
			errs = append(errs, errors.New("config: rate limit class without a name"))
			continue
		}
		if _, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("config: duplicate rate limit class %q", name))
		}
		seen[name] = struct{}{}
		if class.Anonymous.Requests < 0 || class.Authenticated.Requests < 0 {
			errs = append(errs, fmt.Errorf("config: rate limit class %q has a negative quota", name))
		}
	}

	switch c.Anomaly.ResolvePolicy {
	case "", "reopen", "sticky":
	default:
		errs = append(errs, fmt.Errorf("config: unknown resolve policy %q", c.Anomaly.ResolvePolicy))
	}

	return errors.Join(errs...)
}

// Clone returns a copy that shares no slices with c.
func (c Config) Clone() Config {
	out := c
	out.RateLimits.Classes = make([]RouteClassConfig, len(c.RateLimits.Classes))
	for i, class := range c.RateLimits.Classes {
		class.Prefixes = append([]string(nil), class.Prefixes...)
		out.RateLimits.Classes[i] = class
	}
	out.Anomaly.SensitivePaths = append([]string(nil), c.Anomaly.SensitivePaths...)
	return out
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

func SetProductionMode(productionMode bool) {
	InProductionMode = productionMode
}
