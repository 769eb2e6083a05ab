package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/patcreator/alx-backend-security/internal/anomaly"
	"github.com/patcreator/alx-backend-security/internal/auth"
	"github.com/patcreator/alx-backend-security/internal/config"
	"github.com/patcreator/alx-backend-security/internal/database"
	"github.com/patcreator/alx-backend-security/internal/denylist"
	"github.com/patcreator/alx-backend-security/internal/geo"
	"github.com/patcreator/alx-backend-security/internal/guard"
	"github.com/patcreator/alx-backend-security/internal/identity"
	jobruntime "github.com/patcreator/alx-backend-security/internal/jobs/runtime"
	"github.com/patcreator/alx-backend-security/internal/metrics"
	"github.com/patcreator/alx-backend-security/internal/moderation"
	"github.com/patcreator/alx-backend-security/internal/ratelimit"
	"github.com/patcreator/alx-backend-security/internal/support"
)

const (
	providerNone = "none"
	providerHTTP = "http"
	providerMMDB = "mmdb"

	backendRedis = "redis"
)

// Services holds every long-lived component of a running instance.
type Services struct {
	DB         *gorm.DB
	Store      *database.Store
	Redis      *redis.Client
	Metrics    *metrics.Recorder
	DenyList   *denylist.Manager
	Limiter    *ratelimit.Limiter
	Geo        *geo.Cache
	GeoUpdater *geo.Updater
	Detector   *anomaly.Detector
	Moderation *moderation.Service
	Pipeline   *guard.Pipeline
	Auth       *auth.Authenticator
	Elector    support.Elector
	Heartbeat  *jobruntime.Heartbeat // nil without Redis

	closers []func() error
}

// Setup reads settings and connects to the database and, when REDIS_URL is
// set, to Redis.
func Setup() (*Services, error) {
	if err := config.ReadSettings(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	redisClient, err := support.GetRedisClient()
	switch {
	case errors.Is(err, support.ErrRedisDisabled):
		log.Info("Redis not configured, running in single-node mode")
		redisClient = nil
	case err != nil:
		return nil, fmt.Errorf("failed to get redis client: %w", err)
	}

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("failed to set up database: %w", err)
	}
	config.SetBetweenTime()

	services, err := Build(db, redisClient)
	if err != nil {
		return nil, err
	}
	services.closers = append(services.closers, support.CloseRedisClient)
	return services, nil
}

// Build wires the components on top of an open database and an optional
// Redis client. Nothing is started.
func Build(db *gorm.DB, redisClient *redis.Client) (*Services, error) {
	cfg := config.GetConfig()

	s := &Services{
		DB:      db,
		Store:   database.NewStore(db),
		Redis:   redisClient,
		Metrics: metrics.NewRecorder(""),
		Elector: support.LocalElector{},
	}
	if redisClient != nil {
		s.Elector = support.NewRedisElector(redisClient)
		s.Heartbeat = jobruntime.NewHeartbeat(redisClient, s.Metrics)
	}

	s.DenyList = denylist.NewManager(s.Store, s.Metrics)
	s.Limiter = ratelimit.NewLimiter(
		s.limiterBackend(cfg.RateLimits.Backend),
		ratelimit.WithFailClosed(cfg.RateLimits.FailClosed),
		ratelimit.WithErrorObserver(s.Metrics),
	)

	geoCache, err := s.geoCache()
	if err != nil {
		return nil, err
	}
	s.Geo = geoCache

	s.Detector = anomaly.NewDetector(s.Store, s.Store,
		anomaly.WithSettingsSource(config.AnomalySettings),
		anomaly.WithObserver(s.Metrics),
	)
	s.Moderation = moderation.NewService(s.DenyList, s.Store, s.Detector, s.Metrics)

	s.Pipeline = guard.NewPipeline(s.Metrics, guard.Standard(
		identity.NewResolver(config.ForwardedHeader()),
		s.DenyList,
		s.Limiter,
		config.GuardPolicy,
		s.Geo,
		s.Store,
		s.Metrics,
	)...)

	if secret := support.GetEnv("JWT_SECRET", ""); secret != "" {
		authenticator, err := auth.NewAuthenticator(secret)
		if err != nil {
			return nil, err
		}
		s.Auth = authenticator
	} else {
		log.Warn("JWT_SECRET not set, admin API disabled")
	}

	return s, nil
}

func (s *Services) limiterBackend(name string) ratelimit.Backend {
	if strings.EqualFold(name, backendRedis) {
		if s.Redis != nil {
			return ratelimit.NewRedisBackend(s.Redis)
		}
		log.Warn("Redis rate limit backend requested without REDIS_URL, counting in memory")
	}
	return ratelimit.NewMemoryBackend()
}

func (s *Services) geoCache() (*geo.Cache, error) {
	cfg := config.GetConfig().Geolocation

	var provider geo.Provider
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", providerNone:
	case providerHTTP:
		apiKey := support.GetEnv("GEO_API_KEY", cfg.APIKey)
		provider = geo.NewHTTPProvider(cfg.Endpoint, apiKey, &http.Client{Timeout: config.GeoTimeout()})
	case providerMMDB:
		path := support.GetEnv("GEOIP_DB_PATH", cfg.MMDBPath)
		licenseKey := support.GetEnv("MAXMIND_LICENSE_KEY", "")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && licenseKey != "" {
			log.Info("GeoLite database missing, downloading", "path", path)
			if err := geo.NewUpdater(licenseKey, path, nil).Update(context.Background()); err != nil {
				return nil, fmt.Errorf("download geoip database: %w", err)
			}
		}

		mmdb, err := geo.OpenMMDB(path)
		if err != nil {
			return nil, fmt.Errorf("open geoip database %q: %w", path, err)
		}
		s.closers = append(s.closers, mmdb.Close)
		provider = mmdb
		if licenseKey != "" {
			s.GeoUpdater = geo.NewUpdater(licenseKey, path, mmdb)
		}
	default:
		return nil, fmt.Errorf("unknown geolocation provider %q", cfg.Provider)
	}

	var store geo.Store
	if cfg.SharedCache && s.Redis != nil {
		store = geo.NewRedisStore(s.Redis)
	} else {
		memory, err := geo.NewMemoryStore(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
		store = memory
	}

	return geo.NewCache(provider,
		geo.WithTTL(config.GeoCacheTTL()),
		geo.WithTimeout(config.GeoTimeout()),
		geo.WithStore(store),
		geo.WithObserver(s.Metrics),
	), nil
}

// LoadDenyList fills the in-memory deny-list from the database.
func (s *Services) LoadDenyList(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return s.DenyList.Load(ctx)
}

// Close releases resources in reverse acquisition order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if s.Store != nil {
		if err := s.Store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
