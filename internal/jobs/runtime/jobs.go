package runtime

import (
	"context"
	"time"

	"github.com/patcreator/alx-backend-security/internal/anomaly"
	"github.com/patcreator/alx-backend-security/internal/moderation"
)

const (
	anomalyScanLockKey  = "ipguard:leader:anomaly_scan"
	logRetentionLockKey = "ipguard:leader:log_retention"
)

type Scanner interface {
	Run(ctx context.Context) (anomaly.Report, error)
}

type LogCleaner interface {
	CleanupLogs(ctx context.Context, maxAge time.Duration) (moderation.CleanupResult, error)
}

type GeoUpdater interface {
	Update(ctx context.Context) error
}

type DenyListLoader interface {
	Load(ctx context.Context) error
}

// AnomalyScanJob runs the detector on the leader instance. enabled is checked
// before every run so the scan can be switched off without a restart.
func AnomalyScanJob(scanner Scanner, enabled func() bool, updates <-chan time.Duration) Job {
	return Job{
		Name:     "anomaly-scan",
		LockKey:  anomalyScanLockKey,
		Fallback: time.Hour,
		Updates:  updates,
		Run: func(ctx context.Context) error {
			if enabled != nil && !enabled() {
				return nil
			}
			_, err := scanner.Run(ctx)
			return err
		},
	}
}

func LogRetentionJob(cleaner LogCleaner, maxAge func() time.Duration, enabled func() bool, updates <-chan time.Duration) Job {
	return Job{
		Name:     "log-retention",
		LockKey:  logRetentionLockKey,
		Fallback: 24 * time.Hour,
		Updates:  updates,
		Run: func(ctx context.Context) error {
			if enabled != nil && !enabled() {
				return nil
			}
			_, err := cleaner.CleanupLogs(ctx, maxAge())
			return err
		},
	}
}

// DenyListRefreshJob reloads the deny-list on every instance.
func DenyListRefreshJob(loader DenyListLoader, updates <-chan time.Duration) Job {
	return Job{
		Name:     "denylist-refresh",
		Fallback: 5 * time.Minute,
		Updates:  updates,
		Run:      loader.Load,
	}
}

// GeoLiteUpdateJob refreshes the local GeoLite file. Every instance keeps its
// own copy, so the job is not leader-only.
func GeoLiteUpdateJob(updater GeoUpdater) Job {
	return Job{
		Name:     "geolite-update",
		Fallback: 7 * 24 * time.Hour,
		Run:      updater.Update,
	}
}
