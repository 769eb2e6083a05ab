package bootstrap

import (
	"context"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/config"
	jobruntime "github.com/patcreator/alx-backend-security/internal/jobs/runtime"
)

// StartRoutines loads the deny-list and launches the background jobs. They
// stop when ctx is cancelled.
func (s *Services) StartRoutines(ctx context.Context) {
	if s.Redis != nil {
		origin := jobruntime.InstanceID()
		config.EnableRedisSynchronization(ctx, s.Redis, origin)
		s.DenyList.EnableRedisSync(ctx, s.Redis, origin)
		s.Heartbeat.Start(ctx)
	}

	if err := s.LoadDenyList(ctx); err != nil {
		log.Error("Initial deny-list load failed", "error", err)
	} else {
		log.Info("Deny-list loaded", "entries", s.DenyList.Len())
	}

	go jobruntime.StartPeriodic(ctx, jobruntime.AnomalyScanJob(
		s.Detector,
		func() bool { return config.GetConfig().Anomaly.Enabled },
		config.AnomalyScanIntervalUpdates(),
	), s.Elector)

	go jobruntime.StartPeriodic(ctx, jobruntime.LogRetentionJob(
		s.Moderation,
		config.RetentionMaxAge,
		func() bool { return config.GetConfig().Retention.Enabled },
		config.RetentionIntervalUpdates(),
	), s.Elector)

	if s.GeoUpdater != nil {
		go jobruntime.StartPeriodic(ctx, jobruntime.GeoLiteUpdateJob(s.GeoUpdater), s.Elector)
	}

	go jobruntime.StartPeriodic(ctx, jobruntime.DenyListRefreshJob(
		s.DenyList,
		config.DenyListRefreshIntervalUpdates(),
	), s.Elector)
}
