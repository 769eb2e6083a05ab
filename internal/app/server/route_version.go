package server

import (
	"context"
	"net/http"
	"time"

	"github.com/patcreator/alx-backend-security/internal/app/bootstrap"
	"github.com/patcreator/alx-backend-security/internal/app/version"
)

func getVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, version.Get())
}

func healthCheck(s *bootstrap.Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]any{"database": "ok", "denylist_entries": s.DenyList.Len()}
		healthy := true

		if sqlDB, err := s.DB.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status["database"] = "unavailable"
			healthy = false
		}
		if s.Redis != nil {
			status["redis"] = "ok"
			if err := s.Redis.Ping(ctx).Err(); err != nil {
				status["redis"] = "unavailable"
				healthy = false
			}
		}
		if s.Heartbeat != nil && healthy {
			if n, err := s.Heartbeat.ActiveInstances(ctx); err == nil {
				status["active_instances"] = n
			}
		}

		code := http.StatusOK
		if !healthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, status)
	}
}
