package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/patcreator/alx-backend-security/internal/app/bootstrap"
	"github.com/patcreator/alx-backend-security/internal/guard"
	"github.com/patcreator/alx-backend-security/internal/support"
)

const (
	defaultMaxConnections = 1024
	shutdownTimeout       = 10 * time.Second
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// NewRouter mounts the site, the admin API and the operational endpoints.
func NewRouter(s *bootstrap.Services) http.Handler {
	guarded := http.NewServeMux()
	guarded.HandleFunc("GET /{$}", homePage)
	guarded.HandleFunc("GET /login/", loginPage)
	guarded.HandleFunc("POST /login/", loginPage)
	guarded.HandleFunc("GET /dashboard/", dashboardPage)
	guarded.HandleFunc("GET /admin/", adminPage)
	guarded.HandleFunc("GET /rate-limited/", rateLimitedPage)

	var subject func(*http.Request) string
	if s.Auth != nil {
		admin := &adminHandler{moderation: s.Moderation}
		guarded.Handle("GET /api/admin/blocked", s.Auth.RequireAdmin(http.HandlerFunc(admin.listBlocked)))
		guarded.Handle("POST /api/admin/blocked", s.Auth.RequireAdmin(http.HandlerFunc(admin.blockIPs)))
		guarded.Handle("DELETE /api/admin/blocked/{ip}", s.Auth.RequireAdmin(http.HandlerFunc(admin.unblockIP)))
		guarded.Handle("GET /api/admin/suspicious", s.Auth.RequireAdmin(http.HandlerFunc(admin.listSuspicious)))
		guarded.Handle("POST /api/admin/suspicious/resolve", s.Auth.RequireAdmin(http.HandlerFunc(admin.resolveSuspicious)))
		guarded.Handle("POST /api/admin/suspicious/promote", s.Auth.RequireAdmin(http.HandlerFunc(admin.promoteSuspicious)))
		guarded.Handle("POST /api/admin/detect", s.Auth.RequireAdmin(http.HandlerFunc(admin.detect)))
		guarded.Handle("POST /api/admin/cleanup", s.Auth.RequireAdmin(http.HandlerFunc(admin.cleanup)))
		guarded.Handle("GET /api/admin/requests", s.Auth.RequireAdmin(http.HandlerFunc(admin.recentRequests)))
		guarded.Handle("GET /api/admin/settings", s.Auth.RequireAdmin(http.HandlerFunc(admin.getSettings)))
		guarded.Handle("PUT /api/admin/settings", s.Auth.RequireAdmin(http.HandlerFunc(admin.saveSettings)))
		subject = s.Auth.Identity
	}

	router := http.NewServeMux()
	router.Handle("GET /metrics", s.Metrics.Handler())
	router.HandleFunc("GET /healthz", healthCheck(s))
	router.HandleFunc("GET /version", getVersion)
	router.Handle("/", s.Pipeline.Middleware(guarded,
		guard.WithSubject(subject),
		guard.WithRateLimitedHandler(http.HandlerFunc(rateLimitedPage)),
	))

	return router
}

// OpenRoutes serves until ctx is cancelled, then shuts down gracefully.
func OpenRoutes(ctx context.Context, port int, s *bootstrap.Services) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("listen on :%d: %w", port, err)
	}

	maxConnections := support.GetEnvInt("MAX_CONNECTIONS", defaultMaxConnections)
	if maxConnections > 0 {
		listener = netutil.LimitListener(listener, maxConnections)
	}

	return Serve(ctx, listener, NewRouter(s))
}

func Serve(ctx context.Context, listener net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Starting ipguard on %s", listener.Addr())
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
