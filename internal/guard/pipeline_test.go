package guard

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"

	"github.com/patcreator/alx-backend-security/internal/database"
	"github.com/patcreator/alx-backend-security/internal/denylist"
	"github.com/patcreator/alx-backend-security/internal/domain"
	"github.com/patcreator/alx-backend-security/internal/geo"
	"github.com/patcreator/alx-backend-security/internal/identity"
	"github.com/patcreator/alx-backend-security/internal/ratelimit"
)

type fixedProvider struct {
	calls int
}

func (p *fixedProvider) Lookup(context.Context, net.IP) (geo.Location, error) {
	p.calls++
	return geo.Location{Country: "Kenya", City: "Nairobi"}, nil
}

type harness struct {
	store    *database.Store
	deny     *denylist.Manager
	backend  *ratelimit.MemoryBackend
	provider *fixedProvider
	policy   Policy
	pipeline *Pipeline
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := database.SetupDB(database.WithDialector(sqlite.Open(filepath.Join(t.TempDir(), "guard.db"))))
	if err != nil {
		t.Fatalf("setup database: %v", err)
	}
	store := database.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		deny:     denylist.NewManager(store, nil),
		backend:  ratelimit.NewMemoryBackend(),
		provider: &fixedProvider{},
		policy: Policy{Classes: []RouteClass{{
			Name:          "login",
			Prefixes:      []string{"/login/"},
			Anonymous:     Quota{Requests: 5, Window: time.Minute},
			Authenticated: Quota{Requests: 10, Window: time.Minute},
		}}},
	}

	h.pipeline = NewPipeline(nil, Standard(
		identity.NewResolver(""),
		h.deny,
		ratelimit.NewLimiter(h.backend),
		func() Policy { return h.policy },
		geo.NewCache(h.provider),
		store,
		nil,
	)...)
	return h
}

func (h *harness) logs(t *testing.T) []domain.RequestLog {
	t.Helper()
	rows, err := h.store.ListRecentRequests(context.Background(), "", 100)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return rows
}

func request(path, forwarded string) Request {
	header := http.Header{}
	if forwarded != "" {
		header.Set("X-Forwarded-For", forwarded)
	}
	return Request{Method: http.MethodGet, Path: path, Header: header, RemoteAddr: "10.0.0.1:4000"}
}

func TestStageOrder(t *testing.T) {
	h := newHarness(t)
	got := h.pipeline.StageNames()
	want := []string{StageResolveIdentity, StageDenyList, StageRateLimit, StageGeoEnrich, StageRecord}
	if len(got) != len(want) {
		t.Fatalf("unexpected stages %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestBlockedRequestIsDeniedWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	if _, err := h.deny.Add(context.Background(), "203.0.113.5"); err != nil {
		t.Fatalf("block: %v", err)
	}

	outcome := h.pipeline.Evaluate(context.Background(), request("/login/", "203.0.113.5"))
	if outcome.Verdict != VerdictBlocked || outcome.Stage != StageDenyList {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if len(h.logs(t)) != 0 {
		t.Fatal("blocked requests must not be recorded")
	}
	if h.backend.Len() != 0 {
		t.Fatal("blocked requests must not consume rate-limit budget")
	}
	if h.provider.calls != 0 {
		t.Fatal("blocked requests must not be enriched")
	}
}

func TestAdmittedRequestIsRecordedWithEnrichment(t *testing.T) {
	h := newHarness(t)

	outcome := h.pipeline.Evaluate(context.Background(), request("/dashboard/", "41.90.1.1"))
	if outcome.Verdict != VerdictAdmitted {
		t.Fatalf("expected admitted, got %+v", outcome)
	}

	rows := h.logs(t)
	if len(rows) != 1 {
		t.Fatalf("expected one record, got %d", len(rows))
	}
	if rows[0].ClientIP != "41.90.1.1" || rows[0].Path != "/dashboard/" {
		t.Fatalf("unexpected record %+v", rows[0])
	}
	if rows[0].Country != "Kenya" || rows[0].City != "Nairobi" {
		t.Fatalf("expected enrichment on record, got %+v", rows[0])
	}
}

func TestLoopbackRequestIsRecordedAsLocal(t *testing.T) {
	h := newHarness(t)
	h.pipeline.Evaluate(context.Background(), Request{Path: "/", RemoteAddr: "127.0.0.1:5555"})

	rows := h.logs(t)
	if len(rows) != 1 || rows[0].Country != "Local" {
		t.Fatalf("expected Local record, got %+v", rows)
	}
	if h.provider.calls != 0 {
		t.Fatal("loopback must not reach the provider")
	}
}

func TestRateLimitedAfterQuota(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 5; i++ {
		if outcome := h.pipeline.Evaluate(context.Background(), request("/login/", "41.90.1.2")); outcome.Verdict != VerdictAdmitted {
			t.Fatalf("request %d should be admitted, got %+v", i+1, outcome)
		}
	}

	outcome := h.pipeline.Evaluate(context.Background(), request("/login/", "41.90.1.2"))
	if outcome.Verdict != VerdictRateLimited || outcome.Stage != StageRateLimit {
		t.Fatalf("sixth request should be rate limited, got %+v", outcome)
	}
	if len(h.logs(t)) != 5 {
		t.Fatal("rate-limited requests are not recorded by default")
	}

	if outcome := h.pipeline.Evaluate(context.Background(), request("/", "41.90.1.2")); outcome.Verdict != VerdictAdmitted {
		t.Fatal("paths without a route class are not rate limited")
	}
}

func TestRateLimitedRequestsCanBeRecorded(t *testing.T) {
	h := newHarness(t)
	h.policy.LogRateLimited = true
	h.policy.Classes[0].Anonymous.Requests = 1

	h.pipeline.Evaluate(context.Background(), request("/login/", "41.90.1.3"))
	outcome := h.pipeline.Evaluate(context.Background(), request("/login/", "41.90.1.3"))
	if outcome.Verdict != VerdictRateLimited {
		t.Fatalf("expected rate limited, got %+v", outcome)
	}
	if outcome.Location.Country != "Kenya" {
		t.Fatal("recorded rate-limited requests are enriched")
	}
	if len(h.logs(t)) != 2 {
		t.Fatal("expected both requests recorded")
	}
}

func TestAuthenticatedQuotaIsKeyedBySubject(t *testing.T) {
	h := newHarness(t)

	for i := 0; i < 10; i++ {
		req := request("/login/", "41.90.1.4")
		req.Subject = "alice"
		if outcome := h.pipeline.Evaluate(context.Background(), req); outcome.Verdict != VerdictAdmitted {
			t.Fatalf("authenticated request %d should be admitted", i+1)
		}
	}

	req := request("/login/", "41.90.1.9")
	req.Subject = "alice"
	if outcome := h.pipeline.Evaluate(context.Background(), req); outcome.Verdict != VerdictRateLimited {
		t.Fatal("quota follows the user across addresses")
	}

	if outcome := h.pipeline.Evaluate(context.Background(), request("/login/", "41.90.1.4")); outcome.Verdict != VerdictAdmitted {
		t.Fatal("anonymous quota for the same address is separate")
	}
}

type failingWriter struct{}

func (failingWriter) RecordRequest(context.Context, *domain.RequestLog) error {
	return errors.New("disk full")
}

type failureCounter struct{ n int }

func (f *failureCounter) RecordFailed() { f.n++ }

func TestRecordFailureStillAdmits(t *testing.T) {
	counter := &failureCounter{}
	pipeline := NewPipeline(nil, ResolveIdentity(nil), Record(failingWriter{}, counter))

	outcome := pipeline.Evaluate(context.Background(), request("/", "8.8.4.4"))
	if outcome.Verdict != VerdictAdmitted {
		t.Fatalf("expected admitted, got %+v", outcome)
	}
	if counter.n != 1 {
		t.Fatal("expected the failure to be reported")
	}
}

func TestMiddlewareResponses(t *testing.T) {
	h := newHarness(t)
	h.policy.Classes[0].Anonymous.Requests = 1
	if _, err := h.deny.Add(context.Background(), "203.0.113.9"); err != nil {
		t.Fatalf("block: %v", err)
	}

	handler := h.pipeline.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome, ok := OutcomeFromContext(r.Context())
		if !ok {
			t.Error("outcome missing from context")
		}
		_, _ = w.Write([]byte("hello " + outcome.Location.Country))
	}), WithRateLimitedHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("slow down"))
	})))

	serve := func(path, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	rec := serve("/", "203.0.113.9")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if body := rec.Body.String(); body != BlockedMessage+"\n" {
		t.Fatalf("unexpected body %q", body)
	}

	if rec := serve("/login/", "41.90.2.2"); rec.Code != http.StatusOK || rec.Body.String() != "hello Kenya" {
		t.Fatalf("expected admitted response, got %d %q", rec.Code, rec.Body.String())
	}

	rec = serve("/login/", "41.90.2.2")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
	if rec.Body.String() != "slow down" {
		t.Fatalf("expected custom body, got %q", rec.Body.String())
	}
}
