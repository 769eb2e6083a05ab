package guard

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/domain"
	"github.com/patcreator/alx-backend-security/internal/geo"
	"github.com/patcreator/alx-backend-security/internal/identity"
	"github.com/patcreator/alx-backend-security/internal/ratelimit"
)

const (
	StageResolveIdentity = "resolve-identity"
	StageDenyList        = "deny-list"
	StageRateLimit       = "rate-limit"
	StageGeoEnrich       = "geo-enrich"
	StageRecord          = "record"
)

type resolveIdentityStage struct {
	resolver *identity.Resolver
}

func ResolveIdentity(resolver *identity.Resolver) Stage {
	if resolver == nil {
		resolver = identity.NewResolver("")
	}
	return resolveIdentityStage{resolver: resolver}
}

func (resolveIdentityStage) Name() string { return StageResolveIdentity }

func (s resolveIdentityStage) Apply(_ context.Context, ex *Exchange) Verdict {
	ex.ClientIP = s.resolver.ClientIP(ex.Request.Header, ex.Request.RemoteAddr)
	return VerdictContinue
}

type BlockChecker interface {
	IsBlocked(ip string) bool
}

type denyListStage struct {
	checker BlockChecker
}

func DenyList(checker BlockChecker) Stage {
	return denyListStage{checker: checker}
}

func (denyListStage) Name() string { return StageDenyList }

func (s denyListStage) Apply(_ context.Context, ex *Exchange) Verdict {
	if s.checker != nil && s.checker.IsBlocked(ex.ClientIP) {
		log.Info("Blocked request from deny-listed IP", "ip", ex.ClientIP, "path", ex.Request.Path)
		return VerdictBlocked
	}
	return VerdictContinue
}

type RateChecker interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Decision
}

type rateLimitStage struct {
	limiter RateChecker
	policy  func() Policy
}

func RateLimit(limiter RateChecker, policy func() Policy) Stage {
	if policy == nil {
		policy = func() Policy { return Policy{} }
	}
	return rateLimitStage{limiter: limiter, policy: policy}
}

func (rateLimitStage) Name() string { return StageRateLimit }

func (s rateLimitStage) Apply(ctx context.Context, ex *Exchange) Verdict {
	if s.limiter == nil {
		return VerdictContinue
	}
	policy := s.policy()
	class := policy.MatchClass(ex.Request.Path)
	if class == nil {
		return VerdictContinue
	}
	ex.Class = class

	quota := class.Anonymous
	key := ratelimit.Key("ip", class.Name, ex.ClientIP)
	if ex.Request.Subject != "" {
		quota = class.Authenticated
		key = ratelimit.Key("user", class.Name, ex.Request.Subject)
	}

	ex.Limit = s.limiter.Check(ctx, key, quota.Requests, quota.Window)
	if ex.Limit.Allowed {
		return VerdictContinue
	}

	log.Warn("Rate limit exceeded", "key", key, "count", ex.Limit.Count, "limit", ex.Limit.Limit)
	if policy.LogRateLimited {
		ex.Defer(StageRateLimit, VerdictRateLimited)
		return VerdictContinue
	}
	return VerdictRateLimited
}

type Locator interface {
	Lookup(ctx context.Context, ip string) geo.Location
}

type geoEnrichStage struct {
	locator Locator
}

func GeoEnrich(locator Locator) Stage {
	return geoEnrichStage{locator: locator}
}

func (geoEnrichStage) Name() string { return StageGeoEnrich }

func (s geoEnrichStage) Apply(ctx context.Context, ex *Exchange) Verdict {
	if s.locator == nil {
		ex.Location = geo.Unknown
		return VerdictContinue
	}
	ex.Location = s.locator.Lookup(ctx, ex.ClientIP)
	return VerdictContinue
}

type RequestWriter interface {
	RecordRequest(ctx context.Context, entry *domain.RequestLog) error
}

type FailureObserver interface {
	RecordFailed()
}

type recordStage struct {
	writer   RequestWriter
	observer FailureObserver
}

// Record appends the request to the log. A failed write is logged and the
// request is still admitted.
func Record(writer RequestWriter, observer FailureObserver) Stage {
	return recordStage{writer: writer, observer: observer}
}

func (recordStage) Name() string { return StageRecord }

func (s recordStage) Apply(ctx context.Context, ex *Exchange) Verdict {
	if s.writer == nil {
		return VerdictContinue
	}

	entry := &domain.RequestLog{
		ClientIP:  ex.ClientIP,
		Timestamp: ex.Received,
		Path:      ex.Request.Path,
		Country:   ex.Location.Country,
		City:      ex.Location.City,
	}
	if err := s.writer.RecordRequest(ctx, entry); err != nil {
		log.Error("Failed to record request", "ip", ex.ClientIP, "path", ex.Request.Path, "error", err)
		if s.observer != nil {
			s.observer.RecordFailed()
		}
	}
	return VerdictContinue
}

// Standard builds the default stage order.
func Standard(resolver *identity.Resolver, checker BlockChecker, limiter RateChecker, policy func() Policy, locator Locator, writer RequestWriter, observer FailureObserver) []Stage {
	return []Stage{
		ResolveIdentity(resolver),
		DenyList(checker),
		RateLimit(limiter, policy),
		GeoEnrich(locator),
		Record(writer, observer),
	}
}
