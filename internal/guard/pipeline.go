// Package guard runs the per-request admission stages: identity resolution,
// deny-list, rate limit, geo enrichment and request logging.
package guard

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/patcreator/alx-backend-security/internal/geo"
	"github.com/patcreator/alx-backend-security/internal/ratelimit"
)

type Verdict int

const (
	VerdictContinue Verdict = iota
	VerdictAdmitted
	VerdictBlocked
	VerdictRateLimited
)

func (v Verdict) String() string {
	switch v {
	case VerdictContinue:
		return "continue"
	case VerdictAdmitted:
		return "admitted"
	case VerdictBlocked:
		return "blocked"
	case VerdictRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

// Request is the transport-independent view of an inbound request.
type Request struct {
	Method     string
	Path       string
	Header     http.Header
	RemoteAddr string

	// Subject is the authenticated user, empty for anonymous requests.
	Subject string
}

// Exchange carries one request through the stages.
type Exchange struct {
	Request  Request
	ClientIP string
	Location geo.Location
	Class    *RouteClass
	Limit    ratelimit.Decision
	Received time.Time

	deferred      Verdict
	deferredStage string
}

// Defer makes the pipeline finish the remaining stages and then end with v.
func (ex *Exchange) Defer(stage string, v Verdict) {
	ex.deferred = v
	ex.deferredStage = stage
}

type Stage interface {
	Name() string
	Apply(ctx context.Context, ex *Exchange) Verdict
}

type Outcome struct {
	Verdict   Verdict
	Stage     string
	ClientIP  string
	Location  geo.Location
	RateLimit ratelimit.Decision
}

type Observer interface {
	ObserveVerdict(verdict string)
}

// Pipeline runs stages in order until one returns a terminal verdict.
type Pipeline struct {
	stages   []Stage
	observer Observer
	now      func() time.Time
}

func NewPipeline(observer Observer, stages ...Stage) *Pipeline {
	return &Pipeline{
		stages:   append([]Stage(nil), stages...),
		observer: observer,
		now:      time.Now,
	}
}

// StageNames lists the configured stages in execution order.
func (p *Pipeline) StageNames() []string {
	names := make([]string, 0, len(p.stages))
	for _, stage := range p.stages {
		names = append(names, stage.Name())
	}
	return names
}

func (p *Pipeline) Evaluate(ctx context.Context, req Request) Outcome {
	ex := &Exchange{Request: req, Received: p.now()}

	outcome := Outcome{Verdict: VerdictAdmitted}
	for _, stage := range p.stages {
		verdict := stage.Apply(ctx, ex)
		if verdict == VerdictContinue {
			continue
		}
		outcome.Verdict = verdict
		outcome.Stage = stage.Name()
		break
	}

	if outcome.Verdict == VerdictAdmitted && ex.deferred != VerdictContinue {
		outcome.Verdict = ex.deferred
		outcome.Stage = ex.deferredStage
	}

	outcome.ClientIP = ex.ClientIP
	outcome.Location = ex.Location
	outcome.RateLimit = ex.Limit

	if p.observer != nil {
		p.observer.ObserveVerdict(outcome.Verdict.String())
	}
	return outcome
}

// Quota is a request budget per window. Requests <= 0 disables it.
type Quota struct {
	Requests int           `json:"requests"`
	Window   time.Duration `json:"window"`
}

// RouteClass groups paths sharing rate-limit quotas.
type RouteClass struct {
	Name          string
	Prefixes      []string
	Anonymous     Quota
	Authenticated Quota
}

func (c RouteClass) Matches(path string) bool {
	for _, prefix := range c.Prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// Policy is read on every request so configuration changes apply live.
type Policy struct {
	Classes        []RouteClass
	LogRateLimited bool
}

// MatchClass returns the first class whose prefix matches path.
func (p Policy) MatchClass(path string) *RouteClass {
	for i := range p.Classes {
		if p.Classes[i].Matches(path) {
			return &p.Classes[i]
		}
	}
	return nil
}
