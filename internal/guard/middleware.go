package guard

import (
	"context"
	"math"
	"net/http"
	"strconv"
)

const BlockedMessage = "Forbidden: your IP address has been blocked."

type outcomeKey struct{}

// OutcomeFromContext returns the admission outcome stored by Middleware.
func OutcomeFromContext(ctx context.Context) (Outcome, bool) {
	outcome, ok := ctx.Value(outcomeKey{}).(Outcome)
	return outcome, ok
}

type middlewareConfig struct {
	subject     func(*http.Request) string
	rateLimited http.Handler
}

type MiddlewareOption func(*middlewareConfig)

// WithSubject supplies the authenticated identity of a request.
func WithSubject(fn func(*http.Request) string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.subject = fn
	}
}

// WithRateLimitedHandler renders the 429 response body.
func WithRateLimitedHandler(h http.Handler) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.rateLimited = h
	}
}

func (p *Pipeline) Middleware(next http.Handler, opts ...MiddlewareOption) http.Handler {
	cfg := middlewareConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     r.Header,
			RemoteAddr: r.RemoteAddr,
		}
		if cfg.subject != nil {
			req.Subject = cfg.subject(r)
		}

		outcome := p.Evaluate(r.Context(), req)
		r = r.WithContext(context.WithValue(r.Context(), outcomeKey{}, outcome))

		if outcome.RateLimit.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(outcome.RateLimit.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(outcome.RateLimit.Remaining(), 10))
		}

		switch outcome.Verdict {
		case VerdictBlocked:
			http.Error(w, BlockedMessage, http.StatusForbidden)
		case VerdictRateLimited:
			seconds := int(math.Ceil(outcome.RateLimit.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			if cfg.rateLimited != nil {
				cfg.rateLimited.ServeHTTP(&statusWriter{ResponseWriter: w, status: http.StatusTooManyRequests}, r)
				return
			}
			http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

// statusWriter forces the status code of a wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(w.status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(w.status)
	}
	return w.ResponseWriter.Write(b)
}
