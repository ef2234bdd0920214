package admission

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"admission-gateway/middleware/admission/domain"
)

// Admitter é o que o middleware precisa do engine: uma decisão por request.
type Admitter interface {
	Admit(ctx context.Context, clientAddr, routeType, path string) domain.Decision
}

type KeyFunc func(r *http.Request) string

// RouteTypeFunc classifica a requisição em um routeType. O padrão devolve
// sempre "default"; gateways com rotas heterogêneas plugam a própria função.
type RouteTypeFunc func(r *http.Request) string

type Options struct {
	Engine              Admitter
	Observer            domain.DecisionObserver
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	RouteTypeFn         RouteTypeFunc
	RejectStatus        int
	BlockedStatus       int
	RetryAfter          time.Duration
	AddRateLimitHeaders bool
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				if len(parts) > 0 {
					ip := strings.TrimSpace(parts[0])
					if ip != "" {
						return ip
					}
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.BlockedStatus == 0 {
		opts.BlockedStatus = http.StatusForbidden
	}
	if opts.RetryAfter == 0 {
		opts.RetryAfter = 1 * time.Second
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.RouteTypeFn == nil {
		opts.RouteTypeFn = func(*http.Request) string { return domain.DefaultRouteType }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			routeType := opts.RouteTypeFn(r)

			dec := opts.Engine.Admit(r.Context(), key, routeType, r.URL.Path)
			if opts.Observer != nil {
				opts.Observer.ObserveDecision(routeType, dec.Allowed)
			}

			if opts.AddRateLimitHeaders && dec.Status != nil {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Status.MaxRequests))
				w.Header().Set("X-RateLimit-Remaining", formatInt64(dec.Status.Remaining()))
				w.Header().Set("X-RateLimit-Reset", formatUnix(dec.Status.WindowEnd))
			}

			if !dec.Allowed {
				status := opts.RejectStatus
				retryAfter := opts.RetryAfter
				if dec.Reason == domain.ReasonBlockedIP {
					status = opts.BlockedStatus
				} else if dec.Status != nil {
					if until := time.Until(dec.Status.WindowEnd); until > retryAfter {
						retryAfter = until
					}
				}
				w.Header().Set("Retry-After", formatInt(int(retryAfter.Seconds())))
				http.Error(w, http.StatusText(status), status)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
