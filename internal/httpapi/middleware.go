package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/BrandonDHaskell/corenest/internal/corenest/types"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey int

const requestIDKey ctxKey = iota

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestIDMiddleware propagates the client's X-Request-ID or assigns a
// time-ordered one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			if u, err := uuid.NewV7(); err == nil {
				id = u.String()
			} else {
				id = uuid.NewString()
			}
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now().UTC()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"from":       r.RemoteAddr,
				"dur":        time.Since(start).String(),
				"request_id": requestIDFrom(r.Context()),
			}).Info("http request")
		})
	}
}

func recoverMiddleware(logger logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if p := recover(); p != nil {
					if p == http.ErrAbortHandler {
						panic(p)
					}
					logger.WithFields(logrus.Fields{
						"request_id": requestIDFrom(r.Context()),
						"panic":      p,
					}).Error("handler panic")
					writeError(w, r, http.StatusInternalServerError, types.ErrorBody{
						Kind:    "internal_error",
						Message: "unexpected server error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

const (
	limiterIdleTTL     = 10 * time.Minute
	limiterSweepEvery  = time.Minute
	maxTrackedLimiters = 10000
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet hands out one token bucket per principal.  Buckets idle for
// longer than idleTTL are dropped, and the set never holds more than max
// entries; when full, the least recently used bucket is evicted.
type limiterSet struct {
	mu        sync.Mutex
	rps       rate.Limit
	burst     int
	idleTTL   time.Duration
	max       int
	now       func() time.Time
	lastSweep time.Time
	limiters  map[string]*limiterEntry
}

func newLimiterSet(rps, burst int) *limiterSet {
	idle := limiterIdleTTL
	// A bucket must be idle long enough to have refilled before it is dropped.
	if refill := time.Duration(float64(burst) / float64(rps) * float64(time.Second)); refill > idle {
		idle = refill
	}
	return &limiterSet{
		rps:      rate.Limit(rps),
		burst:    burst,
		idleTTL:  idle,
		max:      maxTrackedLimiters,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
	}
}

func (s *limiterSet) get(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= limiterSweepEvery {
		s.sweep(now)
	}

	e, ok := s.limiters[key]
	if !ok {
		if len(s.limiters) >= s.max {
			s.sweep(now)
			if len(s.limiters) >= s.max {
				s.evictOldest()
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (s *limiterSet) sweep(now time.Time) {
	s.lastSweep = now
	for k, e := range s.limiters {
		if now.Sub(e.lastSeen) > s.idleTTL {
			delete(s.limiters, k)
		}
	}
}

func (s *limiterSet) evictOldest() {
	var oldest string
	var at time.Time
	for k, e := range s.limiters {
		if oldest == "" || e.lastSeen.Before(at) {
			oldest, at = k, e.lastSeen
		}
	}
	delete(s.limiters, oldest)
}

func (s *limiterSet) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// limiterKey names the bucket for r: the normalised principal, or the
// remote host when the header is absent or invalid.
func limiterKey(r *http.Request) string {
	if p, err := types.ParsePrincipal(r.Header.Get(PrincipalHeader)); err == nil {
		return "principal:" + p.String()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "addr:" + host
}

// rateLimitMiddleware throttles each principal (or remote address, for
// anonymous calls) independently.  rps <= 0 disables it.
func rateLimitMiddleware(rps, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = rps
	}
	return newLimiterSet(rps, burst).middleware
}

func (s *limiterSet) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.get(limiterKey(r)).Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, http.StatusTooManyRequests, types.ErrorBody{
				Kind:    "rate_limited",
				Message: "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
