package server

import (
	"container/list"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lawsker/lawsker/internal/clock"
	"github.com/lawsker/lawsker/internal/config"
)

// CORSMiddleware lets the listed origins call the demo API from other sites.
// Each operation advertises only its own methods, so a preflight for a
// command allows POST and a preflight for a read allows GET and HEAD.
// Paths that are not demo operations get no CORS headers at all.
func CORSMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	listed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		listed[o] = true
	}

	return func(next http.Handler) http.Handler {
		if len(origins) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allow, known := opMethods(apiOp(r.URL.Path))
			if origin == "" || !known || !(allowAll || listed[origin]) {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			if allowAll {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if want := r.Header.Get("Access-Control-Request-Method"); want != "" && !methodListed(allow, want) {
				w.Header().Set("Allow", allow)
				writeJSONError(w, http.StatusMethodNotAllowed, want+" not allowed on this endpoint")
				return
			}
			h.Set("Access-Control-Allow-Methods", allow+", OPTIONS")
			if allow == http.MethodPost {
				// Only commands carry a JSON body.
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// SecurityHeadersMiddleware adds security headers to all responses.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			// Pages carry small inline scripts; connect-src 'self' covers
			// the same-origin demo websocket.
			w.Header().Set("Content-Security-Policy",
				"default-src 'self'; "+
					"script-src 'self' 'unsafe-inline'; "+
					"style-src 'self' 'unsafe-inline'; "+
					"img-src 'self' data: https:; "+
					"font-src 'self' data:; "+
					"connect-src 'self'; "+
					"frame-ancestors 'none'")

			next.ServeHTTP(w, r)
		})
	}
}

const (
	// evictionLogInterval is the minimum time between eviction log messages.
	evictionLogInterval = 30 * time.Second
	// clientIdleTimeout drops clients that sent no command for this long.
	clientIdleTimeout = 10 * time.Minute
)

// clientBucket is one client's token bucket and its place in the LRU list.
type clientBucket struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// commandLimiter rate limits demo commands per client IP. REST command
// POSTs and websocket command messages draw from the same bucket; reads are
// never limited, so polling state or the run counter is always answered.
type commandLimiter struct {
	limit  rate.Limit
	burst  int
	max    int
	clock  clock.Clock
	logger *zap.Logger

	mu           sync.Mutex
	clients      map[string]*list.Element
	order        *list.List // front = most recent command
	lastSweep    time.Time
	lastEvictLog time.Time
	evicted      int
}

func newCommandLimiter(cfg *config.APIConfig, clk clock.Clock, logger *zap.Logger) *commandLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &commandLimiter{
		limit:     rate.Limit(cfg.GetRateLimitRPS()),
		burst:     cfg.GetRateLimitBurst(),
		max:       cfg.GetMaxTrackedIPs(),
		clock:     clk,
		logger:    logger,
		clients:   make(map[string]*list.Element),
		order:     list.New(),
		lastSweep: clk.Now(),
	}
}

// allow reports whether ip may send another command now and takes a token
// if so.
func (l *commandLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.Sub(l.lastSweep) >= clientIdleTimeout {
		l.sweep(now)
	}

	elem, ok := l.clients[ip]
	if ok {
		l.order.MoveToFront(elem)
		elem.Value.(*clientBucket).lastSeen = now
	} else {
		if l.order.Len() >= l.max {
			l.evictOldest(now)
		}
		elem = l.order.PushFront(&clientBucket{
			ip:       ip,
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		})
		l.clients[ip] = elem
	}
	return elem.Value.(*clientBucket).limiter.AllowN(now, 1)
}

// sweep drops idle clients. LRU order follows the last command, so the
// oldest entries sit at the back and the walk stops at the first fresh one.
func (l *commandLimiter) sweep(now time.Time) {
	for e := l.order.Back(); e != nil; {
		b := e.Value.(*clientBucket)
		if now.Sub(b.lastSeen) < clientIdleTimeout {
			break
		}
		prev := e.Prev()
		l.order.Remove(e)
		delete(l.clients, b.ip)
		e = prev
	}
	l.lastSweep = now
}

func (l *commandLimiter) evictOldest(now time.Time) {
	back := l.order.Back()
	if back == nil {
		return
	}
	l.order.Remove(back)
	delete(l.clients, back.Value.(*clientBucket).ip)
	l.evicted++
	if now.Sub(l.lastEvictLog) >= evictionLogInterval {
		l.logger.Warn("command limiter evicted least-recent clients",
			zap.Int("evicted", l.evicted), zap.Int("capacity", l.max))
		l.lastEvictLog = now
		l.evicted = 0
	}
}

func (l *commandLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// retryAfter is the whole number of seconds until one token refills.
func (l *commandLimiter) retryAfter() string {
	secs := math.Ceil(1 / float64(l.limit))
	if secs < 1 || math.IsInf(secs, 0) {
		secs = 1
	}
	return strconv.Itoa(int(secs))
}

// middleware limits command POSTs; every other request passes through.
func (l *commandLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}
		if !l.allow(getClientIP(r)) {
			w.Header().Set("Retry-After", l.retryAfter())
			writeJSONError(w, http.StatusTooManyRequests, errTooManyCommands.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getClientIP extracts the client IP from the request.
// It only trusts X-Forwarded-For / X-Real-IP when the immediate peer is a
// loopback or private address (i.e., behind a reverse proxy).
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peerIP := net.ParseIP(host)
	trustedProxy := peerIP != nil && (peerIP.IsLoopback() || peerIP.IsPrivate())

	if trustedProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			return strings.TrimSpace(xri)
		}
	}

	if peerIP != nil {
		return peerIP.String()
	}
	return host
}
