package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/TermGate/internal/infrastructure/config"
	"github.com/GriffinCanCode/TermGate/internal/shared/errs"
)

// Limiter dispenses per-client token buckets for REST traffic. Message
// channels carry their own input limiter; this one only covers HTTP.
type Limiter struct {
	rps   int
	burst int

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		rps:     cfg.RequestsPerSecond,
		burst:   cfg.Burst,
		clients: make(map[string]*client),
	}
}

// Middleware rejects over-rate clients with the gateway error shape.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"kind":  string(errs.KindResourceExhausted),
			})
			return
		}
		c.Next()
	}
}

func (l *Limiter) allow(ip string) bool {
	l.mu.Lock()
	cl, ok := l.clients[ip]
	if !ok {
		cl = &client{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = time.Now()
	l.mu.Unlock()
	return cl.limiter.Allow()
}

// Sweep drops buckets idle longer than maxIdle so the client map cannot
// grow without bound. The janitor calls this on its cleanup schedule.
func (l *Limiter) Sweep(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for ip, cl := range l.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}
