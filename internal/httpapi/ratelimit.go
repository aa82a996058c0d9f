package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterPool hands out one token bucket per client and evicts buckets that
// have gone quiet. Clients are keyed by session token when one is presented,
// so operators behind a shared NAT (common on incident-site networks) do not
// starve each other; anonymous readers share a per-IP bucket.
type limiterPool struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rps     rate.Limit
	burst   int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterPool(rps, burst int) *limiterPool {
	p := &limiterPool{
		buckets: make(map[string]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
	}
	go p.evictLoop()
	return p
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(p.rps, p.burst)}
		p.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (p *limiterPool) evictLoop() {
	for {
		time.Sleep(5 * time.Minute)
		p.mu.Lock()
		for key, b := range p.buckets {
			if time.Since(b.lastSeen) > 10*time.Minute {
				delete(p.buckets, key)
			}
		}
		p.mu.Unlock()
	}
}

// clientKey identifies the caller for rate-limiting purposes.
func clientKey(c *gin.Context) string {
	if tok, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok && tok != "" {
		return "tok:" + tok
	}
	return "ip:" + c.ClientIP()
}

// RateLimiter returns a Gin middleware enforcing token-bucket rate limits
// per client. rps is the steady-state requests per second; burst is the
// short-term allowance.
func RateLimiter(rps, burst int) gin.HandlerFunc {
	pool := newLimiterPool(rps, burst)
	limitHeader := strconv.Itoa(rps)

	return func(c *gin.Context) {
		if !pool.get(clientKey(c)).Allow() {
			c.Header("Retry-After", "1")
			c.Header("X-RateLimit-Limit", limitHeader)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
