package middleware

import (
	"net/http"
	"sync"
	"time"

	"PPChat/tools/errs"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*entry
	rps   float64
	burst int
	ttl   time.Duration
	last  time.Time
}

type entry struct {
	l    *rate.Limiter
	seen time.Time
}

func (p *limiterPool) get(key string, now time.Time) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.Sub(p.last) > p.ttl {
		// 顺带清掉长时间不活跃的 key
		for k, e := range p.m {
			if now.Sub(e.seen) > p.ttl {
				delete(p.m, k)
			}
		}
		p.last = now
	}
	if e, ok := p.m[key]; ok {
		e.seen = now
		return e.l
	}
	l := rate.NewLimiter(rate.Limit(p.rps), p.burst)
	p.m[key] = &entry{l: l, seen: now}
	return l
}

// RateLimit 按客户端 IP 的令牌桶；超限 429
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	p := &limiterPool{m: make(map[string]*entry), rps: rps, burst: burst, ttl: 10 * time.Minute}
	return func(c *gin.Context) {
		if !p.get(c.ClientIP(), time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": errs.ErrRateLimit.Msg})
		}
	}
}
