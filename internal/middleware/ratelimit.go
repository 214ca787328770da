package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// IPRateLimiter manages rate limiters per IP
type IPRateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewIPRateLimiter creates a new IP-based rate limiter
func NewIPRateLimiter(r rate.Limit, b int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    b,
	}
}

// GetLimiter returns the rate limiter for an IP
func (i *IPRateLimiter) GetLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	limiter, exists := i.limiters[ip]
	if !exists {
		limiter = rate.NewLimiter(i.rate, i.burst)
		i.limiters[ip] = limiter
	}

	return limiter
}

var (
	loginLimiter   = NewIPRateLimiter(rate.Every(time.Minute), 5)
	generalLimiter = NewIPRateLimiter(rate.Every(time.Second), 30)
)

// LoginRateLimit limits login attempts per IP
func LoginRateLimit() gin.HandlerFunc {
	return limitWith(loginLimiter, "Too many login attempts, please try again later")
}

// GeneralRateLimit limits all API traffic per IP
func GeneralRateLimit() gin.HandlerFunc {
	return limitWith(generalLimiter, "Too many requests, please slow down")
}

func limitWith(limiter *IPRateLimiter, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.GetLimiter(c.ClientIP()).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": message})
			c.Abort()
			return
		}
		c.Next()
	}
}
