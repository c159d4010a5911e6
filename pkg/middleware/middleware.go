package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-paper/internal/auth"
	"github.com/ksred/klear-paper/pkg/response"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client and route family
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	authLimit    rate.Limit
	tradingLimit rate.Limit
	readLimit    rate.Limit
}

// NewRateLimiter uses 10/min for auth, 100/min for mutations and 1000/min for reads
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		visitors:     make(map[string]*visitor),
		authLimit:    rate.Limit(10.0 / 60.0),
		tradingLimit: rate.Limit(100.0 / 60.0),
		readLimit:    rate.Limit(1000.0 / 60.0),
	}
}

func (rl *RateLimiter) limiter(method, path, clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	key := clientID + ":" + method + ":" + path
	v, exists := rl.visitors[key]
	if !exists {
		var limit rate.Limit
		burst := 1
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = rl.authLimit
		case method == "GET":
			limit = rl.readLimit
			burst = 10
		case strings.HasPrefix(path, "/api/v1/"):
			limit = rl.tradingLimit
			burst = 5
		default:
			limit = rate.Inf
		}

		v = &visitor{limiter: rate.NewLimiter(limit, burst)}
		rl.visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// Cleanup drops visitors idle for longer than maxIdle
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, v := range rl.visitors {
		if time.Since(v.lastSeen) > maxIdle {
			delete(rl.visitors, key)
		}
	}
}

// Middleware rejects requests over the bucket rate. Mounted after JWTAuth it
// keys buckets by client id, otherwise by IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("clientID")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		if !rl.limiter(c.Request.Method, c.FullPath(), clientID).Allow() {
			log.Warn().Str("client", clientID).Str("path", c.FullPath()).Msg("rate limit exceeded")
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and stores its claims in the context
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		bearerToken := strings.Split(c.GetHeader("Authorization"), " ")
		if len(bearerToken) != 2 || !strings.EqualFold(bearerToken[0], "bearer") {
			response.Unauthorized(c, "Invalid authorization header")
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(bearerToken[1])
		if err != nil {
			response.Unauthorized(c, "Invalid token")
			c.Abort()
			return
		}

		c.Set("claims", claims)
		c.Set("clientID", claims.ClientID)
		c.Next()
	}
}

// RequirePermission aborts with 403 unless the token grants perm
func RequirePermission(perm string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.ClaimsFromContext(c)
		if !ok {
			response.Unauthorized(c, "Missing authentication claims")
			c.Abort()
			return
		}
		if !claims.HasPermission(perm) {
			response.Forbidden(c, "Missing permission: "+perm)
			c.Abort()
			return
		}
		c.Next()
	}
}
