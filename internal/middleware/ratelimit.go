package middleware

import (
	"context"
	"fmt"
	"log"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Strategy selects how the limiter keys a request.
type Strategy string

const (
	StrategyPerIP        Strategy = "per_ip"
	StrategyPerUser      Strategy = "per_user"
	StrategyPerOrg       Strategy = "per_org"
	StrategyPerIPAndUser Strategy = "per_ip_and_user"
	StrategyGlobal       Strategy = "global"
)

// Tier is a named request budget per minute. Burst headroom is applied
// on top by the limiter.
type Tier struct {
	Name  string
	Limit int
}

const rateLimitKeyPrefix = "ventro:ratelimit:"

// RateLimiter enforces sliding-window limits. Redis is the source of
// truth so limits hold across replicas; when Redis is unreachable the
// limiter degrades to per-process in-memory windows rather than failing
// requests.
type RateLimiter struct {
	rdb         redis.Cmdable
	burstFactor float64
	whitelist   []*net.IPNet
	logger      *log.Logger

	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	count       int
	windowStart time.Time
}

func NewRateLimiter(rdb redis.Cmdable, burstFactor float64, whitelistCIDRs []string) *RateLimiter {
	if burstFactor <= 1 {
		burstFactor = 1.5
	}
	rl := &RateLimiter{
		rdb:         rdb,
		burstFactor: burstFactor,
		logger:      log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
		windows:     make(map[string]*window),
	}
	for _, cidr := range whitelistCIDRs {
		if _, ipnet, err := net.ParseCIDR(cidr); err == nil {
			rl.whitelist = append(rl.whitelist, ipnet)
		} else {
			rl.logger.Printf("ignoring invalid whitelist CIDR %q", cidr)
		}
	}
	go rl.cleanup()
	return rl
}

// Allow checks and consumes one request against the key's budget.
// remaining is relative to the burst ceiling; retryAfter is how long a
// refused caller should wait for the window to open.
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int) (bool, int, time.Duration) {
	burst := int(float64(limit) * rl.burstFactor)

	if rl.rdb != nil {
		allowed, remaining, retry, err := rl.allowRedis(ctx, key, burst)
		if err == nil {
			return allowed, remaining, retry
		}
		rl.logger.Printf("redis unavailable, using in-memory fallback: %v", err)
	}
	return rl.allowMemory(key, burst)
}

// allowRedis keeps a per-key sorted set of request timestamps and counts
// the last 60 seconds.
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, burst int) (bool, int, time.Duration, error) {
	rkey := rateLimitKeyPrefix + key
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-time.Minute).UnixNano(), 10)

	if err := rl.rdb.ZRemRangeByScore(ctx, rkey, "-inf", cutoff).Err(); err != nil {
		return false, 0, 0, err
	}
	count, err := rl.rdb.ZCard(ctx, rkey).Result()
	if err != nil {
		return false, 0, 0, err
	}
	if int(count) >= burst {
		// The window opens when the oldest recorded request ages out.
		retry := time.Minute
		if oldest, err := rl.rdb.ZRangeWithScores(ctx, rkey, 0, 0).Result(); err == nil && len(oldest) == 1 {
			retry = time.Unix(0, int64(oldest[0].Score)).Add(time.Minute).Sub(now)
		}
		return false, 0, clampRetry(retry), nil
	}
	member := fmt.Sprintf("%d-%d", now.UnixNano(), count)
	if err := rl.rdb.ZAdd(ctx, rkey, redis.Z{Score: float64(now.UnixNano()), Member: member}).Err(); err != nil {
		return false, 0, 0, err
	}
	rl.rdb.Expire(ctx, rkey, 2*time.Minute)
	return true, burst - int(count) - 1, 0, nil
}

// allowMemory is the degraded single-process path.
func (rl *RateLimiter) allowMemory(key string, burst int) (bool, int, time.Duration) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	w, exists := rl.windows[key]
	if exists && now.Sub(w.windowStart) <= time.Minute {
		w.count++
		if w.count > burst {
			return false, 0, clampRetry(w.windowStart.Add(time.Minute).Sub(now))
		}
		return true, burst - w.count, 0
	}
	rl.windows[key] = &window{count: 1, windowStart: now}
	return true, burst - 1, 0
}

func clampRetry(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	if d > time.Minute {
		return time.Minute
	}
	return d
}

// Middleware enforces the tier with the given keying strategy and sets
// the standard limit headers on every response.
func (rl *RateLimiter) Middleware(tier Tier, strategy Strategy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if rl.whitelisted(ip) {
				next.ServeHTTP(w, r)
				return
			}

			// per_ip_and_user consumes from two buckets; the request
			// passes only when every bucket has capacity.
			keys := rl.buildKeys(r, tier, strategy, ip)
			allowed := true
			remaining := int(float64(tier.Limit) * rl.burstFactor)
			var retry time.Duration
			for _, key := range keys {
				ok, rem, ra := rl.Allow(r.Context(), key, tier.Limit)
				if !ok {
					allowed = false
					if ra > retry {
						retry = ra
					}
					rl.logger.Printf("limit exceeded: tier=%s key=%s", tier.Name, key)
				}
				if rem < remaining {
					remaining = rem
				}
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(tier.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Strategy", string(strategy))

			if !allowed {
				seconds := int(math.Ceil(retry.Seconds()))
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after_seconds":%d}`, seconds)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) buildKeys(r *http.Request, tier Tier, strategy Strategy, ip string) []string {
	claims := ClaimsFromContext(r.Context())
	userID, orgID := "anonymous", "none"
	if claims != nil {
		userID = claims.Subject
		orgID = claims.OrgID
	}

	switch strategy {
	case StrategyPerIP:
		return []string{tier.Name + ":ip:" + ip}
	case StrategyPerUser:
		return []string{tier.Name + ":user:" + userID}
	case StrategyPerOrg:
		return []string{tier.Name + ":org:" + orgID}
	case StrategyPerIPAndUser:
		return []string{tier.Name + ":ip:" + ip, tier.Name + ":user:" + userID}
	case StrategyGlobal:
		return []string{tier.Name + ":global"}
	default:
		return []string{tier.Name + ":ip:" + ip}
	}
}

func (rl *RateLimiter) whitelisted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipnet := range rl.whitelist {
		if ipnet.Contains(parsed) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// cleanup drops expired in-memory windows.
func (rl *RateLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for key, w := range rl.windows {
			if now.Sub(w.windowStart) > 2*time.Minute {
				delete(rl.windows, key)
			}
		}
		rl.mu.Unlock()
	}
}
