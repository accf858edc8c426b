package admission

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"relay/internal/observability/metrics"
)

type keyLimiter struct {
	lim *rate.Limiter
	ts  time.Time
}

// LocalLimiter is the single-instance backend: one in-process token
// bucket per key, created on first use, garbage-collected when idle.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*keyLimiter

	ipRate    rate.Limit
	ipBurst   int
	userRate  rate.Limit
	userBurst int

	ttl time.Duration
}

func NewLocalLimiter(limits Limits) *LocalLimiter {
	window := limits.Window
	if window <= 0 {
		window = time.Minute
	}
	return &LocalLimiter{
		buckets:   make(map[string]*keyLimiter),
		ipRate:    rate.Limit(float64(limits.IPPerWindow) / window.Seconds()),
		ipBurst:   limits.IPPerWindow,
		userRate:  rate.Limit(float64(limits.UserPerWindow) / window.Seconds()),
		userBurst: limits.UserPerWindow,
		ttl:       2 * window,
	}
}

func (l *LocalLimiter) bucket(key string, r rate.Limit, burst int) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.buckets[key]
	if ok {
		kl.ts = time.Now()
		return kl.lim
	}
	lim := rate.NewLimiter(r, burst)
	l.buckets[key] = &keyLimiter{lim: lim, ts: time.Now()}
	return lim
}

func (l *LocalLimiter) Allow(_ context.Context, ip string, userID uuid.UUID) (Decision, error) {
	ipRes := l.bucket("ip:"+ip, l.ipRate, l.ipBurst).Reserve()
	if d := ipRes.Delay(); d > 0 {
		ipRes.Cancel()
		metrics.AdmissionRejectedTotal.WithLabelValues("ip").Inc()
		return Decision{RetryAfter: d}, nil
	}

	userRes := l.bucket("user:"+userID.String(), l.userRate, l.userBurst).Reserve()
	if d := userRes.Delay(); d > 0 {
		// Give the IP token back: a rejected attempt must not consume
		// capacity from the other bucket.
		userRes.Cancel()
		ipRes.Cancel()
		metrics.AdmissionRejectedTotal.WithLabelValues("user").Inc()
		return Decision{RetryAfter: d}, nil
	}

	return Decision{Allowed: true}, nil
}

// Run garbage-collects idle buckets until ctx is cancelled.
func (l *LocalLimiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.gc()
		}
	}
}

func (l *LocalLimiter) gc() {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, v := range l.buckets {
		if now.Sub(v.ts) > l.ttl {
			delete(l.buckets, k)
		}
	}
}
