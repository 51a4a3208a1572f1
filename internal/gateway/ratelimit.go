package gateway

import (
	"net"
	"sync"
	"time"
)

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000
)

// authRateLimiter counts failed auth attempts per client IP inside a sliding
// window. The map is capped; the stalest IP is evicted when full.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{
		failures: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
}

// run prunes stale entries until close is called.
func (l *authRateLimiter) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-authRateWindow)
	for ip := range l.failures {
		l.recentLocked(ip, cutoff)
	}
}

// recentLocked drops expired failures for ip and returns what is left.
func (l *authRateLimiter) recentLocked(ip string, cutoff time.Time) []time.Time {
	times := l.failures[ip]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.failures, ip)
		return nil
	}
	l.failures[ip] = kept
	return kept
}

func (l *authRateLimiter) allow(remoteAddr string) bool {
	ip := clientIP(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.recentLocked(ip, l.now().Add(-authRateWindow))) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(remoteAddr string) {
	ip := clientIP(remoteAddr)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, tracked := l.failures[ip]; !tracked && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldest time.Time
		for candidate, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldest)) {
				oldestIP, oldest = candidate, times[0]
			}
		}
		delete(l.failures, oldestIP)
	}
	l.failures[ip] = append(l.failures[ip], l.now())
}

func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || host == "" {
		return remoteAddr
	}
	return host
}
