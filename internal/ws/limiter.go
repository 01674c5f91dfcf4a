package ws

import "sync"

// ConnLimiter caps concurrent WebSocket connections per client IP.
type ConnLimiter struct {
	mu    sync.Mutex
	conns map[string]int
	max   int
}

// NewConnLimiter creates a limiter allowing max connections per IP.
// A max of zero or less disables limiting.
func NewConnLimiter(max int) *ConnLimiter {
	return &ConnLimiter{
		conns: make(map[string]int),
		max:   max,
	}
}

// TryConnect records a connection for ip. It returns false when the
// per-IP cap is already reached.
func (l *ConnLimiter) TryConnect(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.max > 0 && l.conns[ip] >= l.max {
		return false
	}
	l.conns[ip]++
	return true
}

// Disconnect releases a connection slot for ip.
func (l *ConnLimiter) Disconnect(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conns[ip] <= 1 {
		delete(l.conns, ip)
		return
	}
	l.conns[ip]--
}

// Count returns the number of active connections for ip.
func (l *ConnLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[ip]
}
