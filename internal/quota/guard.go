package quota

import (
	"net"
	"net/http"
	"strings"
	"sync"
)

// SessionHeader carries the browser's session identifier.
const SessionHeader = "X-Session-ID"

// Guard tracks which sessions have a bundle request in flight. A second
// request from a busy session is refused rather than queued.
type Guard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{busy: make(map[string]struct{})}
}

// Acquire marks session busy. It returns a release func and true, or nil
// and false when the session already has a request in flight.
func (g *Guard) Acquire(session string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.busy[session]; busy {
		return nil, false
	}
	g.busy[session] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, session)
			g.mu.Unlock()
		})
	}, true
}

// SessionID identifies the caller: the X-Session-ID header when present,
// otherwise the client IP.
func SessionID(r *http.Request) string {
	if s := strings.TrimSpace(r.Header.Get(SessionHeader)); s != "" {
		return "s:" + s
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
