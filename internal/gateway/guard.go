package gateway

import "sync"

// Guard rejects a message key that is already being processed.
type Guard struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewGuard() *Guard {
	return &Guard{inflight: make(map[string]struct{})}
}

// Acquire claims key. When ok is false the key is held elsewhere and release
// is a no-op.
func (g *Guard) Acquire(key string) (release func(), ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[key]; busy {
		return func() {}, false
	}
	g.inflight[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inflight, key)
			g.mu.Unlock()
		})
	}, true
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.inflight)
}

// Route is where a user was last heard from.
type Route struct {
	Channel string
	ChatID  string
}

// Routes remembers the latest route per user for agent-initiated messages.
type Routes struct {
	mu     sync.RWMutex
	routes map[string]Route
}

func NewRoutes() *Routes {
	return &Routes{routes: make(map[string]Route)}
}

func (r *Routes) Set(userID string, route Route) {
	r.mu.Lock()
	r.routes[userID] = route
	r.mu.Unlock()
}

func (r *Routes) Get(userID string) (Route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	route, ok := r.routes[userID]
	return route, ok
}

func (r *Routes) Delete(userID string) {
	r.mu.Lock()
	delete(r.routes, userID)
	r.mu.Unlock()
}
