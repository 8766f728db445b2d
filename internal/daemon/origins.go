package daemon

import "sync"

// OriginSet is the runtime-mutable half of the CORS allowlist. Static origins
// come from the config; tunnel and relay URLs are added here while they are
// live and removed on teardown.
type OriginSet struct {
	mu      sync.Mutex
	origins map[string]struct{}
}

// NewOriginSet returns an empty set.
func NewOriginSet() *OriginSet {
	return &OriginSet{origins: make(map[string]struct{})}
}

// Add registers an origin.
func (s *OriginSet) Add(origin string) {
	if origin == "" {
		return
	}
	s.mu.Lock()
	s.origins[origin] = struct{}{}
	s.mu.Unlock()
}

// Remove drops an origin.
func (s *OriginSet) Remove(origin string) {
	s.mu.Lock()
	delete(s.origins, origin)
	s.mu.Unlock()
}

// Contains reports whether the origin was added at runtime.
func (s *OriginSet) Contains(origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.origins[origin]
	return ok
}

// List returns the current origins.
func (s *OriginSet) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.origins))
	for o := range s.origins {
		out = append(out, o)
	}
	return out
}
