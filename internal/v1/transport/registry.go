package transport

import "sync"

// Registry is the per-actor tag index giving O(1) lookup of every
// connection carrying a given tag (e.g. "player:ABCDEF", "user:u_123").
// Tags are set when a connection is accepted and held only for the lifetime
// of the live socket.
type Registry struct {
	mu    sync.RWMutex
	byTag map[string]map[*Conn]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]map[*Conn]struct{})}
}

// Add indexes c under every tag it carries.
func (r *Registry) Add(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tag := range c.Tags() {
		set, ok := r.byTag[tag]
		if !ok {
			set = make(map[*Conn]struct{})
			r.byTag[tag] = set
		}
		set[c] = struct{}{}
	}
}

// Remove removes c from every tag bucket it was indexed under. It scans every
// bucket rather than reading c's current tags, so a SetTags since Add does
// not leave c behind.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag, set := range r.byTag {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(r.byTag, tag)
			}
		}
	}
}

// Retag moves c from its current tag bucket placement to newTags; used by
// warm-seat promotion, which flips a connection from spectator:<code> to
// player:<code> on the same socket.
func (r *Registry) Retag(c *Conn, newTags []string) {
	r.Remove(c)
	c.SetTags(newTags)
	r.Add(c)
}

// ByTag returns a snapshot slice of connections carrying tag.
func (r *Registry) ByTag(tag string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.byTag[tag]
	out := make([]*Conn, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// CountByTag returns the number of connections currently carrying tag.
func (r *Registry) CountByTag(tag string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTag[tag])
}

// All returns every distinct connection currently registered under any tag.
func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*Conn]struct{})
	for _, set := range r.byTag {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	out := make([]*Conn, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	return out
}
