package store

import "sync"

// Presence tracks which contacts are currently online. Every snapshot
// from the push channel replaces the whole set; there is no incremental
// update path.
type Presence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

// NewPresence creates an empty presence set.
func NewPresence() *Presence {
	return &Presence{online: make(map[string]struct{})}
}

// SetOnline replaces the tracked set with ids.
func (p *Presence) SetOnline(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		next[id] = struct{}{}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

// IsOnline reports whether contactID appeared in the latest snapshot.
// Unknown ids are offline.
func (p *Presence) IsOnline(contactID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[contactID]
	return ok
}

// Online returns a snapshot copy of the online id set.
func (p *Presence) Online() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	return out
}

// Reset clears the set. Called on logout.
func (p *Presence) Reset() {
	p.mu.Lock()
	p.online = make(map[string]struct{})
	p.mu.Unlock()
}
