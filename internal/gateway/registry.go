package gateway

import "sync"

// Registry maps an authenticated identity to exactly one live Peer.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]Peer // user_id -> peer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]Peer)}
}

// Register makes p the live connection for userID and returns the peer it
// replaced, if any.
func (r *Registry) Register(userID string, p Peer) Peer {
	r.mu.Lock()
	prev := r.byUser[userID]
	r.byUser[userID] = p
	r.mu.Unlock()

	if prev != nil && prev.ID() == p.ID() {
		return nil
	}
	return prev
}

// Unregister removes the entry for userID only if it still points at p.
// It reports whether an entry was removed; false means the identity has
// since been registered by another connection (or was never registered).
func (r *Registry) Unregister(userID string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byUser[userID]
	if !ok || cur.ID() != p.ID() {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Get returns the live peer for userID, or nil.
func (r *Registry) Get(userID string) Peer {
	r.mu.RLock()
	p := r.byUser[userID]
	r.mu.RUnlock()
	return p
}

// IsLive reports whether userID currently has a registered connection.
func (r *Registry) IsLive(userID string) bool {
	return r.Get(userID) != nil
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byUser)
	r.mu.RUnlock()
	return n
}
