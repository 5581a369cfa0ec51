package gateway

import "sync"

// Subscriptions maps a group to the identities currently eligible for live
// fan-out of that group's messages. It is a cache: membership is always
// re-checked before a send, so entries may be rebuilt lazily.
type Subscriptions struct {
	mu     sync.RWMutex
	groups map[string]map[string]struct{} // group_id -> user_ids
	byUser map[string]map[string]struct{} // user_id -> group_ids
}

// NewSubscriptions creates an empty table.
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		groups: make(map[string]map[string]struct{}),
		byUser: make(map[string]map[string]struct{}),
	}
}

// Add subscribes userID to groupID. Adding an existing entry is a no-op.
func (s *Subscriptions) Add(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.groups[groupID]
	if set == nil {
		set = make(map[string]struct{})
		s.groups[groupID] = set
	}
	set[userID] = struct{}{}

	gs := s.byUser[userID]
	if gs == nil {
		gs = make(map[string]struct{})
		s.byUser[userID] = gs
	}
	gs[groupID] = struct{}{}
}

// Remove unsubscribes userID from groupID. Removing an absent entry is a
// no-op. Empty sets are discarded.
func (s *Subscriptions) Remove(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(groupID, userID)
}

func (s *Subscriptions) removeLocked(groupID, userID string) {
	if set, ok := s.groups[groupID]; ok {
		delete(set, userID)
		if len(set) == 0 {
			delete(s.groups, groupID)
		}
	}
	if gs, ok := s.byUser[userID]; ok {
		delete(gs, groupID)
		if len(gs) == 0 {
			delete(s.byUser, userID)
		}
	}
}

// RemoveUser drops userID from every group and returns the groups it was
// removed from.
func (s *Subscriptions) RemoveUser(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	gs := s.byUser[userID]
	out := make([]string, 0, len(gs))
	for g := range gs {
		out = append(out, g)
	}
	for _, g := range out {
		s.removeLocked(g, userID)
	}
	return out
}

// Subscribers returns a snapshot of the identities subscribed to groupID.
func (s *Subscriptions) Subscribers(groupID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.groups[groupID]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	return out
}

// IsSubscribed reports whether userID is subscribed to groupID.
func (s *Subscriptions) IsSubscribed(groupID, userID string) bool {
	s.mu.RLock()
	_, ok := s.groups[groupID][userID]
	s.mu.RUnlock()
	return ok
}

// Groups returns the groups userID is subscribed to.
func (s *Subscriptions) Groups(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	gs := s.byUser[userID]
	out := make([]string, 0, len(gs))
	for g := range gs {
		out = append(out, g)
	}
	return out
}

// Len returns the number of non-empty groups.
func (s *Subscriptions) Len() int {
	s.mu.RLock()
	n := len(s.groups)
	s.mu.RUnlock()
	return n
}
