// Package membership answers who belongs to which group. Groups are the
// product's startups: the owner plus every row in startup_members.
package membership

import (
	"context"
	"sync"
)

// Oracle is the gateway's read-only view of group membership and users.
// Members must include the group's owner.
type Oracle interface {
	IsMember(ctx context.Context, groupID, userID string) (bool, error)
	Members(ctx context.Context, groupID string) ([]string, error)
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Static is an in-memory Oracle for local runs without a database and for
// tests.
type Static struct {
	mu     sync.RWMutex
	users  map[string]struct{}
	owners map[string]string
	groups map[string]map[string]struct{}
}

// NewStatic creates an empty Static oracle.
func NewStatic() *Static {
	return &Static{
		users:  make(map[string]struct{}),
		owners: make(map[string]string),
		groups: make(map[string]map[string]struct{}),
	}
}

// AddUser registers user ids.
func (s *Static) AddUser(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.users[id] = struct{}{}
	}
}

// AddGroup registers a group with its owner and members. All of them become
// known users.
func (s *Static) AddGroup(groupID, ownerID string, memberIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.owners[groupID] = ownerID
	s.users[ownerID] = struct{}{}
	set := make(map[string]struct{}, len(memberIDs))
	for _, id := range memberIDs {
		set[id] = struct{}{}
		s.users[id] = struct{}{}
	}
	s.groups[groupID] = set
}

// RemoveMember drops userID from groupID's member list.
func (s *Static) RemoveMember(groupID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.groups[groupID], userID)
}

func (s *Static) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if owner, ok := s.owners[groupID]; ok && owner == userID {
		return true, nil
	}
	_, ok := s.groups[groupID][userID]
	return ok, nil
}

func (s *Static) Members(ctx context.Context, groupID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner, ok := s.owners[groupID]
	if !ok {
		return nil, nil
	}
	out := []string{owner}
	for id := range s.groups[groupID] {
		if id != owner {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *Static) UserExists(ctx context.Context, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok, nil
}
