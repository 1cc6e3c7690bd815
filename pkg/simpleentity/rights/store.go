package rights

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// Store holds rights per agent in memory and implements
// simpleentity.Authorizer.
type Store struct {
	mu     sync.RWMutex
	rights map[string][]Right

	// PublicRead lets every agent read PUBLISHED entities
	PublicRead bool
	// GrantOwnerOnCreate gives non-anonymous creators ENTITY_OWNER on what they create
	GrantOwnerOnCreate bool
}

var _ simpleentity.Authorizer = (*Store)(nil)

// NewStore returns a store where published entities are public and creators
// own what they create.
func NewStore() *Store {
	return &Store{
		rights:             make(map[string][]Right),
		PublicRead:         true,
		GrantOwnerOnCreate: true,
	}
}

// Grant adds r to agent. Granting a right twice is a no-op.
func (s *Store) Grant(agent string, r Right) error {
	if agent == "" {
		return fmt.Errorf("%w: agent is required", simpleentity.ErrInvalidParameter)
	}
	if err := r.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.rights[agent], r) {
		s.rights[agent] = append(s.rights[agent], r)
	}
	return nil
}

// Revoke removes r from agent.
func (s *Store) Revoke(agent string, r Right) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := slices.DeleteFunc(s.rights[agent], func(have Right) bool { return have == r })
	if len(kept) == 0 {
		delete(s.rights, agent)
		return
	}
	s.rights[agent] = kept
}

// Rights returns a copy of the rights held by agent.
func (s *Store) Rights(agent string) []Right {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rights[agent])
}

func (s *Store) Authorize(ctx context.Context, agent string, permission simpleentity.Permission, target *simpleentity.Entity, h *simpleentity.Hierarchy) error {
	if s.PublicRead && permission == simpleentity.PermissionRead && target != nil && target.State == simpleentity.StatePublished {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.rights[agent] {
		if r.Compare(permission, target, h) {
			return nil
		}
	}

	id := ""
	if target != nil {
		id = target.ID
	}
	return fmt.Errorf("%w: %s may not %s entity %s", simpleentity.ErrPermissionDenied, agent, permission, id)
}

func (s *Store) EntityCreated(ctx context.Context, agent string, e *simpleentity.Entity) error {
	if !s.GrantOwnerOnCreate || agent == "" || agent == simpleentity.Anonymous {
		return nil
	}
	return s.Grant(agent, EntityOwner(e.ID))
}

func (s *Store) RemoveAnchor(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for agent, held := range s.rights {
		kept := slices.DeleteFunc(held, func(r Right) bool { return r.AnchoredTo(id) })
		removed += len(held) - len(kept)
		if len(kept) == 0 {
			delete(s.rights, agent)
		} else {
			s.rights[agent] = kept
		}
	}
	if removed > 0 {
		slog.Debug("Rights removed", "anchor", id, "count", removed)
	}
	return nil
}
