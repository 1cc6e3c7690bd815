package simpleentity

import (
	"context"
	"time"
)

// DefaultMaxDepth bounds every walk along parent links.
const DefaultMaxDepth = 64

func (s *service) Hierarchy(ctx context.Context, id string) (_ *Hierarchy, err error) {
	defer s.observe("hierarchy", time.Now(), &err)

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "hierarchy", Err: err}
	}
	h, err := s.resolveFrom(ctx, e)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "hierarchy", Err: err}
	}
	return h, nil
}

// resolveFrom walks from e through its stored ancestors up to the entity of
// a root content model. e itself need not be stored.
func (s *service) resolveFrom(ctx context.Context, e *Entity) (*Hierarchy, error) {
	var path []string
	seen := make(map[string]bool)
	cur := e
	for {
		if len(path) >= s.maxDepth {
			return nil, invalidf("hierarchy of entity %s exceeds maximum depth %d", e.ID, s.maxDepth)
		}
		if seen[cur.ID] {
			return nil, invalidf("hierarchy of entity %s contains a cycle at %s", e.ID, cur.ID)
		}
		seen[cur.ID] = true
		path = append(path, cur.ID)

		model, err := s.resolveModel(ctx, cur.ContentModelID)
		if err != nil {
			return nil, err
		}
		if model.IsRoot() || cur.ParentID == "" {
			break
		}
		parent, err := s.load(ctx, cur.ParentID)
		if err != nil {
			return nil, err
		}
		cur = parent
	}

	h := &Hierarchy{Level1ID: path[len(path)-1]}
	if len(path) > 1 {
		h.Level2ID = path[len(path)-2]
	}
	return h, nil
}

// checkAcyclic fails when id is parent or one of its ancestors.
func (s *service) checkAcyclic(ctx context.Context, id string, parent *Entity) error {
	cur := parent
	for depth := 0; ; depth++ {
		if depth >= s.maxDepth {
			return invalidf("ancestors of entity %s exceed maximum depth %d", parent.ID, s.maxDepth)
		}
		if cur.ID == id {
			return invalidf("moving entity %s under %s would create a cycle", id, parent.ID)
		}
		if cur.ParentID == "" {
			return nil
		}
		next, err := s.load(ctx, cur.ParentID)
		if err != nil {
			return err
		}
		cur = next
	}
}

// checkMove validates a parent change from stored to candidate. An entity
// stays under the same level1 and level2 ancestors.
func (s *service) checkMove(ctx context.Context, stored, candidate *Entity) error {
	if stored.ParentID == candidate.ParentID {
		return nil
	}
	if stored.ParentID == "" {
		return invalidf("entity %s has no parent and cannot be moved", stored.ID)
	}
	if candidate.ParentID == "" {
		return invalidf("entity %s cannot be detached from its parent", stored.ID)
	}
	if candidate.ParentID == stored.ID {
		return invalidf("entity %s cannot be its own parent", stored.ID)
	}

	parent, err := s.load(ctx, candidate.ParentID)
	if err != nil {
		return err
	}
	model, err := s.resolveModel(ctx, stored.ContentModelID)
	if err != nil {
		return err
	}
	if !model.AllowsParent(parent.ContentModelID) {
		return invalidf("content model %s does not allow parent of content model %s", model.ID, parent.ContentModelID)
	}
	if err := s.checkAcyclic(ctx, stored.ID, parent); err != nil {
		return err
	}

	from, err := s.resolveFrom(ctx, stored)
	if err != nil {
		return err
	}
	to, err := s.resolveFrom(ctx, candidate)
	if err != nil {
		return err
	}
	if from.Level1ID != to.Level1ID {
		return invalidf("cannot move entity %s to a different level1 (%s to %s)", stored.ID, from.Level1ID, to.Level1ID)
	}
	if from.Level2ID != to.Level2ID {
		return invalidf("cannot move entity %s to a different level2 (%s to %s)", stored.ID, from.Level2ID, to.Level2ID)
	}
	return nil
}
