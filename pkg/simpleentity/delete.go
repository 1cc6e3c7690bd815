package simpleentity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// Delete removes the entity and its whole subtree. Nothing is removed when
// any entity of the subtree is published.
func (s *service) Delete(ctx context.Context, id string) (err error) {
	defer s.observe("delete", time.Now(), &err)
	wrap := func(err error) error {
		return &EntityError{EntityID: id, Op: "delete", Err: err}
	}

	root, err := s.load(ctx, id)
	if err != nil {
		return wrap(err)
	}
	if err := s.authorize(ctx, PermissionWrite, root); err != nil {
		return wrap(err)
	}

	var nodes []*Entity
	if err := s.collect(ctx, root, 0, make(map[string]bool), &nodes); err != nil {
		return wrap(err)
	}
	for _, n := range nodes {
		if n.State == StatePublished {
			return wrap(fmt.Errorf("%w: entity %s is published", ErrInvalidState, n.ID))
		}
	}

	for _, n := range nodes {
		if err := s.destroy(ctx, n); err != nil {
			return wrap(err)
		}
	}

	s.logger.Info("Entity deleted", "entity_id", id, "descendants", len(nodes)-1)
	return nil
}

// collect appends the subtree of e to out in post-order.
func (s *service) collect(ctx context.Context, e *Entity, depth int, seen map[string]bool, out *[]*Entity) error {
	if depth >= s.maxDepth {
		return invalidf("subtree of entity %s exceeds maximum depth %d", e.ID, s.maxDepth)
	}
	if seen[e.ID] {
		return invalidf("subtree contains a cycle at entity %s", e.ID)
	}
	seen[e.ID] = true

	children, err := s.index.FetchChildren(ctx, e.ID)
	if err != nil {
		return storeErr("index", "children", e.ID, err)
	}
	for _, childID := range children {
		child, err := s.load(ctx, childID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if err := s.collect(ctx, child, depth+1, seen, out); err != nil {
			return err
		}
	}
	*out = append(*out, e)
	return nil
}

// destroy removes one entity with its payloads, history, audit log and
// rights. Payload removal is best effort.
func (s *service) destroy(ctx context.Context, e *Entity) error {
	versions, err := s.versions.GetOldVersions(ctx, e.ID)
	if err != nil {
		return storeErr("versions", "list", e.ID, err)
	}

	paths := make(map[string]bool)
	for _, p := range e.PayloadPaths() {
		paths[p] = true
	}
	for _, v := range versions {
		if v.Entity == nil {
			continue
		}
		for _, p := range v.Entity.PayloadPaths() {
			paths[p] = true
		}
	}
	for _, p := range slices.Sorted(maps.Keys(paths)) {
		if err := s.blobs.Delete(ctx, p); err != nil {
			s.logger.Warn("Failed to delete payload", "entity_id", e.ID, "path", p, "error", err)
		}
	}

	if err := s.audit.DeleteAuditRecords(ctx, e.ID); err != nil {
		return storeErr("audit", "delete", e.ID, err)
	}
	if err := s.versions.DeleteOldVersions(ctx, e.ID); err != nil {
		return storeErr("versions", "delete", e.ID, err)
	}
	if err := s.index.DeleteEntity(ctx, e.ID); err != nil {
		return storeErr("index", "delete", e.ID, err)
	}
	if s.authorizer != nil {
		if err := s.authorizer.RemoveAnchor(ctx, e.ID); err != nil {
			s.logger.Warn("Failed to remove rights", "entity_id", e.ID, "error", err)
		}
	}
	return nil
}
