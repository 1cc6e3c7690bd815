package simpleentity

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Binaries

func (s *service) CreateBinary(ctx context.Context, id string, b *Binary) (err error) {
	defer s.observe("create_binary", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "create_binary",
		action: AuditCreateBinary,
		detail: binaryName(b),
		check: func(ctx context.Context, stored *Entity) error {
			if err := s.validateBinary(ctx, b); err != nil {
				return err
			}
			if stored.FindBinary(b.Name) != nil {
				return fmt.Errorf("binary %s %w", b.Name, ErrAlreadyExists)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			nb := b.Clone()
			next.Binaries = append(next.Binaries, nb)
			return s.prepareBinary(ctx, id, nb, nil, stored)
		},
	})
}

func (s *service) DeleteBinary(ctx context.Context, id, name string) (err error) {
	defer s.observe("delete_binary", time.Now(), &err)
	var paths []string
	return s.mutate(ctx, id, mutation{
		op:     "delete_binary",
		action: AuditDeleteBinary,
		detail: name,
		check: func(ctx context.Context, stored *Entity) error {
			if stored.FindBinary(name) == nil {
				return fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			b := next.FindBinary(name)
			paths = append(paths, b.Path)
			for _, m := range b.Metadata {
				paths = append(paths, m.Path)
			}
			next.Binaries = slices.DeleteFunc(next.Binaries, func(x *Binary) bool { return x.Name == name })
			return nil
		},
		after: func(ctx context.Context) {
			s.deleteBlobs(ctx, id, paths)
		},
	})
}

// Entity metadata

func (s *service) CreateMetadata(ctx context.Context, id string, m *Metadata) (err error) {
	defer s.observe("create_metadata", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "create_metadata",
		action: AuditCreateMetadata,
		detail: metadataName(m),
		check: func(ctx context.Context, stored *Entity) error {
			if err := s.validateMetadata(ctx, m); err != nil {
				return err
			}
			if stored.FindMetadata(m.Name) != nil {
				return fmt.Errorf("metadata %s %w", m.Name, ErrAlreadyExists)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			nm := m.Clone()
			next.Metadata = append(next.Metadata, nm)
			return s.prepareMetadata(ctx, nm, nil, MetadataLocator(id, nm.Name), stored)
		},
	})
}

func (s *service) DeleteMetadata(ctx context.Context, id, name string) (err error) {
	defer s.observe("delete_metadata", time.Now(), &err)
	var paths []string
	return s.mutate(ctx, id, mutation{
		op:     "delete_metadata",
		action: AuditDeleteMetadata,
		detail: name,
		check: func(ctx context.Context, stored *Entity) error {
			if stored.FindMetadata(name) == nil {
				return fmt.Errorf("%w: %s", ErrMetadataNotFound, name)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			paths = append(paths, next.FindMetadata(name).Path)
			next.Metadata = slices.DeleteFunc(next.Metadata, func(x *Metadata) bool { return x.Name == name })
			return nil
		},
		after: func(ctx context.Context) {
			s.deleteBlobs(ctx, id, paths)
		},
	})
}

// Binary metadata

func (s *service) CreateBinaryMetadata(ctx context.Context, id, binary string, m *Metadata) (err error) {
	defer s.observe("create_binary_metadata", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "create_binary_metadata",
		action: AuditCreateBinaryMetadata,
		detail: binary + "/" + metadataName(m),
		check: func(ctx context.Context, stored *Entity) error {
			b := stored.FindBinary(binary)
			if b == nil {
				return fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
			}
			if err := s.validateMetadata(ctx, m); err != nil {
				return err
			}
			if b.FindMetadata(m.Name) != nil {
				return fmt.Errorf("metadata %s of binary %s %w", m.Name, binary, ErrAlreadyExists)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			b := next.FindBinary(binary)
			nm := m.Clone()
			b.Metadata = append(b.Metadata, nm)
			b.UpdatedAt = now()
			return s.prepareMetadata(ctx, nm, nil, BinaryMetadataLocator(id, binary, nm.Name), stored)
		},
	})
}

func (s *service) DeleteBinaryMetadata(ctx context.Context, id, binary, name string) (err error) {
	defer s.observe("delete_binary_metadata", time.Now(), &err)
	var paths []string
	return s.mutate(ctx, id, mutation{
		op:     "delete_binary_metadata",
		action: AuditDeleteBinaryMetadata,
		detail: binary + "/" + name,
		check: func(ctx context.Context, stored *Entity) error {
			b := stored.FindBinary(binary)
			if b == nil {
				return fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
			}
			if b.FindMetadata(name) == nil {
				return fmt.Errorf("%w: %s", ErrMetadataNotFound, name)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			b := next.FindBinary(binary)
			paths = append(paths, b.FindMetadata(name).Path)
			b.Metadata = slices.DeleteFunc(b.Metadata, func(x *Metadata) bool { return x.Name == name })
			b.UpdatedAt = now()
			return nil
		},
		after: func(ctx context.Context) {
			s.deleteBlobs(ctx, id, paths)
		},
	})
}

// deleteBlobs removes bytes no longer referenced by the current entity.
// Failures leave orphaned bytes behind and are only logged.
func (s *service) deleteBlobs(ctx context.Context, id string, paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := s.blobs.Delete(ctx, p); err != nil {
			s.logger.Warn("Failed to delete payload bytes", "entity_id", id, "path", p, "error", err)
		}
	}
}

// Relations

func (s *service) CreateRelation(ctx context.Context, id, predicate, object string) (err error) {
	defer s.observe("create_relation", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "create_relation",
		action: AuditCreateRelation,
		detail: predicate + " " + object,
		check: func(ctx context.Context, stored *Entity) error {
			if slices.Contains(stored.Relations[predicate], object) {
				return fmt.Errorf("relation %s %s %w", predicate, object, ErrAlreadyExists)
			}
			return s.validateRelations(ctx, map[string][]string{predicate: {object}}, nil)
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			if next.Relations == nil {
				next.Relations = make(map[string][]string)
			}
			next.Relations[predicate] = append(next.Relations[predicate], object)
			return nil
		},
	})
}

func (s *service) DeleteRelation(ctx context.Context, id, predicate, object string) (err error) {
	defer s.observe("delete_relation", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "delete_relation",
		action: AuditDeleteRelation,
		detail: predicate + " " + object,
		check: func(ctx context.Context, stored *Entity) error {
			if !slices.Contains(stored.Relations[predicate], object) {
				return fmt.Errorf("%w: %s %s", ErrRelationNotFound, predicate, object)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			objects := slices.DeleteFunc(next.Relations[predicate], func(o string) bool { return o == object })
			if len(objects) == 0 {
				delete(next.Relations, predicate)
			} else {
				next.Relations[predicate] = objects
			}
			return nil
		},
	})
}

// validateRelations checks predicates and objects. Entity references that
// are not already in existing must point at stored entities.
func (s *service) validateRelations(ctx context.Context, relations, existing map[string][]string) error {
	for predicate, objects := range relations {
		if strings.TrimSpace(predicate) == "" {
			return invalidf("relation predicate is required")
		}
		seen := make(map[string]bool, len(objects))
		for _, object := range objects {
			if strings.TrimSpace(object) == "" {
				return invalidf("relation %s has an empty object", predicate)
			}
			if seen[object] {
				return fmt.Errorf("relation %s %s %w", predicate, object, ErrAlreadyExists)
			}
			seen[object] = true

			target, ok := strings.CutPrefix(object, EntityRefPrefix)
			if !ok || slices.Contains(existing[predicate], object) {
				continue
			}
			exists, err := s.index.EntityExists(ctx, target)
			if err != nil {
				return storeErr("index", "exists", target, err)
			}
			if !exists {
				return fmt.Errorf("relation %s target %w: %s", predicate, ErrEntityNotFound, target)
			}
		}
	}
	return nil
}

// Identifiers

func (s *service) CreateIdentifier(ctx context.Context, id string, ident Identifier) (err error) {
	defer s.observe("create_identifier", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "create_identifier",
		action: AuditCreateIdentifier,
		detail: string(ident.Type) + " " + ident.Value,
		check: func(ctx context.Context, stored *Entity) error {
			return validateIdentifiers(append(slices.Clone(stored.Identifiers), ident))
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			next.Identifiers = append(next.Identifiers, ident)
			return nil
		},
	})
}

func (s *service) DeleteIdentifier(ctx context.Context, id string, ident Identifier) (err error) {
	defer s.observe("delete_identifier", time.Now(), &err)
	return s.mutate(ctx, id, mutation{
		op:     "delete_identifier",
		action: AuditDeleteIdentifier,
		detail: string(ident.Type) + " " + ident.Value,
		check: func(ctx context.Context, stored *Entity) error {
			if !slices.Contains(stored.Identifiers, ident) {
				return fmt.Errorf("%w: %s %s", ErrIdentifierNotFound, ident.Type, ident.Value)
			}
			return nil
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			next.Identifiers = slices.DeleteFunc(next.Identifiers, func(x Identifier) bool { return x == ident })
			return nil
		},
	})
}

func validateIdentifiers(identifiers []Identifier) error {
	seen := make(map[Identifier]bool, len(identifiers))
	for _, ident := range identifiers {
		if !ident.Type.IsValid() {
			return invalidf("unknown identifier type %q", ident.Type)
		}
		if strings.TrimSpace(ident.Value) == "" {
			return invalidf("identifier %s has no value", ident.Type)
		}
		if seen[ident] {
			return fmt.Errorf("identifier %s %s %w", ident.Type, ident.Value, ErrAlreadyExists)
		}
		seen[ident] = true
	}
	return nil
}

// Patch

// Patchable fields, named as in the JSON form of an entity.
const (
	PatchLabel    = "label"
	PatchParentID = "parent_id"
	PatchState    = "state"
)

// Patch applies a partial change. The label and parent are written through
// update first; a state change then runs as a transition.
func (s *service) Patch(ctx context.Context, id string, fields map[string]any) (err error) {
	defer s.observe("patch", time.Now(), &err)
	wrap := func(err error) error {
		return &EntityError{EntityID: id, Op: "patch", Err: err}
	}
	if len(fields) == 0 {
		return wrap(invalidf("no fields to patch"))
	}

	var (
		label, parent, state       string
		hasLabel, hasParent, hasSt bool
	)
	for key, raw := range fields {
		v, ok := raw.(string)
		if !ok {
			return wrap(invalidf("field %s must be a string", key))
		}
		switch key {
		case PatchLabel:
			label, hasLabel = v, true
		case PatchParentID:
			parent, hasParent = v, true
		case PatchState:
			state, hasSt = v, true
		default:
			return wrap(invalidf("field %s cannot be patched", key))
		}
	}

	var target State
	if hasSt {
		if target, err = ParseState(state); err != nil {
			return wrap(err)
		}
	}

	if hasLabel || hasParent {
		current, err := s.load(ctx, id)
		if err != nil {
			return wrap(err)
		}
		next := current.Clone()
		next.State = ""
		if hasLabel {
			next.Label = label
		}
		if hasParent {
			next.ParentID = parent
		}
		if err := s.update(ctx, next, "patch", AuditPatch); err != nil {
			return err
		}
	}

	if hasSt {
		t, err := transitionTo(target)
		if err != nil {
			return wrap(err)
		}
		return s.transition(ctx, id, t)
	}
	return nil
}

// Transitions

func (s *service) Submit(ctx context.Context, id string) (err error) {
	defer s.observe("submit", time.Now(), &err)
	return s.transition(ctx, id, submitTransition)
}

func (s *service) Publish(ctx context.Context, id string) (err error) {
	defer s.observe("publish", time.Now(), &err)
	return s.transition(ctx, id, publishTransition)
}

func (s *service) Withdraw(ctx context.Context, id string) (err error) {
	defer s.observe("withdraw", time.Now(), &err)
	return s.transition(ctx, id, withdrawTransition)
}

func (s *service) Pending(ctx context.Context, id string) (err error) {
	defer s.observe("pending", time.Now(), &err)
	return s.transition(ctx, id, pendingTransition)
}

// transition moves the entity into t.target. Entering the current state is a
// no-op. State changes do not create versions.
func (s *service) transition(ctx context.Context, id string, t transition) error {
	wrap := func(err error) error {
		return &EntityError{EntityID: id, Op: t.op, Err: err}
	}

	stored, err := s.load(ctx, id)
	if err != nil {
		return wrap(err)
	}
	if err := s.authorize(ctx, PermissionWrite, stored); err != nil {
		return wrap(err)
	}
	if err := t.canTransition(stored.State); err != nil {
		return wrap(err)
	}
	if stored.State == t.target {
		return nil
	}

	next := stored.Clone()
	next.State = t.target
	next.UpdatedAt = now()
	if err := s.persist(ctx, next, stored.Revision()); err != nil {
		return wrap(err)
	}
	s.record(ctx, id, t.action, "")

	s.logger.Info("Entity state changed", "entity_id", id, "from", stored.State, "to", t.target)
	return nil
}

func binaryName(b *Binary) string {
	if b == nil {
		return ""
	}
	return b.Name
}

func metadataName(m *Metadata) string {
	if m == nil {
		return ""
	}
	return m.Name
}
