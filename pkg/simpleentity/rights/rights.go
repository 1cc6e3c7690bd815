// Package rights evaluates role-based access to entities. A Right is one of a
// closed set of kinds, optionally anchored to an entity id, and is compared
// against a target entity and its resolved hierarchy.
package rights

import (
	"fmt"

	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// Kind is the role a Right grants.
type Kind string

const (
	// KindAdmin grants every permission on every entity
	KindAdmin Kind = "ADMIN"
	// KindAreaAdmin grants every permission below a level-1 entity
	KindAreaAdmin Kind = "AREA_ADMIN"
	// KindCollectionAdmin grants every permission below a level-2 entity
	KindCollectionAdmin Kind = "COLLECTION_ADMIN"
	// KindEntityOwner grants every permission on one entity
	KindEntityOwner Kind = "ENTITY_OWNER"
)

// Right is a role held by an agent. Anchor is empty for KindAdmin and an
// entity id for every other kind.
type Right struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Anchor string `json:"anchor,omitempty" yaml:"anchor,omitempty"`
}

// Admin returns the global admin right.
func Admin() Right { return Right{Kind: KindAdmin} }

// AreaAdmin returns an admin right over everything below level1ID.
func AreaAdmin(level1ID string) Right { return Right{Kind: KindAreaAdmin, Anchor: level1ID} }

// CollectionAdmin returns an admin right over everything below level2ID.
func CollectionAdmin(level2ID string) Right {
	return Right{Kind: KindCollectionAdmin, Anchor: level2ID}
}

// EntityOwner returns an owner right on entityID.
func EntityOwner(entityID string) Right { return Right{Kind: KindEntityOwner, Anchor: entityID} }

// Validate checks that the right is well formed.
func (r Right) Validate() error {
	switch r.Kind {
	case KindAdmin:
		if r.Anchor != "" {
			return fmt.Errorf("%w: %s right takes no anchor", simpleentity.ErrInvalidParameter, r.Kind)
		}
	case KindAreaAdmin, KindCollectionAdmin, KindEntityOwner:
		if r.Anchor == "" {
			return fmt.Errorf("%w: %s right requires an anchor", simpleentity.ErrInvalidParameter, r.Kind)
		}
	default:
		return fmt.Errorf("%w: unknown right kind %q", simpleentity.ErrInvalidParameter, r.Kind)
	}
	return nil
}

// Compare reports whether the right grants permission on target. h is the
// target's resolved hierarchy and may be nil when it is unknown.
func (r Right) Compare(permission simpleentity.Permission, target *simpleentity.Entity, h *simpleentity.Hierarchy) bool {
	switch r.Kind {
	case KindAdmin:
		return true
	case KindAreaAdmin:
		return h != nil && h.Level1ID == r.Anchor
	case KindCollectionAdmin:
		return h != nil && h.Level2ID != "" && h.Level2ID == r.Anchor
	case KindEntityOwner:
		return target != nil && target.ID == r.Anchor
	}
	return false
}

// AnchoredTo reports whether the right depends on entity id.
func (r Right) AnchoredTo(id string) bool {
	return r.Kind != KindAdmin && r.Anchor == id
}

func (r Right) String() string {
	if r.Anchor == "" {
		return string(r.Kind)
	}
	return string(r.Kind) + ":" + r.Anchor
}
