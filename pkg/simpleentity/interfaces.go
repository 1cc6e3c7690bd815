package simpleentity

import (
	"context"
	"io"
	"time"
)

// BlobStore defines the interface for payload byte storage. Paths are opaque
// and chosen by the store; every Create returns a fresh path.
type BlobStore interface {
	// Create stores the stream and returns its path
	Create(ctx context.Context, reader io.Reader) (string, error)

	// Retrieve opens the bytes stored at path
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the bytes stored at path
	Delete(ctx context.Context, path string) error
}

// Index persists current entity documents and answers structured queries.
// It is the system of record for entity existence and state.
type Index interface {
	EntityExists(ctx context.Context, id string) (bool, error)
	CreateEntity(ctx context.Context, e *Entity) error
	// UpdateEntity replaces the stored entity only if it is still at the
	// expected revision, otherwise it returns ErrConflict.
	UpdateEntity(ctx context.Context, e *Entity, expected Revision) error
	RetrieveEntity(ctx context.Context, id string) (*Entity, error)
	DeleteEntity(ctx context.Context, id string) error
	FetchChildren(ctx context.Context, id string) ([]string, error)
	SearchEntities(ctx context.Context, q SearchQuery) (*SearchResult, error)
	Status(ctx context.Context) error
}

// VersionStore keeps immutable entity snapshots keyed by (entity id, number).
type VersionStore interface {
	AddOldVersion(ctx context.Context, v *Version) error
	GetOldVersion(ctx context.Context, entityID string, number int) (*Version, error)
	// GetOldVersions returns all snapshots of the entity ordered by number
	GetOldVersions(ctx context.Context, entityID string) ([]*Version, error)
	DeleteOldVersions(ctx context.Context, entityID string) error
}

// AuditStore is an append-only log of mutation events.
type AuditStore interface {
	CreateAuditRecord(ctx context.Context, rec *AuditRecord) error
	// RetrieveAuditRecords returns records ordered by timestamp
	RetrieveAuditRecords(ctx context.Context, entityID string, offset, count int) ([]*AuditRecord, error)
	DeleteAuditRecords(ctx context.Context, entityID string) error
}

// ContentModelStore persists the content-model catalog.
type ContentModelStore interface {
	CreateContentModel(ctx context.Context, m *ContentModel) error
	GetContentModel(ctx context.Context, id string) (*ContentModel, error)
	ListContentModels(ctx context.Context) ([]*ContentModel, error)
	DeleteContentModel(ctx context.Context, id string) error
}

// SchemaCatalog resolves metadata types to schema locations.
type SchemaCatalog interface {
	SchemaURL(ctx context.Context, schemaType string) (string, error)
}

// Repository bundles every persistence concern a single backend can serve.
type Repository interface {
	Index
	VersionStore
	AuditStore
	ContentModelStore
	SchemaCatalog
}

// SourceOpener opens external payload locations.
type SourceOpener interface {
	Open(ctx context.Context, uri string) (io.ReadCloser, error)
}

// Authorizer decides whether a caller may act on an entity and tracks rights
// anchored to entity ids.
type Authorizer interface {
	// Authorize returns ErrPermissionDenied if agent lacks permission on target
	Authorize(ctx context.Context, agent string, permission Permission, target *Entity, h *Hierarchy) error

	// EntityCreated is called after agent created e
	EntityCreated(ctx context.Context, agent string, e *Entity) error

	// RemoveAnchor drops every right anchored to id
	RemoveAnchor(ctx context.Context, id string) error
}

// Observer receives operation outcomes, e.g. for metrics.
type Observer interface {
	OperationCompleted(op string, err error, elapsed time.Duration)
	PayloadIngested(kind string, size int64)
}
