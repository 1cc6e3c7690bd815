package simpleentity

import (
	"context"
	"io"
)

// Service defines the main interface for the simple-entity library
type Service interface {
	// Entity operations
	Create(ctx context.Context, e *Entity) (string, error)
	Update(ctx context.Context, e *Entity) error
	Patch(ctx context.Context, id string, fields map[string]any) error
	Retrieve(ctx context.Context, id string) (*Entity, error)
	RetrieveVersion(ctx context.Context, id string, version int) (*Entity, error)
	OldVersions(ctx context.Context, id string) ([]*Version, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	Hierarchy(ctx context.Context, id string) (*Hierarchy, error)

	// State transitions
	Submit(ctx context.Context, id string) error
	Publish(ctx context.Context, id string) error
	Withdraw(ctx context.Context, id string) error
	Pending(ctx context.Context, id string) error

	// Binary operations
	CreateBinary(ctx context.Context, id string, b *Binary) error
	DeleteBinary(ctx context.Context, id, name string) error
	OpenBinary(ctx context.Context, id, name string, version int) (*Binary, io.ReadCloser, error)

	// Metadata operations
	CreateMetadata(ctx context.Context, id string, m *Metadata) error
	DeleteMetadata(ctx context.Context, id, name string) error
	OpenMetadata(ctx context.Context, id, name string, version int) (*Metadata, io.ReadCloser, error)
	CreateBinaryMetadata(ctx context.Context, id, binaryName string, m *Metadata) error
	DeleteBinaryMetadata(ctx context.Context, id, binaryName, name string) error
	OpenBinaryMetadata(ctx context.Context, id, binaryName, name string, version int) (*Metadata, io.ReadCloser, error)

	// Relation and identifier operations
	CreateRelation(ctx context.Context, id, predicate, object string) error
	DeleteRelation(ctx context.Context, id, predicate, object string) error
	CreateIdentifier(ctx context.Context, id string, ident Identifier) error
	DeleteIdentifier(ctx context.Context, id string, ident Identifier) error

	// Audit operations
	CreateAuditRecord(ctx context.Context, rec *AuditRecord) error
	AuditRecords(ctx context.Context, id string, offset, count int) ([]*AuditRecord, error)

	// Content model operations
	ContentModel(ctx context.Context, id string) (*ContentModel, error)
	ContentModels(ctx context.Context) ([]*ContentModel, error)
	CreateContentModel(ctx context.Context, m *ContentModel) error
	DeleteContentModel(ctx context.Context, id string) error

	// Status reports whether the index is reachable
	Status(ctx context.Context) error
}
