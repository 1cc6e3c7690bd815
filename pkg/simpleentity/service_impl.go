package simpleentity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxIDAttempts bounds id regeneration on collision
const maxIDAttempts = 8

// service implements the Service interface
type service struct {
	index      Index
	versions   VersionStore
	audit      AuditStore
	models     ContentModelStore
	schemas    SchemaCatalog
	blobs      BlobStore
	opener     SourceOpener
	authorizer Authorizer
	observer   Observer
	logger     *slog.Logger
	maxDepth   int

	seedMu sync.Mutex
	seeded bool
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository uses one backend for every persistence concern
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.index = repo
		s.versions = repo
		s.audit = repo
		s.models = repo
		s.schemas = repo
	}
}

// WithIndex sets the search/index backend
func WithIndex(index Index) Option {
	return func(s *service) {
		s.index = index
	}
}

// WithVersionStore sets the snapshot store
func WithVersionStore(store VersionStore) Option {
	return func(s *service) {
		s.versions = store
	}
}

// WithAuditStore sets the audit log
func WithAuditStore(store AuditStore) Option {
	return func(s *service) {
		s.audit = store
	}
}

// WithContentModelStore sets the content-model catalog backend
func WithContentModelStore(store ContentModelStore) Option {
	return func(s *service) {
		s.models = store
	}
}

// WithSchemaCatalog sets the metadata schema catalog
func WithSchemaCatalog(catalog SchemaCatalog) Option {
	return func(s *service) {
		s.schemas = catalog
	}
}

// WithBlobStore sets the payload byte store
func WithBlobStore(store BlobStore) Option {
	return func(s *service) {
		s.blobs = store
	}
}

// WithSourceOpener sets how external payload URIs are fetched
func WithSourceOpener(opener SourceOpener) Option {
	return func(s *service) {
		s.opener = opener
	}
}

// WithAuthorizer enables permission checks
func WithAuthorizer(authorizer Authorizer) Option {
	return func(s *service) {
		s.authorizer = authorizer
	}
}

// WithObserver sets the receiver of operation outcomes
func WithObserver(observer Observer) Option {
	return func(s *service) {
		s.observer = observer
	}
}

// WithLogger sets the logger for the service
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithMaxDepth bounds hierarchy walks
func WithMaxDepth(depth int) Option {
	return func(s *service) {
		s.maxDepth = depth
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		opener:   NewHTTPSourceOpener(nil),
		observer: NewNoopObserver(),
		logger:   slog.Default(),
		maxDepth: DefaultMaxDepth,
	}

	for _, option := range options {
		option(s)
	}

	switch {
	case s.index == nil:
		return nil, fmt.Errorf("index is required")
	case s.versions == nil:
		return nil, fmt.Errorf("version store is required")
	case s.audit == nil:
		return nil, fmt.Errorf("audit store is required")
	case s.models == nil:
		return nil, fmt.Errorf("content model store is required")
	case s.schemas == nil:
		return nil, fmt.Errorf("schema catalog is required")
	case s.blobs == nil:
		return nil, fmt.Errorf("blob store is required")
	case s.maxDepth <= 0:
		return nil, fmt.Errorf("max depth must be positive")
	}

	return s, nil
}

// Entity operations

func (s *service) Create(ctx context.Context, in *Entity) (id string, err error) {
	defer s.observe("create", time.Now(), &err)
	if in == nil {
		return "", invalidf("entity is required")
	}

	e := in.Clone()
	if err := s.prepareCreate(ctx, e); err != nil {
		return "", &EntityError{EntityID: e.ID, Op: "create", Err: err}
	}

	ts := now()
	e.Version = 1
	e.Children = nil
	e.CreatedAt = ts
	e.UpdatedAt = ts

	if err := s.preparePayloads(ctx, e, nil); err != nil {
		s.discard(ctx, e.PayloadPaths())
		return "", &EntityError{EntityID: e.ID, Op: "create", Err: err}
	}

	if err := s.index.CreateEntity(ctx, e); err != nil {
		s.discard(ctx, e.PayloadPaths())
		return "", &EntityError{EntityID: e.ID, Op: "create", Err: storeErr("index", "create", e.ID, err)}
	}

	if s.authorizer != nil {
		if err := s.authorizer.EntityCreated(ctx, AgentFromContext(ctx), e); err != nil {
			s.logger.Warn("Failed to register entity rights", "entity_id", e.ID, "error", err)
		}
	}

	s.record(ctx, e.ID, AuditCreate, "")
	s.logger.Info("Entity created", "entity_id", e.ID, "content_model_id", e.ContentModelID)
	return e.ID, nil
}

// prepareCreate validates e, applies defaults and assigns an id.
func (s *service) prepareCreate(ctx context.Context, e *Entity) error {
	model, err := s.resolveModel(ctx, e.ContentModelID)
	if err != nil {
		return err
	}

	switch e.State {
	case "":
		e.State = StatePending
	case StatePending:
	default:
		return invalidf("entities are created in state %s, got %s", StatePending, e.State)
	}
	if e.Label == "" {
		e.Label = DefaultLabel
	}

	var parent *Entity
	switch {
	case model.IsRoot() && e.ParentID != "":
		return invalidf("content model %s does not allow a parent", model.ID)
	case !model.IsRoot() && e.ParentID == "":
		return invalidf("content model %s requires a parent", model.ID)
	case !model.IsRoot():
		parent, err = s.load(ctx, e.ParentID)
		if err != nil {
			return err
		}
		if !model.AllowsParent(parent.ContentModelID) {
			return invalidf("content model %s does not allow parent of content model %s", model.ID, parent.ContentModelID)
		}
	}

	if err := s.validatePayloads(ctx, e); err != nil {
		return err
	}
	if err := s.validateRelations(ctx, e.Relations, nil); err != nil {
		return err
	}
	if err := validateIdentifiers(e.Identifiers); err != nil {
		return err
	}

	if err := s.assignID(ctx, e); err != nil {
		return err
	}

	target := parent
	if target == nil {
		target = e
	}
	return s.authorize(ctx, PermissionWrite, target)
}

func (s *service) assignID(ctx context.Context, e *Entity) error {
	if e.ID != "" {
		if !validID(e.ID) {
			return invalidf("malformed entity id %q", e.ID)
		}
		exists, err := s.index.EntityExists(ctx, e.ID)
		if err != nil {
			return storeErr("index", "exists", e.ID, err)
		}
		if exists {
			return fmt.Errorf("entity %s %w", e.ID, ErrAlreadyExists)
		}
		return nil
	}

	for range maxIDAttempts {
		id, err := newEntityID()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		exists, err := s.index.EntityExists(ctx, id)
		if err != nil {
			return storeErr("index", "exists", id, err)
		}
		if !exists {
			e.ID = id
			return nil
		}
	}
	return fmt.Errorf("%w: no free entity id after %d attempts", ErrIO, maxIDAttempts)
}

func (s *service) Update(ctx context.Context, e *Entity) (err error) {
	defer s.observe("update", time.Now(), &err)
	if e == nil {
		return invalidf("entity is required")
	}
	return s.update(ctx, e, "update", AuditUpdate)
}

// update replaces the structural content of the stored entity with in.
func (s *service) update(ctx context.Context, in *Entity, op string, action AuditAction) error {
	incoming := in.Clone()
	return s.mutate(ctx, incoming.ID, mutation{
		op:     op,
		action: action,
		check: func(ctx context.Context, stored *Entity) error {
			if incoming.ContentModelID != "" && incoming.ContentModelID != stored.ContentModelID {
				return invalidf("content model cannot change from %s to %s", stored.ContentModelID, incoming.ContentModelID)
			}
			if incoming.State != "" && incoming.State != stored.State {
				return invalidf("state cannot change through update, use the state operations")
			}
			candidate := stored.Clone()
			candidate.ParentID = incoming.ParentID
			if err := s.checkMove(ctx, stored, candidate); err != nil {
				return err
			}
			incoming.ID = stored.ID
			if err := s.validatePayloads(ctx, incoming); err != nil {
				return err
			}
			if err := s.validateRelations(ctx, incoming.Relations, stored.Relations); err != nil {
				return err
			}
			return validateIdentifiers(incoming.Identifiers)
		},
		apply: func(ctx context.Context, stored, next *Entity) error {
			next.ParentID = incoming.ParentID
			next.Label = incoming.Label
			if next.Label == "" {
				next.Label = DefaultLabel
			}
			next.Metadata = incoming.Metadata
			next.Binaries = incoming.Binaries
			next.Relations = incoming.Relations
			next.Identifiers = incoming.Identifiers
			return s.preparePayloads(ctx, next, stored)
		},
	})
}

func (s *service) Retrieve(ctx context.Context, id string) (_ *Entity, err error) {
	defer s.observe("retrieve", time.Now(), &err)

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve", Err: err}
	}
	if err := s.authorize(ctx, PermissionRead, e); err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve", Err: err}
	}
	children, err := s.index.FetchChildren(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve", Err: storeErr("index", "children", id, err)}
	}
	e.Children = children
	return e, nil
}

func (s *service) RetrieveVersion(ctx context.Context, id string, version int) (_ *Entity, err error) {
	defer s.observe("retrieve_version", time.Now(), &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve_version", Err: err}
	}
	if version == 0 || version == current.Version {
		return s.Retrieve(ctx, id)
	}
	if err := s.authorize(ctx, PermissionRead, current); err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve_version", Err: err}
	}
	e, err := s.entityAt(ctx, current, version)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "retrieve_version", Err: err}
	}
	return e, nil
}

// entityAt returns current itself or its snapshot at version.
func (s *service) entityAt(ctx context.Context, current *Entity, version int) (*Entity, error) {
	if version == 0 || version == current.Version {
		return current, nil
	}
	if version < 0 || version > current.Version {
		return nil, fmt.Errorf("%w: %d", ErrVersionNotFound, version)
	}
	v, err := s.versions.GetOldVersion(ctx, current.ID, version)
	if err != nil {
		return nil, storeErr("versions", "get", current.ID, err)
	}
	return v.Entity, nil
}

func (s *service) OldVersions(ctx context.Context, id string) (_ []*Version, err error) {
	defer s.observe("old_versions", time.Now(), &err)

	current, err := s.load(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "old_versions", Err: err}
	}
	if err := s.authorize(ctx, PermissionRead, current); err != nil {
		return nil, &EntityError{EntityID: id, Op: "old_versions", Err: err}
	}
	versions, err := s.versions.GetOldVersions(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "old_versions", Err: storeErr("versions", "list", id, err)}
	}
	return versions, nil
}

func (s *service) Search(ctx context.Context, q SearchQuery) (_ *SearchResult, err error) {
	defer s.observe("search", time.Now(), &err)

	if q.State != "" && !q.State.IsValid() {
		return nil, invalidf("unknown state %q", q.State)
	}
	result, err := s.index.SearchEntities(ctx, q.Normalize())
	if err != nil {
		return nil, storeErr("index", "search", "", err)
	}
	if s.authorizer == nil {
		return result, nil
	}

	visible := result.Entities[:0]
	for _, e := range result.Entities {
		if err := s.authorize(ctx, PermissionRead, e); err == nil {
			visible = append(visible, e)
		} else if !errors.Is(err, ErrPermissionDenied) {
			return nil, err
		}
	}
	result.Entities = visible
	return result, nil
}

func (s *service) Status(ctx context.Context) error {
	return storeErr("index", "status", "", s.index.Status(ctx))
}

// Audit operations

func (s *service) CreateAuditRecord(ctx context.Context, rec *AuditRecord) (err error) {
	defer s.observe("create_audit_record", time.Now(), &err)
	if rec == nil || rec.EntityID == "" {
		return invalidf("audit record entity id is required")
	}
	e, err := s.load(ctx, rec.EntityID)
	if err != nil {
		return &EntityError{EntityID: rec.EntityID, Op: "create_audit_record", Err: err}
	}
	if err := s.authorize(ctx, PermissionWrite, e); err != nil {
		return &EntityError{EntityID: rec.EntityID, Op: "create_audit_record", Err: err}
	}

	rec.ID = uuid.NewString()
	if rec.Action == "" {
		rec.Action = AuditNote
	}
	if rec.AgentName == "" {
		rec.AgentName = AgentFromContext(ctx)
	}
	rec.Timestamp = now()
	if err := s.audit.CreateAuditRecord(ctx, rec); err != nil {
		return &EntityError{EntityID: rec.EntityID, Op: "create_audit_record", Err: storeErr("audit", "create", rec.EntityID, err)}
	}
	return nil
}

func (s *service) AuditRecords(ctx context.Context, id string, offset, count int) (_ []*AuditRecord, err error) {
	defer s.observe("audit_records", time.Now(), &err)

	e, err := s.load(ctx, id)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "audit_records", Err: err}
	}
	if err := s.authorize(ctx, PermissionRead, e); err != nil {
		return nil, &EntityError{EntityID: id, Op: "audit_records", Err: err}
	}
	if offset < 0 {
		offset = 0
	}
	if count <= 0 {
		count = DefaultSearchLimit
	}
	records, err := s.audit.RetrieveAuditRecords(ctx, id, offset, count)
	if err != nil {
		return nil, &EntityError{EntityID: id, Op: "audit_records", Err: storeErr("audit", "retrieve", id, err)}
	}
	return records, nil
}

// Internal helpers

// mutation is one structural change of an entity. check runs against the
// stored entity before the snapshot is taken; apply edits a copy afterwards;
// after runs once the new state is persisted and cannot fail the mutation.
type mutation struct {
	op     string
	action AuditAction
	detail string
	check  func(ctx context.Context, stored *Entity) error
	apply  func(ctx context.Context, stored, next *Entity) error
	after  func(ctx context.Context)
}

// mutate loads, guards, snapshots, applies, versions and persists one
// structural mutation.
func (s *service) mutate(ctx context.Context, id string, m mutation) error {
	wrap := func(err error) error {
		return &EntityError{EntityID: id, Op: m.op, Err: err}
	}

	stored, err := s.load(ctx, id)
	if err != nil {
		return wrap(err)
	}
	if err := s.authorize(ctx, PermissionWrite, stored); err != nil {
		return wrap(err)
	}
	if err := canMutate(stored.State); err != nil {
		return wrap(err)
	}
	if m.check != nil {
		if err := m.check(ctx, stored); err != nil {
			return wrap(err)
		}
	}

	if err := s.snapshot(ctx, stored); err != nil {
		return wrap(err)
	}

	next := stored.Clone()
	if err := m.apply(ctx, stored, next); err != nil {
		s.discard(ctx, addedPaths(stored, next))
		return wrap(err)
	}
	next.Version = stored.Version + 1
	next.UpdatedAt = now()

	if err := s.persist(ctx, next, stored.Revision()); err != nil {
		s.discard(ctx, addedPaths(stored, next))
		return wrap(err)
	}
	s.record(ctx, id, m.action, m.detail)

	if m.after != nil {
		m.after(ctx)
	}

	s.logger.Info("Entity modified", "entity_id", id, "op", m.op, "version", next.Version)
	return nil
}

// addedPaths lists blob paths referenced by next but not by stored.
func addedPaths(stored, next *Entity) []string {
	known := make(map[string]bool)
	for _, p := range stored.PayloadPaths() {
		known[p] = true
	}
	var added []string
	for _, p := range next.PayloadPaths() {
		if !known[p] {
			added = append(added, p)
		}
	}
	return added
}

// load reads the current entity, without children.
func (s *service) load(ctx context.Context, id string) (*Entity, error) {
	if id == "" {
		return nil, invalidf("entity id is required")
	}
	e, err := s.index.RetrieveEntity(ctx, id)
	if err != nil {
		return nil, storeErr("index", "retrieve", id, err)
	}
	return e, nil
}

// persist writes e if the stored entity is still at expected.
func (s *service) persist(ctx context.Context, e *Entity, expected Revision) error {
	e.Children = nil
	return storeErr("index", "update", e.ID, s.index.UpdateEntity(ctx, e, expected))
}

// snapshot stores the entity as it is before a structural mutation.
func (s *service) snapshot(ctx context.Context, stored *Entity) error {
	frozen := stored.Clone()
	frozen.Children = nil
	v := &Version{
		EntityID:  stored.ID,
		Number:    stored.Version,
		Path:      fmt.Sprintf("versions/%s/%d", stored.ID, stored.Version),
		Entity:    frozen,
		CreatedAt: now(),
	}
	err := s.versions.AddOldVersion(ctx, v)
	// an earlier attempt that lost the index write may have stored it already
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return storeErr("versions", "add", v.Path, err)
}

// record appends an audit record. Failures are logged only.
func (s *service) record(ctx context.Context, id string, action AuditAction, detail string) {
	rec := &AuditRecord{
		ID:        uuid.NewString(),
		EntityID:  id,
		Action:    action,
		AgentName: AgentFromContext(ctx),
		Timestamp: now(),
		Detail:    detail,
	}
	if err := s.audit.CreateAuditRecord(ctx, rec); err != nil {
		s.logger.Warn("Failed to write audit record", "entity_id", id, "action", action, "error", err)
	}
}

// authorize checks permission when an Authorizer is configured.
func (s *service) authorize(ctx context.Context, permission Permission, target *Entity) error {
	if s.authorizer == nil {
		return nil
	}
	h, err := s.resolveFrom(ctx, target)
	if err != nil {
		return err
	}
	return s.authorizer.Authorize(ctx, AgentFromContext(ctx), permission, target, h)
}

func (s *service) observe(op string, start time.Time, err *error) {
	s.observer.OperationCompleted(op, *err, time.Since(start))
}
