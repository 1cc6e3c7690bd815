package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tendant/simple-entity/pkg/simpleentity"
)

// DefaultSchemas are the metadata types every new repository knows.
var DefaultSchemas = map[string]string{
	"dc":       "http://purl.org/dc/elements/1.1/",
	"datacite": "http://datacite.org/schema/kernel-4",
}

// Repository implements simpleentity.Repository using in-memory storage
type Repository struct {
	mu       sync.RWMutex
	entities map[string]*simpleentity.Entity
	children map[string]map[string]bool                // parent_id -> child ids
	versions map[string]map[int]*simpleentity.Version // entity_id -> number -> snapshot
	audit    map[string][]*simpleentity.AuditRecord
	models   map[string]*simpleentity.ContentModel
	schemas  map[string]string
}

// New creates a new in-memory repository
func New() *Repository {
	r := &Repository{
		entities: make(map[string]*simpleentity.Entity),
		children: make(map[string]map[string]bool),
		versions: make(map[string]map[int]*simpleentity.Version),
		audit:    make(map[string][]*simpleentity.AuditRecord),
		models:   make(map[string]*simpleentity.ContentModel),
		schemas:  make(map[string]string),
	}
	for name, url := range DefaultSchemas {
		r.schemas[name] = url
	}
	return r
}

// Entity operations

func (r *Repository) EntityExists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entities[id]
	return exists, nil
}

func (r *Repository) CreateEntity(ctx context.Context, e *simpleentity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[e.ID]; exists {
		return fmt.Errorf("entity %s %w", e.ID, simpleentity.ErrAlreadyExists)
	}
	// Create a copy to avoid external modifications
	r.entities[e.ID] = stripChildren(e)
	r.link(e.ID, e.ParentID)
	return nil
}

func (r *Repository) UpdateEntity(ctx context.Context, e *simpleentity.Entity, expected simpleentity.Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.entities[e.ID]
	if !exists {
		return fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, e.ID)
	}
	if !expected.Matches(current) {
		return fmt.Errorf("%w: entity %s was modified", simpleentity.ErrConflict, e.ID)
	}

	if current.ParentID != e.ParentID {
		r.unlink(e.ID, current.ParentID)
		r.link(e.ID, e.ParentID)
	}
	r.entities[e.ID] = stripChildren(e)
	return nil
}

func (r *Repository) RetrieveEntity(ctx context.Context, id string) (*simpleentity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, exists := r.entities[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, id)
	}
	// Return a copy to prevent external modifications
	return e.Clone(), nil
}

func (r *Repository) DeleteEntity(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entities[id]
	if !exists {
		return fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, id)
	}
	r.unlink(id, e.ParentID)
	delete(r.entities, id)
	delete(r.children, id)
	return nil
}

func (r *Repository) FetchChildren(ctx context.Context, id string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.children[id]))
	for child := range r.children[id] {
		ids = append(ids, child)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) SearchEntities(ctx context.Context, q simpleentity.SearchQuery) (*simpleentity.SearchResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q = q.Normalize()
	label := strings.ToLower(q.Label)

	var matches []*simpleentity.Entity
	for _, e := range r.entities {
		if q.ContentModelID != "" && e.ContentModelID != q.ContentModelID {
			continue
		}
		if q.ParentID != "" && e.ParentID != q.ParentID {
			continue
		}
		if q.State != "" && e.State != q.State {
			continue
		}
		if label != "" && !strings.Contains(strings.ToLower(e.Label), label) {
			continue
		}
		matches = append(matches, e)
	}

	// Sort by created_at ascending, id breaks ties
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	result := &simpleentity.SearchResult{Total: len(matches), Offset: q.Offset, Limit: q.Limit, Entities: []*simpleentity.Entity{}}
	for i := q.Offset; i < len(matches) && i < q.Offset+q.Limit; i++ {
		result.Entities = append(result.Entities, matches[i].Clone())
	}
	return result, nil
}

func (r *Repository) Status(ctx context.Context) error {
	return nil
}

func (r *Repository) link(id, parentID string) {
	if parentID == "" {
		return
	}
	if r.children[parentID] == nil {
		r.children[parentID] = make(map[string]bool)
	}
	r.children[parentID][id] = true
}

func (r *Repository) unlink(id, parentID string) {
	if parentID == "" {
		return
	}
	delete(r.children[parentID], id)
	if len(r.children[parentID]) == 0 {
		delete(r.children, parentID)
	}
}

func stripChildren(e *simpleentity.Entity) *simpleentity.Entity {
	c := e.Clone()
	c.Children = nil
	return c
}

// Version operations

func (r *Repository) AddOldVersion(ctx context.Context, v *simpleentity.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNumber := r.versions[v.EntityID]
	if byNumber == nil {
		byNumber = make(map[int]*simpleentity.Version)
		r.versions[v.EntityID] = byNumber
	}
	if _, exists := byNumber[v.Number]; exists {
		return fmt.Errorf("version %d of entity %s %w", v.Number, v.EntityID, simpleentity.ErrAlreadyExists)
	}
	byNumber[v.Number] = cloneVersion(v)
	return nil
}

func (r *Repository) GetOldVersion(ctx context.Context, entityID string, number int) (*simpleentity.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.versions[entityID][number]
	if !exists {
		return nil, fmt.Errorf("%w: %s/%d", simpleentity.ErrVersionNotFound, entityID, number)
	}
	return cloneVersion(v), nil
}

func (r *Repository) GetOldVersions(ctx context.Context, entityID string) ([]*simpleentity.Version, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleentity.Version, 0, len(r.versions[entityID]))
	for _, v := range r.versions[entityID] {
		result = append(result, cloneVersion(v))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Number < result[j].Number
	})
	return result, nil
}

func (r *Repository) DeleteOldVersions(ctx context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.versions, entityID)
	return nil
}

func cloneVersion(v *simpleentity.Version) *simpleentity.Version {
	c := *v
	c.Entity = v.Entity.Clone()
	return &c
}

// Audit operations

func (r *Repository) CreateAuditRecord(ctx context.Context, rec *simpleentity.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	recCopy := *rec
	r.audit[rec.EntityID] = append(r.audit[rec.EntityID], &recCopy)
	return nil
}

func (r *Repository) RetrieveAuditRecords(ctx context.Context, entityID string, offset, count int) ([]*simpleentity.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	records := r.audit[entityID]
	sorted := make([]*simpleentity.AuditRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	result := []*simpleentity.AuditRecord{}
	for i := offset; i < len(sorted) && i < offset+count; i++ {
		recCopy := *sorted[i]
		result = append(result, &recCopy)
	}
	return result, nil
}

func (r *Repository) DeleteAuditRecords(ctx context.Context, entityID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.audit, entityID)
	return nil
}

// Content model operations

func (r *Repository) CreateContentModel(ctx context.Context, m *simpleentity.ContentModel) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[m.ID]; exists {
		return fmt.Errorf("content model %s %w", m.ID, simpleentity.ErrAlreadyExists)
	}
	r.models[m.ID] = cloneModel(m)
	return nil
}

func (r *Repository) GetContentModel(ctx context.Context, id string) (*simpleentity.ContentModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, exists := r.models[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
	}
	return cloneModel(m), nil
}

func (r *Repository) ListContentModels(ctx context.Context) ([]*simpleentity.ContentModel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*simpleentity.ContentModel, 0, len(r.models))
	for _, m := range r.models {
		result = append(result, cloneModel(m))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *Repository) DeleteContentModel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.models[id]; !exists {
		return fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
	}
	delete(r.models, id)
	return nil
}

func cloneModel(m *simpleentity.ContentModel) *simpleentity.ContentModel {
	c := *m
	c.AllowedParentContentModels = append([]string(nil), m.AllowedParentContentModels...)
	return &c
}

// Schema operations

func (r *Repository) SchemaURL(ctx context.Context, schemaType string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	url, exists := r.schemas[schemaType]
	if !exists {
		return "", fmt.Errorf("%w: %s", simpleentity.ErrSchemaNotFound, schemaType)
	}
	return url, nil
}

// RegisterSchema adds or replaces a metadata schema
func (r *Repository) RegisterSchema(schemaType, url string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas[schemaType] = url
}
