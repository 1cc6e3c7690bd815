package simpleentity

import (
	"io"
	"slices"
	"strings"
	"time"
)

// State is the publication state of an entity.
type State string

// State constants (typed).
const (
	StatePending   State = "PENDING"
	StateSubmitted State = "SUBMITTED"
	StatePublished State = "PUBLISHED"
	StateWithdrawn State = "WITHDRAWN"
)

// IsValid reports whether s is one of the known states.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateSubmitted, StatePublished, StateWithdrawn:
		return true
	}
	return false
}

// IsTerminal reports whether s forbids structural mutation.
func (s State) IsTerminal() bool {
	return s == StatePublished || s == StateWithdrawn
}

// ParseState converts a string into a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", invalidf("unknown state %q", s)
	}
	return st, nil
}

// ChecksumSHA256 is the only checksum algorithm the service computes.
const ChecksumSHA256 = "SHA-256"

// DefaultLabel is assigned to entities created without a label.
const DefaultLabel = "Unnamed entity"

// EntityRefPrefix marks a relation object that points at another entity.
const EntityRefPrefix = "entity:"

// IdentifierType enumerates the supported alternative identifier schemes.
type IdentifierType string

const (
	IdentifierDOI    IdentifierType = "DOI"
	IdentifierHandle IdentifierType = "HANDLE"
	IdentifierURN    IdentifierType = "URN"
	IdentifierISBN   IdentifierType = "ISBN"
	IdentifierISSN   IdentifierType = "ISSN"
	IdentifierArXiv  IdentifierType = "ARXIV"
	IdentifierPMID   IdentifierType = "PMID"
	IdentifierURL    IdentifierType = "URL"
)

// IsValid reports whether t is a supported identifier type.
func (t IdentifierType) IsValid() bool {
	switch t {
	case IdentifierDOI, IdentifierHandle, IdentifierURN, IdentifierISBN,
		IdentifierISSN, IdentifierArXiv, IdentifierPMID, IdentifierURL:
		return true
	}
	return false
}

// Identifier is an alternative identifier such as a DOI.
type Identifier struct {
	Type  IdentifierType `json:"type"`
	Value string         `json:"value"`
}

// Source describes where payload bytes come from. Exactly one of Reader and
// URI is expected to be set. Internal sources point at bytes already held by
// the blob store.
type Source struct {
	URI      string    `json:"uri,omitempty"`
	Internal bool      `json:"internal,omitempty"`
	Reader   io.Reader `json:"-"`
}

// IsInternal reports whether the source names bytes already held by the
// repository, either flagged or given as an entity:// locator.
func (s Source) IsInternal() bool {
	return s.Internal || strings.HasPrefix(s.URI, locatorScheme)
}

// IsZero reports whether the source carries neither bytes nor a location.
func (s Source) IsZero() bool {
	return s.URI == "" && s.Reader == nil
}

// Metadata is a named structured record attached to an entity or a binary.
// JSONData holds the parsed projection and is set only when IndexInline is.
type Metadata struct {
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	MimeType     string    `json:"mime_type"`
	Filename     string    `json:"filename,omitempty"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum,omitempty"`
	ChecksumType string    `json:"checksum_type,omitempty"`
	Path         string    `json:"path,omitempty"`
	Source       Source    `json:"source"`
	IndexInline  bool      `json:"index_inline"`
	JSONData     any       `json:"json_data,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Clone returns a copy of m. JSONData is shared.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Binary is a named payload attached to an entity.
type Binary struct {
	Name         string      `json:"name"`
	MimeType     string      `json:"mime_type"`
	Filename     string      `json:"filename,omitempty"`
	Size         int64       `json:"size"`
	Checksum     string      `json:"checksum,omitempty"`
	ChecksumType string      `json:"checksum_type,omitempty"`
	Path         string      `json:"path,omitempty"`
	Source       Source      `json:"source"`
	Metadata     []*Metadata `json:"metadata,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of b.
func (b *Binary) Clone() *Binary {
	if b == nil {
		return nil
	}
	c := *b
	c.Metadata = cloneMetadata(b.Metadata)
	return &c
}

// FindMetadata returns the binary's metadata record with the given name.
func (b *Binary) FindMetadata(name string) *Metadata {
	return findMetadata(b.Metadata, name)
}

// Entity is the unit of repository content.
type Entity struct {
	ID             string              `json:"id"`
	Version        int                 `json:"version"`
	ContentModelID string              `json:"content_model_id"`
	ParentID       string              `json:"parent_id,omitempty"`
	State          State               `json:"state"`
	Label          string              `json:"label"`
	Metadata       []*Metadata         `json:"metadata,omitempty"`
	Binaries       []*Binary           `json:"binaries,omitempty"`
	Relations      map[string][]string `json:"relations,omitempty"`
	Identifiers    []Identifier        `json:"identifiers,omitempty"`
	Children       []string            `json:"children,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// Clone returns a deep copy of e. Payload readers are shared.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata = cloneMetadata(e.Metadata)
	if e.Binaries != nil {
		c.Binaries = make([]*Binary, len(e.Binaries))
		for i, b := range e.Binaries {
			c.Binaries[i] = b.Clone()
		}
	}
	if e.Relations != nil {
		c.Relations = make(map[string][]string, len(e.Relations))
		for p, objs := range e.Relations {
			c.Relations[p] = slices.Clone(objs)
		}
	}
	c.Identifiers = slices.Clone(e.Identifiers)
	c.Children = slices.Clone(e.Children)
	return &c
}

// Revision returns the values an index write is conditioned on.
func (e *Entity) Revision() Revision {
	return Revision{Version: e.Version, UpdatedAt: e.UpdatedAt}
}

// FindMetadata returns the entity metadata record with the given name.
func (e *Entity) FindMetadata(name string) *Metadata {
	return findMetadata(e.Metadata, name)
}

// FindBinary returns the binary with the given name.
func (e *Entity) FindBinary(name string) *Binary {
	for _, b := range e.Binaries {
		if b.Name == name {
			return b
		}
	}
	return nil
}

// PayloadPaths lists the blob paths referenced by the entity.
func (e *Entity) PayloadPaths() []string {
	var paths []string
	add := func(p string) {
		if p != "" {
			paths = append(paths, p)
		}
	}
	for _, m := range e.Metadata {
		add(m.Path)
	}
	for _, b := range e.Binaries {
		add(b.Path)
		for _, m := range b.Metadata {
			add(m.Path)
		}
	}
	return paths
}

// Revision identifies the stored state an update was computed from.
type Revision struct {
	Version   int
	UpdatedAt time.Time
}

// Matches reports whether the stored entity is still at this revision.
func (r Revision) Matches(e *Entity) bool {
	return e.Version == r.Version && e.UpdatedAt.Equal(r.UpdatedAt)
}

// ContentModel governs which parent types an entity may have.
type ContentModel struct {
	ID                         string   `json:"id"`
	Name                       string   `json:"name"`
	AllowedParentContentModels []string `json:"allowed_parent_content_models,omitempty"`
}

// IsRoot reports whether entities of this model have no parent.
func (m *ContentModel) IsRoot() bool {
	return len(m.AllowedParentContentModels) == 0
}

// AllowsParent reports whether parentModelID may own entities of this model.
func (m *ContentModel) AllowsParent(parentModelID string) bool {
	return slices.Contains(m.AllowedParentContentModels, parentModelID)
}

// Version is an immutable snapshot of an entity taken before a structural
// mutation.
type Version struct {
	EntityID  string    `json:"entity_id"`
	Number    int       `json:"number"`
	Path      string    `json:"path"`
	Entity    *Entity   `json:"entity"`
	CreatedAt time.Time `json:"created_at"`
}

// AuditAction is the kind of event recorded in the audit log.
type AuditAction string

const (
	AuditCreate               AuditAction = "CREATE"
	AuditUpdate               AuditAction = "UPDATE"
	AuditPatch                AuditAction = "PATCH"
	AuditCreateBinary         AuditAction = "CREATE_BINARY"
	AuditDeleteBinary         AuditAction = "DELETE_BINARY"
	AuditCreateMetadata       AuditAction = "CREATE_METADATA"
	AuditDeleteMetadata       AuditAction = "DELETE_METADATA"
	AuditCreateBinaryMetadata AuditAction = "CREATE_BINARY_METADATA"
	AuditDeleteBinaryMetadata AuditAction = "DELETE_BINARY_METADATA"
	AuditCreateRelation       AuditAction = "CREATE_RELATION"
	AuditDeleteRelation       AuditAction = "DELETE_RELATION"
	AuditCreateIdentifier     AuditAction = "CREATE_IDENTIFIER"
	AuditDeleteIdentifier     AuditAction = "DELETE_IDENTIFIER"
	AuditSubmit               AuditAction = "SUBMIT"
	AuditPublish              AuditAction = "PUBLISH"
	AuditWithdraw             AuditAction = "WITHDRAW"
	AuditPending              AuditAction = "PENDING"
	AuditNote                 AuditAction = "NOTE"
)

// AuditRecord is one entry of an entity's audit log.
type AuditRecord struct {
	ID        string      `json:"id"`
	EntityID  string      `json:"entity_id"`
	Action    AuditAction `json:"action"`
	AgentName string      `json:"agent_name"`
	Timestamp time.Time   `json:"timestamp"`
	Detail    string      `json:"detail,omitempty"`
}

// Hierarchy holds the level-1 and level-2 ancestors of an entity. An entity
// of a root type is its own level-1 ancestor.
type Hierarchy struct {
	Level1ID string `json:"level1_id"`
	Level2ID string `json:"level2_id,omitempty"`
}

// Permission is an access level checked by an Authorizer.
type Permission string

const (
	PermissionRead  Permission = "READ"
	PermissionWrite Permission = "WRITE"
)

// SearchQuery selects entities from the index. Empty fields do not filter.
type SearchQuery struct {
	ContentModelID string
	ParentID       string
	State          State
	Label          string // case-insensitive substring
	Offset         int
	Limit          int
}

// SearchResult is a page of entities and the total number of matches.
type SearchResult struct {
	Entities []*Entity `json:"entities"`
	Total    int       `json:"total"`
	Offset   int       `json:"offset"`
	Limit    int       `json:"limit"`
}

// DefaultSearchLimit applies when a query does not set Limit.
const DefaultSearchLimit = 50

// Normalize applies default paging to q.
func (q SearchQuery) Normalize() SearchQuery {
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Limit <= 0 {
		q.Limit = DefaultSearchLimit
	}
	return q
}

func cloneMetadata(in []*Metadata) []*Metadata {
	if in == nil {
		return nil
	}
	out := make([]*Metadata, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}

func findMetadata(list []*Metadata, name string) *Metadata {
	for _, m := range list {
		if m.Name == name {
			return m
		}
	}
	return nil
}

