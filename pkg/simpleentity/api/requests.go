package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// readJSON reads a JSON body into v
func readJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// decode reads a JSON body into the struct v and validates its tags
func decode(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil {
		return err
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("invalid request: %s", describe(err))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// PayloadRequest describes a metadata record or binary fetched from a URI
type PayloadRequest struct {
	Name        string            `json:"name" validate:"required,max=255"`
	Type        string            `json:"type,omitempty"`
	MimeType    string            `json:"mime_type" validate:"required"`
	Filename    string            `json:"filename,omitempty"`
	SourceURI   string            `json:"source_uri" validate:"required,uri"`
	IndexInline bool              `json:"index_inline,omitempty"`
	Metadata    []*PayloadRequest `json:"metadata,omitempty" validate:"dive"`
}

// EntityRequest is the body of create and update
type EntityRequest struct {
	ID             string                    `json:"id,omitempty" validate:"omitempty,max=128"`
	ContentModelID string                    `json:"content_model_id"`
	ParentID       string                    `json:"parent_id,omitempty"`
	State          string                    `json:"state,omitempty" validate:"omitempty,oneof=PENDING SUBMITTED PUBLISHED WITHDRAWN"`
	Label          string                    `json:"label,omitempty"`
	Metadata       []*PayloadRequest         `json:"metadata,omitempty" validate:"dive"`
	Binaries       []*PayloadRequest         `json:"binaries,omitempty" validate:"dive"`
	Relations      map[string][]string       `json:"relations,omitempty"`
	Identifiers    []simpleentity.Identifier `json:"identifiers,omitempty"`
}

func (p *PayloadRequest) toMetadata() *simpleentity.Metadata {
	return &simpleentity.Metadata{
		Name:        p.Name,
		Type:        p.Type,
		MimeType:    p.MimeType,
		Filename:    p.Filename,
		Source:      simpleentity.Source{URI: p.SourceURI},
		IndexInline: p.IndexInline,
	}
}

func (p *PayloadRequest) toBinary() *simpleentity.Binary {
	b := &simpleentity.Binary{
		Name:     p.Name,
		MimeType: p.MimeType,
		Filename: p.Filename,
		Source:   simpleentity.Source{URI: p.SourceURI},
	}
	for _, m := range p.Metadata {
		b.Metadata = append(b.Metadata, m.toMetadata())
	}
	return b
}

func (req *EntityRequest) toEntity() *simpleentity.Entity {
	e := &simpleentity.Entity{
		ID:             req.ID,
		ContentModelID: req.ContentModelID,
		ParentID:       req.ParentID,
		State:          simpleentity.State(req.State),
		Label:          req.Label,
		Relations:      req.Relations,
		Identifiers:    req.Identifiers,
	}
	for _, m := range req.Metadata {
		e.Metadata = append(e.Metadata, m.toMetadata())
	}
	for _, b := range req.Binaries {
		e.Binaries = append(e.Binaries, b.toBinary())
	}
	return e
}

// CreateEntityResponse is returned by a successful create
type CreateEntityResponse struct {
	ID string `json:"id"`
}

// RelationRequest adds a relation object under a predicate
type RelationRequest struct {
	Predicate string `json:"predicate" validate:"required"`
	Object    string `json:"object" validate:"required"`
}

// IdentifierRequest adds an alternative identifier
type IdentifierRequest struct {
	Type  string `json:"type" validate:"required,oneof=DOI HANDLE URN ISBN ISSN ARXIV PMID URL"`
	Value string `json:"value" validate:"required"`
}

// AuditRequest appends a free-form audit record
type AuditRequest struct {
	Action string `json:"action,omitempty"`
	Detail string `json:"detail" validate:"max=4096"`
}

// ContentModelRequest creates a content model
type ContentModelRequest struct {
	ID                         string   `json:"id" validate:"required,max=128"`
	Name                       string   `json:"name,omitempty"`
	AllowedParentContentModels []string `json:"allowed_parent_content_models,omitempty"`
}

// queryInt reads a non-negative integer query parameter
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func queryBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
