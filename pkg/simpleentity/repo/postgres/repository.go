package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

//go:embed schema.sql
var schemaSQL string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleentity.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate creates the tables used by the repository if they are missing
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, simpleentity.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: %s %w", operation, pgErr.TableName, simpleentity.ErrAlreadyExists)
		case "23503": // foreign_key_violation
			return fmt.Errorf("%w: %s: referenced record not found or still referenced", simpleentity.ErrInvalidParameter, operation)
		case "23502": // not_null_violation
			return fmt.Errorf("%w: %s: required field %s is missing", simpleentity.ErrInvalidParameter, operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%w: %s: table does not exist - database migration required", simpleentity.ErrIO, operation)
		default:
			return fmt.Errorf("%w: database error in %s: %s (code: %s)", simpleentity.ErrIO, operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("%w: database error in %s: %v", simpleentity.ErrIO, operation, err)
}

// Entity operations

func encodeEntity(e *simpleentity.Entity) ([]byte, error) {
	doc := e.Clone()
	doc.Children = nil
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode entity %s: %w", e.ID, err)
	}
	return data, nil
}

func decodeEntity(data []byte) (*simpleentity.Entity, error) {
	var e simpleentity.Entity
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: decode entity: %v", simpleentity.ErrIO, err)
	}
	return &e, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *Repository) EntityExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM entities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, r.handlePostgresError("entity exists", err)
	}
	return exists, nil
}

func (r *Repository) CreateEntity(ctx context.Context, e *simpleentity.Entity) error {
	doc, err := encodeEntity(e)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO entities (
			id, content_model_id, parent_id, state, label, version,
			document, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		e.ID, e.ContentModelID, nullable(e.ParentID), e.State, e.Label, e.Version,
		doc, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create entity", err)
	}
	return nil
}

func (r *Repository) UpdateEntity(ctx context.Context, e *simpleentity.Entity, expected simpleentity.Revision) error {
	doc, err := encodeEntity(e)
	if err != nil {
		return err
	}

	query := `
		UPDATE entities SET
			content_model_id = $2, parent_id = $3, state = $4, label = $5,
			version = $6, document = $7, updated_at = $8
		WHERE id = $1 AND version = $9 AND document->>'updated_at' = $10`

	// The column keeps microseconds only, the document keeps the exact value
	tag, err := r.db.Exec(ctx, query,
		e.ID, e.ContentModelID, nullable(e.ParentID), e.State, e.Label,
		e.Version, doc, e.UpdatedAt, expected.Version, expected.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return r.handlePostgresError("update entity", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	exists, err := r.EntityExists(ctx, e.ID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, e.ID)
	}
	return fmt.Errorf("%w: entity %s was modified", simpleentity.ErrConflict, e.ID)
}

func (r *Repository) RetrieveEntity(ctx context.Context, id string) (*simpleentity.Entity, error) {
	var doc []byte
	err := r.db.QueryRow(ctx, `SELECT document FROM entities WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, id)
		}
		return nil, r.handlePostgresError("retrieve entity", err)
	}
	return decodeEntity(doc)
}

func (r *Repository) DeleteEntity(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM entities WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete entity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", simpleentity.ErrEntityNotFound, id)
	}
	return nil
}

func (r *Repository) FetchChildren(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM entities WHERE parent_id = $1 ORDER BY id`, id)
	if err != nil {
		return nil, r.handlePostgresError("fetch children", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, r.handlePostgresError("scan children", err)
	}
	return ids, nil
}

// buildSearchWhere returns the WHERE clause for q and its arguments
func buildSearchWhere(q simpleentity.SearchQuery) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	argIndex := 1

	if q.ContentModelID != "" {
		where += fmt.Sprintf(" AND content_model_id = $%d", argIndex)
		args = append(args, q.ContentModelID)
		argIndex++
	}
	if q.ParentID != "" {
		where += fmt.Sprintf(" AND parent_id = $%d", argIndex)
		args = append(args, q.ParentID)
		argIndex++
	}
	if q.State != "" {
		where += fmt.Sprintf(" AND state = $%d", argIndex)
		args = append(args, q.State)
		argIndex++
	}
	if q.Label != "" {
		escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q.Label)
		where += fmt.Sprintf(" AND label ILIKE $%d", argIndex)
		args = append(args, "%"+escaped+"%")
	}
	return where, args
}

func (r *Repository) SearchEntities(ctx context.Context, q simpleentity.SearchQuery) (*simpleentity.SearchResult, error) {
	q = q.Normalize()
	where, args := buildSearchWhere(q)

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM entities"+where, args...).Scan(&total); err != nil {
		return nil, r.handlePostgresError("count entities", err)
	}

	query := "SELECT document FROM entities" + where +
		fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := r.db.Query(ctx, query, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, r.handlePostgresError("search entities", err)
	}
	defer rows.Close()

	result := &simpleentity.SearchResult{Total: total, Offset: q.Offset, Limit: q.Limit, Entities: []*simpleentity.Entity{}}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, r.handlePostgresError("scan entity", err)
		}
		e, err := decodeEntity(doc)
		if err != nil {
			return nil, err
		}
		result.Entities = append(result.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate entity rows", err)
	}
	return result, nil
}

func (r *Repository) Status(ctx context.Context) error {
	var one int
	if err := r.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return r.handlePostgresError("status", err)
	}
	return nil
}

// Version operations

func (r *Repository) AddOldVersion(ctx context.Context, v *simpleentity.Version) error {
	doc, err := encodeEntity(v.Entity)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO entity_versions (entity_id, number, path, document, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.Exec(ctx, query, v.EntityID, v.Number, v.Path, doc, v.CreatedAt); err != nil {
		return r.handlePostgresError("add version", err)
	}
	return nil
}

func scanVersion(row pgx.Row) (*simpleentity.Version, error) {
	var v simpleentity.Version
	var doc []byte
	if err := row.Scan(&v.EntityID, &v.Number, &v.Path, &doc, &v.CreatedAt); err != nil {
		return nil, err
	}
	e, err := decodeEntity(doc)
	if err != nil {
		return nil, err
	}
	v.Entity = e
	return &v, nil
}

func (r *Repository) GetOldVersion(ctx context.Context, entityID string, number int) (*simpleentity.Version, error) {
	query := `
		SELECT entity_id, number, path, document, created_at
		FROM entity_versions WHERE entity_id = $1 AND number = $2`
	v, err := scanVersion(r.db.QueryRow(ctx, query, entityID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s/%d", simpleentity.ErrVersionNotFound, entityID, number)
		}
		return nil, r.handlePostgresError("get version", err)
	}
	return v, nil
}

func (r *Repository) GetOldVersions(ctx context.Context, entityID string) ([]*simpleentity.Version, error) {
	query := `
		SELECT entity_id, number, path, document, created_at
		FROM entity_versions WHERE entity_id = $1 ORDER BY number`
	rows, err := r.db.Query(ctx, query, entityID)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	versions := []*simpleentity.Version{}
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate version rows", err)
	}
	return versions, nil
}

func (r *Repository) DeleteOldVersions(ctx context.Context, entityID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM entity_versions WHERE entity_id = $1`, entityID); err != nil {
		return r.handlePostgresError("delete versions", err)
	}
	return nil
}

// Audit operations

func (r *Repository) CreateAuditRecord(ctx context.Context, rec *simpleentity.AuditRecord) error {
	query := `
		INSERT INTO audit_records (id, entity_id, action, agent_name, detail, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.db.Exec(ctx, query, rec.ID, rec.EntityID, rec.Action, rec.AgentName, rec.Detail, rec.Timestamp)
	if err != nil {
		return r.handlePostgresError("create audit record", err)
	}
	return nil
}

func (r *Repository) RetrieveAuditRecords(ctx context.Context, entityID string, offset, count int) ([]*simpleentity.AuditRecord, error) {
	query := `
		SELECT id, entity_id, action, agent_name, detail, timestamp
		FROM audit_records WHERE entity_id = $1
		ORDER BY timestamp ASC, id ASC LIMIT $2 OFFSET $3`
	rows, err := r.db.Query(ctx, query, entityID, count, offset)
	if err != nil {
		return nil, r.handlePostgresError("retrieve audit records", err)
	}
	defer rows.Close()

	records := []*simpleentity.AuditRecord{}
	for rows.Next() {
		var rec simpleentity.AuditRecord
		if err := rows.Scan(&rec.ID, &rec.EntityID, &rec.Action, &rec.AgentName, &rec.Detail, &rec.Timestamp); err != nil {
			return nil, r.handlePostgresError("scan audit record", err)
		}
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate audit rows", err)
	}
	return records, nil
}

func (r *Repository) DeleteAuditRecords(ctx context.Context, entityID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM audit_records WHERE entity_id = $1`, entityID); err != nil {
		return r.handlePostgresError("delete audit records", err)
	}
	return nil
}

// Content model operations

func (r *Repository) CreateContentModel(ctx context.Context, m *simpleentity.ContentModel) error {
	parents := m.AllowedParentContentModels
	if parents == nil {
		parents = []string{}
	}
	query := `INSERT INTO content_models (id, name, allowed_parent_content_models) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, m.ID, m.Name, parents); err != nil {
		return r.handlePostgresError("create content model", err)
	}
	return nil
}

func scanContentModel(row pgx.Row) (*simpleentity.ContentModel, error) {
	var m simpleentity.ContentModel
	if err := row.Scan(&m.ID, &m.Name, &m.AllowedParentContentModels); err != nil {
		return nil, err
	}
	if len(m.AllowedParentContentModels) == 0 {
		m.AllowedParentContentModels = nil
	}
	return &m, nil
}

func (r *Repository) GetContentModel(ctx context.Context, id string) (*simpleentity.ContentModel, error) {
	query := `SELECT id, name, allowed_parent_content_models FROM content_models WHERE id = $1`
	m, err := scanContentModel(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
		}
		return nil, r.handlePostgresError("get content model", err)
	}
	return m, nil
}

func (r *Repository) ListContentModels(ctx context.Context) ([]*simpleentity.ContentModel, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, allowed_parent_content_models FROM content_models ORDER BY id`)
	if err != nil {
		return nil, r.handlePostgresError("list content models", err)
	}
	defer rows.Close()

	models := []*simpleentity.ContentModel{}
	for rows.Next() {
		m, err := scanContentModel(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan content model", err)
		}
		models = append(models, m)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate content model rows", err)
	}
	return models, nil
}

func (r *Repository) DeleteContentModel(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM content_models WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete content model", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
	}
	return nil
}

// Schema operations

func (r *Repository) SchemaURL(ctx context.Context, schemaType string) (string, error) {
	var url string
	err := r.db.QueryRow(ctx, `SELECT url FROM metadata_schemas WHERE schema_type = $1`, schemaType).Scan(&url)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", simpleentity.ErrSchemaNotFound, schemaType)
		}
		return "", r.handlePostgresError("get schema", err)
	}
	return url, nil
}

// RegisterSchema adds or replaces a metadata schema
func (r *Repository) RegisterSchema(ctx context.Context, schemaType, url string) error {
	query := `
		INSERT INTO metadata_schemas (schema_type, url) VALUES ($1, $2)
		ON CONFLICT (schema_type) DO UPDATE SET url = EXCLUDED.url`
	if _, err := r.db.Exec(ctx, query, schemaType, url); err != nil {
		return r.handlePostgresError("register schema", err)
	}
	return nil
}
