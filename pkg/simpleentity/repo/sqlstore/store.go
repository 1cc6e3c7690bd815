// Package sqlstore keeps entity versions, audit records and content models in
// any SQL database gorm can drive. It pairs with an Index from another
// backend.
package sqlstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tendant/simple-entity/pkg/simpleentity"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type versionRecord struct {
	EntityID  string `gorm:"primaryKey"`
	Number    int    `gorm:"primaryKey;autoIncrement:false"`
	Path      string `gorm:"not null"`
	Document  string `gorm:"not null"`
	CreatedAt time.Time
}

func (versionRecord) TableName() string {
	return "entity_versions"
}

type auditRecord struct {
	ID        string    `gorm:"primaryKey"`
	EntityID  string    `gorm:"index:idx_audit_entity_time;not null"`
	Action    string    `gorm:"not null"`
	AgentName string    `gorm:"not null"`
	Detail    string
	Timestamp time.Time `gorm:"index:idx_audit_entity_time"`
}

func (auditRecord) TableName() string {
	return "audit_records"
}

type contentModelRecord struct {
	ID             string `gorm:"primaryKey"`
	Name           string `gorm:"not null"`
	AllowedParents string // comma separated
}

func (contentModelRecord) TableName() string {
	return "content_models"
}

// Migrate creates or updates the tables used by Store
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&versionRecord{}, &auditRecord{}, &contentModelRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Store implements simpleentity.VersionStore, AuditStore and ContentModelStore
type Store struct {
	db *gorm.DB
}

// New wraps db and migrates the schema
func New(db *gorm.DB) (*Store, error) {
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Open connects with the named dialect ("sqlite" or "postgres")
func Open(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported sql dialect %q", simpleentity.ErrInvalidParameter, dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	return New(db)
}

// Close releases the underlying connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) dbErr(op string, err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%s: %w", op, simpleentity.ErrAlreadyExists)
	}
	return fmt.Errorf("%w: %s: %v", simpleentity.ErrIO, op, err)
}

// Version operations

func (s *Store) AddOldVersion(ctx context.Context, v *simpleentity.Version) error {
	doc, err := json.Marshal(v.Entity)
	if err != nil {
		return fmt.Errorf("encode version %s/%d: %w", v.EntityID, v.Number, err)
	}
	rec := &versionRecord{EntityID: v.EntityID, Number: v.Number, Path: v.Path, Document: string(doc), CreatedAt: v.CreatedAt}

	// versions are immutable
	var count int64
	if err := s.db.WithContext(ctx).Model(&versionRecord{}).
		Where("entity_id = ? AND number = ?", v.EntityID, v.Number).Count(&count).Error; err != nil {
		return s.dbErr("add version", err)
	}
	if count > 0 {
		return fmt.Errorf("version %d of entity %s %w", v.Number, v.EntityID, simpleentity.ErrAlreadyExists)
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return s.dbErr("add version", err)
	}
	return nil
}

func (rec *versionRecord) toVersion() (*simpleentity.Version, error) {
	var e simpleentity.Entity
	if err := json.Unmarshal([]byte(rec.Document), &e); err != nil {
		return nil, fmt.Errorf("%w: decode version %s/%d: %v", simpleentity.ErrIO, rec.EntityID, rec.Number, err)
	}
	return &simpleentity.Version{EntityID: rec.EntityID, Number: rec.Number, Path: rec.Path, Entity: &e, CreatedAt: rec.CreatedAt}, nil
}

func (s *Store) GetOldVersion(ctx context.Context, entityID string, number int) (*simpleentity.Version, error) {
	var rec versionRecord
	err := s.db.WithContext(ctx).Where("entity_id = ? AND number = ?", entityID, number).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s/%d", simpleentity.ErrVersionNotFound, entityID, number)
	}
	if err != nil {
		return nil, s.dbErr("get version", err)
	}
	return rec.toVersion()
}

func (s *Store) GetOldVersions(ctx context.Context, entityID string) ([]*simpleentity.Version, error) {
	var recs []versionRecord
	if err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Order("number").Find(&recs).Error; err != nil {
		return nil, s.dbErr("list versions", err)
	}
	versions := make([]*simpleentity.Version, 0, len(recs))
	for i := range recs {
		v, err := recs[i].toVersion()
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (s *Store) DeleteOldVersions(ctx context.Context, entityID string) error {
	if err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&versionRecord{}).Error; err != nil {
		return s.dbErr("delete versions", err)
	}
	return nil
}

// Audit operations

func (s *Store) CreateAuditRecord(ctx context.Context, rec *simpleentity.AuditRecord) error {
	row := &auditRecord{
		ID:        rec.ID,
		EntityID:  rec.EntityID,
		Action:    string(rec.Action),
		AgentName: rec.AgentName,
		Detail:    rec.Detail,
		Timestamp: rec.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return s.dbErr("create audit record", err)
	}
	return nil
}

func (s *Store) RetrieveAuditRecords(ctx context.Context, entityID string, offset, count int) ([]*simpleentity.AuditRecord, error) {
	var rows []auditRecord
	err := s.db.WithContext(ctx).
		Where("entity_id = ?", entityID).
		Order("timestamp ASC").Order("id ASC").
		Offset(offset).Limit(count).
		Find(&rows).Error
	if err != nil {
		return nil, s.dbErr("retrieve audit records", err)
	}
	records := make([]*simpleentity.AuditRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &simpleentity.AuditRecord{
			ID:        row.ID,
			EntityID:  row.EntityID,
			Action:    simpleentity.AuditAction(row.Action),
			AgentName: row.AgentName,
			Detail:    row.Detail,
			Timestamp: row.Timestamp,
		})
	}
	return records, nil
}

func (s *Store) DeleteAuditRecords(ctx context.Context, entityID string) error {
	if err := s.db.WithContext(ctx).Where("entity_id = ?", entityID).Delete(&auditRecord{}).Error; err != nil {
		return s.dbErr("delete audit records", err)
	}
	return nil
}

// Content model operations

func (s *Store) CreateContentModel(ctx context.Context, m *simpleentity.ContentModel) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&contentModelRecord{}).Where("id = ?", m.ID).Count(&count).Error; err != nil {
		return s.dbErr("create content model", err)
	}
	if count > 0 {
		return fmt.Errorf("content model %s %w", m.ID, simpleentity.ErrAlreadyExists)
	}
	row := &contentModelRecord{ID: m.ID, Name: m.Name, AllowedParents: strings.Join(m.AllowedParentContentModels, ",")}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return s.dbErr("create content model", err)
	}
	return nil
}

func (row *contentModelRecord) toModel() *simpleentity.ContentModel {
	m := &simpleentity.ContentModel{ID: row.ID, Name: row.Name}
	if row.AllowedParents != "" {
		m.AllowedParentContentModels = strings.Split(row.AllowedParents, ",")
	}
	return m
}

func (s *Store) GetContentModel(ctx context.Context, id string) (*simpleentity.ContentModel, error) {
	var row contentModelRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
	}
	if err != nil {
		return nil, s.dbErr("get content model", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListContentModels(ctx context.Context) ([]*simpleentity.ContentModel, error) {
	var rows []contentModelRecord
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, s.dbErr("list content models", err)
	}
	models := make([]*simpleentity.ContentModel, 0, len(rows))
	for i := range rows {
		models = append(models, rows[i].toModel())
	}
	return models, nil
}

func (s *Store) DeleteContentModel(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&contentModelRecord{})
	if res.Error != nil {
		return s.dbErr("delete content model", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", simpleentity.ErrContentModelNotFound, id)
	}
	return nil
}
