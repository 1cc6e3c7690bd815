package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/metrics"
	"github.com/tendant/simple-entity/pkg/simpleentity/objectkey"
	badgerstore "github.com/tendant/simple-entity/pkg/simpleentity/repo/badger"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/memory"
	repopg "github.com/tendant/simple-entity/pkg/simpleentity/repo/postgres"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/sqlstore"
	"github.com/tendant/simple-entity/pkg/simpleentity/rights"
	fsstorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/fs"
	gcsstorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/gcs"
	memorystorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/memory"
	s3storage "github.com/tendant/simple-entity/pkg/simpleentity/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		DatabaseURL:   "memory",
		DBSchema:      "public",
		DBMigrate:     true,
		VersionStore:  StoreIndex,
		AuditStore:    StoreIndex,
		SQLDialect:    "sqlite",
		StorageURL:    "memory://",
		ObjectKeys:    "git-like",
		MaxDepth:      simpleentity.DefaultMaxDepth,
		EnableMetrics: true,
	}
}

// Store kinds accepted by VersionStore and AuditStore
const (
	StoreIndex  = "index" // same backend as the index
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreBadger = "badger"
)

// ServerConfig represents server configuration for the simple-entity service
type ServerConfig struct {
	Port        string `yaml:"port" env:"PORT"`
	Environment string `yaml:"environment" env:"ENVIRONMENT"` // development, production, testing

	// Index and catalog database: "memory" or a postgres URL
	DatabaseURL string `yaml:"database_url" env:"DATABASE_URL"`
	DBSchema    string `yaml:"db_schema" env:"DB_SCHEMA"`
	DBMigrate   bool   `yaml:"db_migrate" env:"DB_MIGRATE"`

	VersionStore string `yaml:"version_store" env:"VERSION_STORE"` // index, memory, sql, badger
	AuditStore   string `yaml:"audit_store" env:"AUDIT_STORE"`     // index, memory, sql, badger
	SQLDialect   string `yaml:"sql_dialect" env:"SQL_DIALECT"`     // sqlite, postgres
	SQLDSN       string `yaml:"sql_dsn" env:"SQL_DSN"`
	BadgerPath   string `yaml:"badger_path" env:"BADGER_PATH"`

	// Blob storage: memory://, file:///path, s3://bucket?region=..., gs://bucket
	StorageURL         string `yaml:"storage_url" env:"STORAGE_URL"`
	ObjectKeys         string `yaml:"object_keys" env:"OBJECT_KEYS"` // git-like, wide, hashed, flat
	AWSAccessKeyID     string `yaml:"aws_access_key_id" env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key" env:"AWS_SECRET_ACCESS_KEY"`
	AWSRegion          string `yaml:"aws_region" env:"AWS_REGION"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file" env:"GOOGLE_APPLICATION_CREDENTIALS"`

	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`

	// Access control
	JWTSecret    string   `yaml:"jwt_secret" env:"JWT_SECRET"`
	EnableRights bool     `yaml:"enable_rights" env:"ENABLE_RIGHTS"`
	Admins       []string `yaml:"admins" env:"ADMINS" env-separator:","`

	EnableMetrics bool                  `yaml:"enable_metrics" env:"ENABLE_METRICS"`
	Registerer    prometheus.Registerer `yaml:"-"` // nil uses the default registerer
}

// StorageSpec is a parsed StorageURL
type StorageSpec struct {
	Type         string // memory, fs, s3, gcs
	BaseDir      string
	Bucket       string
	Region       string
	Endpoint     string
	Prefix       string
	UsePathStyle bool
	CreateBucket bool
}

// ParseStorageURL parses a STORAGE_URL value
func ParseStorageURL(raw string) (StorageSpec, error) {
	if raw == "" || raw == "memory" || raw == "memory://" {
		return StorageSpec{Type: "memory"}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageSpec{}, fmt.Errorf("invalid STORAGE_URL %q: %w", raw, err)
	}
	q := u.Query()

	switch u.Scheme {
	case "file":
		path := u.Host + u.Path
		if path == "" {
			return StorageSpec{}, errors.New("filesystem path cannot be empty in STORAGE_URL")
		}
		return StorageSpec{Type: "fs", BaseDir: path}, nil
	case "s3":
		if u.Host == "" {
			return StorageSpec{}, errors.New("S3 bucket name cannot be empty in STORAGE_URL")
		}
		spec := StorageSpec{
			Type:     "s3",
			Bucket:   u.Host,
			Region:   q.Get("region"),
			Endpoint: q.Get("endpoint"),
			Prefix:   strings.Trim(u.Path, "/"),
		}
		if spec.UsePathStyle, err = parseBoolParam(q, "path_style"); err != nil {
			return StorageSpec{}, err
		}
		if spec.CreateBucket, err = parseBoolParam(q, "create_bucket"); err != nil {
			return StorageSpec{}, err
		}
		return spec, nil
	case "gs", "gcs":
		if u.Host == "" {
			return StorageSpec{}, errors.New("GCS bucket name cannot be empty in STORAGE_URL")
		}
		return StorageSpec{Type: "gcs", Bucket: u.Host, Endpoint: q.Get("endpoint"), Prefix: strings.Trim(u.Path, "/")}, nil
	}

	return StorageSpec{}, fmt.Errorf("unsupported STORAGE_URL format: %s (use 'memory://', 'file://...', 's3://...' or 'gs://...')", raw)
}

func parseBoolParam(q url.Values, key string) (bool, error) {
	raw := q.Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid boolean for STORAGE_URL parameter %s: %w", key, err)
	}
	return b, nil
}

func isPostgresURL(raw string) bool {
	return strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://")
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseURL != "" && c.DatabaseURL != "memory" && !isPostgresURL(c.DatabaseURL) {
		return fmt.Errorf("unsupported DATABASE_URL format: %s (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}

	switch c.VersionStore {
	case StoreIndex, StoreMemory, StoreSQL, StoreBadger:
	default:
		return fmt.Errorf("version_store must be one of index, memory, sql, badger, got: %s", c.VersionStore)
	}
	switch c.AuditStore {
	case StoreIndex, StoreMemory, StoreSQL, StoreBadger:
	default:
		return fmt.Errorf("audit_store must be one of index, memory, sql, badger, got: %s", c.AuditStore)
	}
	if (c.VersionStore == StoreSQL || c.AuditStore == StoreSQL) && c.SQLDSN == "" {
		return errors.New("sql_dsn is required when using the sql store")
	}
	if (c.VersionStore == StoreBadger || c.AuditStore == StoreBadger) && c.BadgerPath == "" {
		return errors.New("badger_path is required when using the badger store")
	}

	if _, err := ParseStorageURL(c.StorageURL); err != nil {
		return err
	}
	if _, err := keyGenerator(c.ObjectKeys); err != nil {
		return err
	}

	if c.MaxDepth <= 0 {
		return errors.New("max_depth must be positive")
	}
	return nil
}

func keyGenerator(name string) (objectkey.Generator, error) {
	switch name {
	case "", "git-like":
		return objectkey.Default(), nil
	case "wide":
		return objectkey.NewWideShardGenerator(), nil
	case "hashed":
		return objectkey.NewHashedGitLikeGenerator(), nil
	case "flat":
		return objectkey.NewFlatGenerator("objects"), nil
	default:
		return nil, fmt.Errorf("unsupported object key scheme: %s", name)
	}
}

// Closer releases the resources opened by BuildService
type Closer func() error

func (f Closer) Close() error { return f() }

// Built is the result of BuildService
type Built struct {
	Service simpleentity.Service
	Rights  *rights.Store // nil unless rights are enabled
	closers []io.Closer
}

// Close releases every store the service was built on
func (b *Built) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i].Close())
	}
	return errors.Join(errs...)
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService(ctx context.Context) (_ *Built, err error) {
	built := &Built{}
	defer func() {
		if err != nil {
			_ = built.Close()
		}
	}()

	options := []simpleentity.Option{simpleentity.WithMaxDepth(c.MaxDepth)}

	// Set up repository
	repo, err := c.buildRepository(ctx, built)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	options = append(options, simpleentity.WithRepository(repo))

	var sqlStore *sqlstore.Store
	if c.VersionStore == StoreSQL || c.AuditStore == StoreSQL {
		sqlStore, err = sqlstore.Open(c.SQLDialect, c.SQLDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sql store: %w", err)
		}
		built.closers = append(built.closers, sqlStore)
	}

	var badgerStore *badgerstore.Store
	if c.VersionStore == StoreBadger || c.AuditStore == StoreBadger {
		badgerStore, err = badgerstore.Open(badgerstore.Config{Path: c.BadgerPath, SyncWrites: true, Logger: slog.Default()})
		if err != nil {
			return nil, fmt.Errorf("failed to open badger store: %w", err)
		}
		built.closers = append(built.closers, badgerStore)
	}

	switch c.VersionStore {
	case StoreMemory:
		options = append(options, simpleentity.WithVersionStore(memory.New()))
	case StoreSQL:
		options = append(options, simpleentity.WithVersionStore(sqlStore))
	case StoreBadger:
		options = append(options, simpleentity.WithVersionStore(badgerStore))
	}

	switch c.AuditStore {
	case StoreMemory:
		options = append(options, simpleentity.WithAuditStore(memory.New()))
	case StoreSQL:
		options = append(options, simpleentity.WithAuditStore(sqlStore))
	case StoreBadger:
		options = append(options, simpleentity.WithAuditStore(badgerStore))
	}

	// Set up blob storage
	blobs, err := c.buildStorageBackend(ctx, built)
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}
	options = append(options, simpleentity.WithBlobStore(blobs))

	if c.EnableRights {
		store := rights.NewStore()
		for _, admin := range c.Admins {
			if err := store.Grant(strings.TrimSpace(admin), rights.Admin()); err != nil {
				return nil, fmt.Errorf("failed to grant admin: %w", err)
			}
		}
		built.Rights = store
		options = append(options, simpleentity.WithAuthorizer(store))
	}

	if c.EnableMetrics {
		options = append(options, simpleentity.WithObserver(metrics.New(c.Registerer)))
	}

	svc, err := simpleentity.New(options...)
	if err != nil {
		return nil, err
	}
	built.Service = svc
	return built, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, built *Built) (simpleentity.Repository, error) {
	if !isPostgresURL(c.DatabaseURL) {
		return memory.New(), nil
	}

	pool, err := newPool(ctx, c.DatabaseURL, c.DBSchema)
	if err != nil {
		return nil, err
	}
	built.closers = append(built.closers, Closer(func() error { pool.Close(); return nil }))

	if c.DBMigrate {
		if err := repopg.Migrate(ctx, pool); err != nil {
			return nil, err
		}
	}
	return repopg.NewWithPool(pool), nil
}

func newPool(ctx context.Context, databaseURL, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	// Optionally set search_path for the connection
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres and optionally sets search_path for the session.
func PingPostgres(databaseURL, schema string) error {
	if databaseURL == "" {
		return errors.New("database_url is required")
	}
	pool, err := newPool(context.Background(), databaseURL, schema)
	if err != nil {
		return err
	}
	defer pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

// buildStorageBackend creates a BlobStore based on StorageURL
func (c *ServerConfig) buildStorageBackend(ctx context.Context, built *Built) (simpleentity.BlobStore, error) {
	spec, err := ParseStorageURL(c.StorageURL)
	if err != nil {
		return nil, err
	}
	keys, err := keyGenerator(c.ObjectKeys)
	if err != nil {
		return nil, err
	}

	switch spec.Type {
	case "memory":
		return memorystorage.New(memorystorage.WithKeyGenerator(keys)), nil

	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: spec.BaseDir, KeyGenerator: keys})

	case "s3":
		region := spec.Region
		if region == "" {
			region = c.AWSRegion
		}
		s3Config := s3storage.Config{
			Region:                 region,
			Bucket:                 spec.Bucket,
			AccessKeyID:            c.AWSAccessKeyID,
			SecretAccessKey:        c.AWSSecretAccessKey,
			Endpoint:               spec.Endpoint,
			UsePathStyle:           spec.UsePathStyle,
			Prefix:                 spec.Prefix,
			CreateBucketIfNotExist: spec.CreateBucket,
		}
		if spec.Prefix == "" {
			s3Config.KeyGenerator = keys
		}
		return s3storage.New(s3Config)

	case "gcs":
		gcsConfig := gcsstorage.Config{
			Bucket:          spec.Bucket,
			CredentialsFile: c.GCSCredentialsFile,
			Endpoint:        spec.Endpoint,
			Prefix:          spec.Prefix,
		}
		if spec.Prefix == "" {
			gcsConfig.KeyGenerator = keys
		}
		backend, err := gcsstorage.New(ctx, gcsConfig)
		if err != nil {
			return nil, err
		}
		built.closers = append(built.closers, backend)
		return backend, nil

	default:
		return nil, fmt.Errorf("unsupported storage backend type: %s", spec.Type)
	}
}
