package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

// WithEnv applies environment variable overrides. Variables that are unset
// keep the value configured so far.
//
// Server:
//
//	PORT, ENVIRONMENT
//
// Index database:
//
//	DATABASE_URL - "memory" (default) or "postgresql://..."
//	DB_SCHEMA, DB_MIGRATE
//
// Versions and audit:
//
//	VERSION_STORE - index (default), memory, sql, badger
//	AUDIT_STORE   - index (default), memory, sql
//	SQL_DIALECT, SQL_DSN, BADGER_PATH
//
// Storage:
//
//	STORAGE_URL - one of
//	              "memory://" (default)
//	              "file:///path/to/data"
//	              "s3://bucket/prefix?region=us-east-1&endpoint=http://localhost:9000&path_style=true"
//	              "gs://bucket/prefix"
//	OBJECT_KEYS, AWS_ACCESS_KEY_ID, AWS_SECRET_ACCESS_KEY, AWS_REGION,
//	GOOGLE_APPLICATION_CREDENTIALS
//
// Access and observability:
//
//	JWT_SECRET, ENABLE_RIGHTS, ADMINS (comma separated), ENABLE_METRICS, MAX_DEPTH
func WithEnv() Option {
	return func(c *ServerConfig) error {
		if err := cleanenv.ReadEnv(c); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		return nil
	}
}

// WithConfigFile reads a YAML (or .env) file and then applies environment
// overrides on top of it.
func WithConfigFile(path string) Option {
	return func(c *ServerConfig) error {
		if path == "" {
			return nil
		}
		if err := cleanenv.ReadConfig(path, c); err != nil {
			return fmt.Errorf("read config file %s: %w", path, err)
		}
		return nil
	}
}

// Usage returns a description of every environment variable
func Usage() (string, error) {
	var cfg ServerConfig
	return cleanenv.GetDescription(&cfg, nil)
}
