package config

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithEnvironment sets the environment (development, production, testing)
func WithEnvironment(env string) Option {
	return func(c *ServerConfig) error {
		if env == "" {
			return fmt.Errorf("environment cannot be empty")
		}
		c.Environment = env
		return nil
	}
}

// WithDatabase sets the index database, "memory" or a postgres URL
func WithDatabase(url string) Option {
	return func(c *ServerConfig) error {
		if url != "memory" && !isPostgresURL(url) {
			return fmt.Errorf("database must be 'memory' or a postgres URL, got: %s", url)
		}
		c.DatabaseURL = url
		return nil
	}
}

// WithDatabaseSchema sets the database schema (for Postgres)
func WithDatabaseSchema(schema string) Option {
	return func(c *ServerConfig) error {
		c.DBSchema = schema
		return nil
	}
}

// WithVersionStore selects where entity snapshots are kept
func WithVersionStore(kind string) Option {
	return func(c *ServerConfig) error {
		c.VersionStore = kind
		return nil
	}
}

// WithAuditStore selects where audit records are kept
func WithAuditStore(kind string) Option {
	return func(c *ServerConfig) error {
		c.AuditStore = kind
		return nil
	}
}

// WithSQLStore sets the gorm dialect and DSN used by the sql store
func WithSQLStore(dialect, dsn string) Option {
	return func(c *ServerConfig) error {
		if dsn == "" {
			return fmt.Errorf("sql dsn cannot be empty")
		}
		c.SQLDialect = dialect
		c.SQLDSN = dsn
		return nil
	}
}

// WithBadgerPath sets the badger database directory
func WithBadgerPath(path string) Option {
	return func(c *ServerConfig) error {
		c.BadgerPath = path
		return nil
	}
}

// WithStorageURL sets the blob storage location
func WithStorageURL(url string) Option {
	return func(c *ServerConfig) error {
		if _, err := ParseStorageURL(url); err != nil {
			return err
		}
		c.StorageURL = url
		return nil
	}
}

// WithObjectKeys sets the object key scheme (git-like, wide, hashed, flat)
func WithObjectKeys(scheme string) Option {
	return func(c *ServerConfig) error {
		c.ObjectKeys = scheme
		return nil
	}
}

// WithMaxDepth bounds hierarchy walks
func WithMaxDepth(depth int) Option {
	return func(c *ServerConfig) error {
		c.MaxDepth = depth
		return nil
	}
}

// WithJWTSecret sets the HS256 secret used to verify caller tokens
func WithJWTSecret(secret string) Option {
	return func(c *ServerConfig) error {
		c.JWTSecret = secret
		return nil
	}
}

// WithRights enables rights evaluation with the given global admins
func WithRights(admins ...string) Option {
	return func(c *ServerConfig) error {
		c.EnableRights = true
		c.Admins = append(c.Admins, admins...)
		return nil
	}
}

// WithMetrics enables or disables Prometheus metrics
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.EnableMetrics = enabled
		return nil
	}
}

// WithRegisterer sets where metrics are registered
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *ServerConfig) error {
		c.Registerer = reg
		return nil
	}
}
