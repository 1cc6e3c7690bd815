package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "memory", cfg.DatabaseURL)
	assert.Equal(t, StoreIndex, cfg.VersionStore)
	assert.Equal(t, "memory://", cfg.StorageURL)
	assert.Equal(t, simpleentity.DefaultMaxDepth, cfg.MaxDepth)
}

func TestParseStorageURL(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    StorageSpec
		wantErr bool
	}{
		{"empty defaults to memory", "", StorageSpec{Type: "memory"}, false},
		{"memory keyword", "memory", StorageSpec{Type: "memory"}, false},
		{"memory URL", "memory://", StorageSpec{Type: "memory"}, false},
		{"filesystem", "file:///var/data", StorageSpec{Type: "fs", BaseDir: "/var/data"}, false},
		{"relative filesystem", "file://./data", StorageSpec{Type: "fs", BaseDir: "./data"}, false},
		{"s3 bucket", "s3://bucket", StorageSpec{Type: "s3", Bucket: "bucket"}, false},
		{
			"s3 with params", "s3://bucket/entities?region=eu-west-1&endpoint=http://localhost:9000&path_style=true",
			StorageSpec{Type: "s3", Bucket: "bucket", Prefix: "entities", Region: "eu-west-1", Endpoint: "http://localhost:9000", UsePathStyle: true},
			false,
		},
		{"gcs bucket", "gs://bucket/prefix", StorageSpec{Type: "gcs", Bucket: "bucket", Prefix: "prefix"}, false},
		{"s3 without bucket", "s3://", StorageSpec{}, true},
		{"bad boolean", "s3://bucket?path_style=maybe", StorageSpec{}, true},
		{"unsupported scheme", "ftp://host/path", StorageSpec{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStorageURL(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWithEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_URL", "file:///tmp/entities")
	t.Setenv("ENABLE_RIGHTS", "true")
	t.Setenv("ADMINS", "alice,bob")
	t.Setenv("MAX_DEPTH", "12")

	cfg, err := Load(WithEnv())
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "file:///tmp/entities", cfg.StorageURL)
	assert.True(t, cfg.EnableRights)
	assert.Equal(t, []string{"alice", "bob"}, cfg.Admins)
	assert.Equal(t, 12, cfg.MaxDepth)
	// unset variables keep their defaults
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, StoreIndex, cfg.AuditStore)
}

func TestWithEnvInvalidDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "mysql://localhost/db")
	_, err := Load(WithEnv())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown version store", []Option{WithVersionStore("redis")}},
		{"sql without dsn", []Option{WithAuditStore(StoreSQL)}},
		{"badger without path", []Option{WithVersionStore(StoreBadger)}},
		{"unknown object keys", []Option{WithObjectKeys("random")}},
		{"non positive depth", []Option{WithMaxDepth(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.opts...)
			assert.Error(t, err)
		})
	}

	_, err := Load(WithPort(""))
	assert.Error(t, err)
	_, err = Load(WithStorageURL("ftp://nope"))
	assert.Error(t, err)
}

func TestBuildService_Memory(t *testing.T) {
	cfg, err := Load(WithRights("admin"), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	built, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	defer built.Close()
	require.NotNil(t, built.Rights)

	ctx := simpleentity.WithAgent(context.Background(), "admin")
	id, err := built.Service.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
	require.NoError(t, err)

	_, err = built.Service.Retrieve(simpleentity.WithAgent(context.Background(), "stranger"), id)
	assert.ErrorIs(t, err, simpleentity.ErrPermissionDenied)
}

func TestBuildService_FilesystemSQLAndBadger(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(
		WithStorageURL("file://"+filepath.Join(dir, "blobs")),
		WithSQLStore("sqlite", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared"),
		WithAuditStore(StoreSQL),
		WithVersionStore(StoreBadger),
		WithBadgerPath(filepath.Join(dir, "badger")),
		WithMetrics(false),
	)
	require.NoError(t, err)

	built, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	defer built.Close()

	ctx := context.Background()
	id, err := built.Service.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Binaries: []*simpleentity.Binary{{
			Name: "readme.txt", MimeType: "text/plain",
			Source: simpleentity.Source{Reader: strings.NewReader("hello")},
		}},
	})
	require.NoError(t, err)

	require.NoError(t, built.Service.Update(ctx, &simpleentity.Entity{ID: id, ContentModelID: simpleentity.ContentModelLevel1, Label: "renamed"}))

	versions, err := built.Service.OldVersions(ctx, id)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Len(t, versions[0].Entity.Binaries, 1)

	records, err := built.Service.AuditRecords(ctx, id, 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	actions := []simpleentity.AuditAction{records[0].Action, records[1].Action}
	assert.ElementsMatch(t, []simpleentity.AuditAction{simpleentity.AuditCreate, simpleentity.AuditUpdate}, actions)
}

func TestBuildService_BadgerHistory(t *testing.T) {
	cfg, err := Load(
		WithVersionStore(StoreBadger),
		WithAuditStore(StoreBadger),
		WithBadgerPath(filepath.Join(t.TempDir(), "badger")),
		WithMetrics(false),
	)
	require.NoError(t, err)

	built, err := cfg.BuildService(context.Background())
	require.NoError(t, err)
	defer built.Close()

	ctx := context.Background()
	id, err := built.Service.Create(ctx, &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
	require.NoError(t, err)
	require.NoError(t, built.Service.Publish(ctx, id))

	records, err := built.Service.AuditRecords(ctx, id, 0, 10)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestUsage(t *testing.T) {
	usage, err := Usage()
	require.NoError(t, err)
	assert.Contains(t, usage, "STORAGE_URL")
}
