package metrics_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/metrics"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/memory"
	memorystorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/memory"
)

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("x: %w", simpleentity.ErrEntityNotFound), "not_found"},
		{simpleentity.ErrAlreadyExists, "already_exists"},
		{simpleentity.ErrConflict, "conflict"},
		{simpleentity.ErrPermissionDenied, "permission_denied"},
		{simpleentity.ErrInvalidState, "invalid"},
		{&simpleentity.StorageError{Store: "blob", Op: "create", Err: errors.New("disk full")}, "io"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, metrics.Outcome(tt.err), "%v", tt.err)
	}
}

func TestObserver_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := metrics.New(reg)

	obs.OperationCompleted("create", nil, 10*time.Millisecond)
	obs.OperationCompleted("create", simpleentity.ErrInvalidParameter, time.Millisecond)
	obs.PayloadIngested("binary", 1024)
	obs.PayloadIngested("binary", 512)

	expected := `
# HELP simple_entity_operations_total Engine operations by name and outcome
# TYPE simple_entity_operations_total counter
simple_entity_operations_total{operation="create",outcome="invalid"} 1
simple_entity_operations_total{operation="create",outcome="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "simple_entity_operations_total"))

	expected = `
# HELP simple_entity_payload_bytes_total Payload bytes written to the blob store
# TYPE simple_entity_payload_bytes_total counter
simple_entity_payload_bytes_total{kind="binary"} 1536
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "simple_entity_payload_bytes_total"))
}

func TestObserver_WiredIntoService(t *testing.T) {
	reg := prometheus.NewRegistry()
	svc, err := simpleentity.New(
		simpleentity.WithRepository(memory.New()),
		simpleentity.WithBlobStore(memorystorage.New()),
		simpleentity.WithObserver(metrics.New(reg)),
	)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := svc.Create(ctx, &simpleentity.Entity{
		ContentModelID: simpleentity.ContentModelLevel1,
		Binaries: []*simpleentity.Binary{{
			Name: "data.txt", MimeType: "text/plain",
			Source: simpleentity.Source{Reader: strings.NewReader("hello")},
		}},
	})
	require.NoError(t, err)
	_, err = svc.Retrieve(ctx, "missing")
	require.Error(t, err)
	_, err = svc.Retrieve(ctx, id)
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(reg, "simple_entity_operations_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expected := `
# HELP simple_entity_payload_bytes_total Payload bytes written to the blob store
# TYPE simple_entity_payload_bytes_total counter
simple_entity_payload_bytes_total{kind="binary"} 5
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "simple_entity_payload_bytes_total"))
}
