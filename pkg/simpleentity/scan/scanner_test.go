package scan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-entity/pkg/simpleentity"
	"github.com/tendant/simple-entity/pkg/simpleentity/repo/memory"
	"github.com/tendant/simple-entity/pkg/simpleentity/scan"
	memorystorage "github.com/tendant/simple-entity/pkg/simpleentity/storage/memory"
)

func setupService(t *testing.T, n int) (simpleentity.Service, []string) {
	t.Helper()
	svc, err := simpleentity.New(
		simpleentity.WithRepository(memory.New()),
		simpleentity.WithBlobStore(memorystorage.New()),
	)
	require.NoError(t, err)

	ids := make([]string, 0, n)
	for range n {
		id, err := svc.Create(context.Background(), &simpleentity.Entity{ContentModelID: simpleentity.ContentModelLevel1})
		require.NoError(t, err)
		require.NoError(t, svc.Submit(context.Background(), id))
		ids = append(ids, id)
	}
	return svc, ids
}

func TestScan_ProcessesEveryMatch(t *testing.T) {
	svc, ids := setupService(t, 7)
	ctx := context.Background()

	var progress [][2]int
	result, err := scan.New(svc, nil).Scan(ctx, scan.Options{
		Query:     simpleentity.SearchQuery{State: simpleentity.StateSubmitted},
		BatchSize: 3,
		// publishing removes entities from the query's result set
		Processor: scan.ProcessorFunc(func(ctx context.Context, e *simpleentity.Entity) error {
			return svc.Publish(ctx, e.ID)
		}),
		OnProgress: func(processed, total int) {
			progress = append(progress, [2]int{processed, total})
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, result.TotalFound)
	assert.Equal(t, 7, result.TotalProcessed)
	assert.Zero(t, result.TotalFailed)
	assert.Equal(t, [][2]int{{3, 7}, {6, 7}, {7, 7}}, progress)

	for _, id := range ids {
		e, err := svc.Retrieve(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, simpleentity.StatePublished, e.State)
	}
}

func TestScan_RecordsFailures(t *testing.T) {
	svc, ids := setupService(t, 3)

	result, err := scan.New(svc, nil).ForEach(context.Background(), simpleentity.SearchQuery{}, func(ctx context.Context, e *simpleentity.Entity) error {
		if e.ID == ids[1] {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalProcessed)
	assert.Equal(t, 1, result.TotalFailed)
	assert.Equal(t, []string{ids[1]}, result.FailedIDs)
}

func TestScan_DryRun(t *testing.T) {
	svc, ids := setupService(t, 2)
	ctx := context.Background()

	result, err := scan.New(svc, nil).Scan(ctx, scan.Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalProcessed)

	e, err := svc.Retrieve(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, simpleentity.StateSubmitted, e.State)
}

func TestScan_RequiresProcessor(t *testing.T) {
	svc, _ := setupService(t, 0)
	_, err := scan.New(svc, nil).Scan(context.Background(), scan.Options{})
	assert.ErrorIs(t, err, simpleentity.ErrInvalidParameter)
}
