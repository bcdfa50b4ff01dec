package adapters

import (
	"context"
	"os"
	"testing"
	"time"

	"handoff-coordinator/internal/core/geo"
	"handoff-coordinator/internal/core/postgres"
	"handoff-coordinator/internal/features/deliveries/domain"
	"handoff-coordinator/internal/features/deliveries/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newPostgresRepository connects to HANDOFF_TEST_DATABASE_URL and starts
// from an empty table. Tests are skipped when it is unset.
func newPostgresRepository(t *testing.T) *PostgresRepository {
	t.Helper()
	url := os.Getenv("HANDOFF_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("HANDOFF_TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := postgres.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewPostgresRepository(pool)
	require.NoError(t, repo.InitSchema(ctx))
	_, err = pool.Exec(ctx, `TRUNCATE deliveries`)
	require.NoError(t, err)
	return repo
}

func TestPostgresRepository_Lifecycle(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	d := testDelivery("d-1", "op-1", domain.StatusAssigned, base)
	require.NoError(t, repo.Create(ctx, d))
	assert.ErrorIs(t, repo.Create(ctx, d), domain.ErrDuplicateDelivery)

	got, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAssigned, got.Status)
	assert.True(t, got.AssignedAt.Equal(base))

	started := base.Add(time.Minute)
	updated, err := repo.Update(ctx, "d-1", domain.StatusAssigned, domain.Patch{Status: domain.StatusInTransit, StartedAt: &started})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInTransit, updated.Status)
	assert.True(t, updated.StartedAt.Equal(started))

	_, err = repo.Update(ctx, "d-1", domain.StatusAssigned, domain.Patch{Status: domain.StatusCancelled})
	assert.ErrorIs(t, err, ports.ErrStatusConflict)

	_, err = repo.Update(ctx, "missing", domain.StatusAssigned, domain.Patch{Status: domain.StatusInTransit})
	assert.ErrorIs(t, err, domain.ErrDeliveryNotFound)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrDeliveryNotFound)
}

func TestPostgresRepository_OperatorLocation(t *testing.T) {
	repo := newPostgresRepository(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, testDelivery("d-1", "op-1", domain.StatusAssigned, base)))
	_, err := repo.Update(ctx, "d-1", domain.StatusAssigned, domain.Patch{Status: domain.StatusInTransit})
	require.NoError(t, err)

	n, err := repo.UpdateOperatorLocation(ctx, "op-1", geo.Coordinate{Lat: 14.62, Lng: 121}, base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = repo.UpdateOperatorLocation(ctx, "op-1", geo.Coordinate{Lat: 14.5, Lng: 121}, base)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := repo.Get(ctx, "d-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastKnownOperatorLocation)
	assert.Equal(t, 14.62, got.LastKnownOperatorLocation.Lat)

	active, err := repo.ListByOperator(ctx, "op-1", true)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	inTransit, err := repo.ListByStatus(ctx, domain.StatusInTransit)
	require.NoError(t, err)
	assert.Len(t, inTransit, 1)
}
