package availability

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	provider := uuid.New()

	require.NoError(t, store.Reserve(ctx, provider, "10_01_2025", "10:00 AM"))

	err := store.Reserve(ctx, provider, "10_01_2025", "10:00 AM")
	assert.ErrorIs(t, err, ErrAlreadyReserved)

	// same time on another date or provider is fine
	assert.NoError(t, store.Reserve(ctx, provider, "11_01_2025", "10:00 AM"))
	assert.NoError(t, store.Reserve(ctx, uuid.New(), "10_01_2025", "10:00 AM"))
}

func TestReserveConcurrent(t *testing.T) {
	store := NewMemoryStore()
	provider := uuid.New()

	const callers = 50
	var wg sync.WaitGroup
	results := make(chan error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- store.Reserve(context.Background(), provider, "10_01_2025", "10:00 AM")
		}()
	}
	wg.Wait()
	close(results)

	var wins, conflicts int
	for err := range results {
		switch err {
		case nil:
			wins++
		case ErrAlreadyReserved:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, wins, "exactly one caller may reserve the slot")
	assert.Equal(t, callers-1, conflicts)
}

func TestReleaseIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	provider := uuid.New()

	require.NoError(t, store.Reserve(ctx, provider, "10_01_2025", "10:00 AM"))
	require.NoError(t, store.Release(ctx, provider, "10_01_2025", "10:00 AM"))

	// releasing again, or releasing something never reserved, is a no-op
	assert.NoError(t, store.Release(ctx, provider, "10_01_2025", "10:00 AM"))
	assert.NoError(t, store.Release(ctx, provider, "10_01_2025", "09:00 AM"))

	taken, err := store.IsReserved(ctx, provider, "10_01_2025", "10:00 AM")
	require.NoError(t, err)
	assert.False(t, taken)

	// slot is bookable again after release
	assert.NoError(t, store.Reserve(ctx, provider, "10_01_2025", "10:00 AM"))
}

func TestReservedTimesSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	provider := uuid.New()

	for _, label := range []string{"04:00 PM", "09:00 AM", "11:30 AM"} {
		require.NoError(t, store.Reserve(ctx, provider, "10_01_2025", label))
	}

	times, err := store.ReservedTimes(ctx, provider, "10_01_2025")
	require.NoError(t, err)
	assert.Equal(t, []string{"04:00 PM", "09:00 AM", "11:30 AM"}, times)
}
