package locks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/strata/internal/orm/backend"
	"github.com/conduit-lang/strata/internal/orm/backend/archive"
	"github.com/conduit-lang/strata/internal/orm/backend/relational"
	"github.com/conduit-lang/strata/internal/orm/record"
	"github.com/conduit-lang/strata/internal/orm/schema"
	"github.com/conduit-lang/strata/internal/testing/fixtures"
)

func setup(t *testing.T, driver string) (*Manager, *record.Record, *schema.Registry) {
	t.Helper()
	reg := fixtures.Registry(t)
	_, err := reg.Register(Definition())
	require.NoError(t, err)

	var be backend.Backend
	switch driver {
	case "archive":
		be, err = archive.Open(archive.Config{Path: t.TempDir(), InMemoryBlobs: true}, reg)
	default:
		be, err = relational.Open(relational.Config{Driver: "sqlite", URL: ":memory:"}, reg)
	}
	require.NoError(t, err)
	t.Cleanup(func() { be.Close() })
	for _, rs := range reg.Concrete() {
		require.NoError(t, be.EnsureSchema(context.Background(), rs))
	}

	rec := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "locked"})
	_, err = be.Write(context.Background(), rec)
	require.NoError(t, err)

	stamp := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	return NewManager(be, reg, WithClock(func() time.Time { return stamp })), rec, reg
}

func TestLockOwnership(t *testing.T) {
	for _, driver := range []string{"archive", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			m, rec, _ := setup(t, driver)
			ctx := context.Background()

			ok, err := m.Lock(ctx, "A", rec, "title")
			require.NoError(t, err)
			assert.True(t, ok, "A acquires the lock")

			ok, err = m.Lock(ctx, "B", rec, "title")
			require.NoError(t, err)
			assert.False(t, ok, "B cannot take A's lock")

			ok, err = m.Unlock(ctx, "B", rec, "title")
			require.NoError(t, err)
			assert.False(t, ok, "B cannot release A's lock")

			actor, err := m.LockedBy(ctx, rec, "title")
			require.NoError(t, err)
			assert.Equal(t, "A", actor)

			ok, err = m.Lock(ctx, "A", rec, "title")
			require.NoError(t, err)
			assert.True(t, ok, "relocking by the owner succeeds")

			ok, err = m.Unlock(ctx, "A", rec, "title")
			require.NoError(t, err)
			assert.True(t, ok, "A releases the lock")

			locked, err := m.IsLocked(ctx, rec, "title")
			require.NoError(t, err)
			assert.False(t, locked)

			ok, err = m.Unlock(ctx, "A", rec, "title")
			require.NoError(t, err)
			assert.False(t, ok, "nothing left to release")

			ok, err = m.Lock(ctx, "B", rec, "title")
			require.NoError(t, err)
			assert.True(t, ok, "B acquires the released lock")
		})
	}
}

func TestListLocks(t *testing.T) {
	m, rec, reg := setup(t, "archive")
	ctx := context.Background()

	for field, actor := range map[string]string{"status": "A", "title": "B", "body": "A"} {
		ok, err := m.Lock(ctx, actor, rec, field)
		require.NoError(t, err)
		require.True(t, ok)
	}

	other := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "other"})
	require.NoError(t, other.AssignID(rec.ID()+1))
	ok, err := m.Lock(ctx, "C", other, "title")
	require.NoError(t, err)
	require.True(t, ok)

	locks, err := m.ListLocks(ctx, rec)
	require.NoError(t, err)
	require.Len(t, locks, 3)
	var got []string
	for _, l := range locks {
		got = append(got, l.Field+":"+l.Actor)
		assert.True(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Equal(l.Created))
	}
	assert.Equal(t, []string{"title:B", "body:A", "status:A"}, got, "schema field order")
}

func TestLockErrors(t *testing.T) {
	m, rec, reg := setup(t, "archive")
	ctx := context.Background()

	_, err := m.Lock(ctx, "", rec, "title")
	assert.ErrorIs(t, err, ErrNoActor)

	_, err = m.Lock(ctx, "A", rec, "nope")
	assert.True(t, record.IsFieldError(err))

	_, err = m.Lock(ctx, "A", rec, "id")
	assert.True(t, record.IsFieldError(err))

	unsaved := fixtures.NewRecord(t, reg, "post", map[string]interface{}{"title": "x"})
	_, err = m.IsLocked(ctx, unsaved, "title")
	assert.True(t, errors.Is(err, backend.ErrUnsavedReference))
}

func TestRelease(t *testing.T) {
	m, rec, _ := setup(t, "sqlite")
	ctx := context.Background()

	for _, field := range []string{"title", "body"} {
		ok, err := m.Lock(ctx, "A", rec, field)
		require.NoError(t, err)
		require.True(t, ok)
	}

	n, err := m.Release(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	locks, err := m.ListLocks(ctx, rec)
	require.NoError(t, err)
	assert.Empty(t, locks)
}
