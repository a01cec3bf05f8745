package content

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harvestcrm/telemetryd/internal/sqliteutil"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func insertContact(t *testing.T, store *Store, meta map[string]string) int64 {
	t.Helper()
	id, err := store.InsertRecord(context.Background(),
		Record{Type: TypeContact, Status: StatusPublished, Title: "contact"}, meta)
	require.NoError(t, err)
	return id
}

func insertGroup(t *testing.T, store *Store, meta map[string]string) int64 {
	t.Helper()
	id, err := store.InsertRecord(context.Background(),
		Record{Type: TypeGroup, Status: StatusPublished, Title: "group"}, meta)
	require.NoError(t, err)
	return id
}

func TestUsageCountsEmpty(t *testing.T) {
	store := newTestStore(t)

	counts, err := store.UsageCounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, UsageCounts{}, counts)
}

func TestUsageCountsContacts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertContact(t, store, map[string]string{MetaOverallStatus: StatusActive})
	insertContact(t, store, nil)
	insertContact(t, store, map[string]string{MetaDuplicateOf: "1"})

	counts, err := store.UsageCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts.ActiveContacts)
	// The merged duplicate is excluded from the total.
	require.Equal(t, 2, counts.TotalContacts)
}

func TestUsageCountsGroupsAndChurches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertGroup(t, store, map[string]string{MetaGroupStatus: StatusActive})
	insertGroup(t, store, map[string]string{MetaGroupStatus: "inactive", MetaGroupType: GroupTypeChurch})
	insertGroup(t, store, map[string]string{MetaGroupStatus: StatusActive, MetaGroupType: GroupTypeChurch})

	// An unpublished church must not count anywhere.
	_, err := store.InsertRecord(ctx,
		Record{Type: TypeGroup, Status: "draft", Title: "draft church"},
		map[string]string{MetaGroupStatus: StatusActive, MetaGroupType: GroupTypeChurch})
	require.NoError(t, err)

	counts, err := store.UsageCounts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts.ActiveGroups)
	require.Equal(t, 3, counts.TotalGroups)
	require.Equal(t, 1, counts.ActiveChurches)
	require.Equal(t, 2, counts.TotalChurches)
}

func TestUsageCountsDemoDataMarker(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	counts, err := store.UsageCounts(ctx)
	require.NoError(t, err)
	require.False(t, counts.HasDemoData)

	// The marker counts regardless of its value.
	insertContact(t, store, map[string]string{MetaSample: ""})

	counts, err = store.UsageCounts(ctx)
	require.NoError(t, err)
	require.True(t, counts.HasDemoData)
}

func TestCountDistinctActorsWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.LogActivity(ctx, 1, ActionLoggedIn, now))
	require.NoError(t, store.LogActivity(ctx, 1, ActionLoggedIn, now.AddDate(0, 0, -2)))
	require.NoError(t, store.LogActivity(ctx, 2, ActionLoggedIn, now.AddDate(0, 0, -29)))
	require.NoError(t, store.LogActivity(ctx, 3, ActionLoggedIn, now.AddDate(0, 0, -45)))
	// Anonymous entries never count.
	require.NoError(t, store.LogActivity(ctx, 0, ActionLoggedIn, now))
	// Other actions never count.
	require.NoError(t, store.LogActivity(ctx, 4, "viewed_page", now))

	count, err := store.CountDistinctActors(ctx, ActionLoggedIn, 30)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCountUsers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.CountUsers(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = store.InsertUser(ctx, "admin")
	require.NoError(t, err)
	_, err = store.InsertUser(ctx, "editor")
	require.NoError(t, err)

	count, err = store.CountUsers(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestCountWhere(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertGroup(t, store, map[string]string{MetaGroupStatus: StatusActive, MetaGroupType: GroupTypeChurch})
	insertGroup(t, store, map[string]string{MetaGroupType: GroupTypeChurch})
	insertContact(t, store, nil)

	count, err := store.CountWhere(ctx, TypeGroup, StatusPublished)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	count, err = store.CountWhere(ctx, TypeGroup, StatusPublished,
		MetaFilter{Key: MetaGroupStatus, Value: StatusActive},
		MetaFilter{Key: MetaGroupType, Value: GroupTypeChurch})
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestExistsMetadataKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	exists, err := store.ExistsMetadataKey(ctx, MetaSample)
	require.NoError(t, err)
	require.False(t, exists)

	insertContact(t, store, map[string]string{MetaSample: "1"})

	exists, err = store.ExistsMetadataKey(ctx, MetaSample)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestSeedDemoData(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	created, err := store.SeedDemoData(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, created)

	counts, err := store.UsageCounts(ctx)
	require.NoError(t, err)
	require.True(t, counts.HasDemoData)
	require.Equal(t, 2, counts.TotalContacts)
	require.Equal(t, 1, counts.ActiveChurches)
}
