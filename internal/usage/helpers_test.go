package usage

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harvestcrm/telemetryd/internal/content"
	"github.com/harvestcrm/telemetryd/internal/settings"
	"github.com/harvestcrm/telemetryd/internal/sqliteutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqliteutil.Open(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestContentStore(t *testing.T, db *sql.DB) *content.Store {
	t.Helper()
	store := content.NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func newTestSettingsStore(t *testing.T, db *sql.DB) *settings.Store {
	t.Helper()
	store := settings.NewStore(db)
	require.NoError(t, store.Init(context.Background()))
	return store
}
