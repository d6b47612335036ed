package exportmodule

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantonx/exportra/internal/config"
	"github.com/mantonx/exportra/internal/database"
	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
)

func testCleanup(t *testing.T, tmpRoot string, store *ExportStore) *CleanupService {
	t.Helper()
	cfg := config.ExportConfig{
		TmpRoot:      tmpRoot,
		RetentionAge: time.Hour,
	}
	return NewCleanupService(hclog.NewNullLogger(), cfg, store, nil)
}

func makeSessionDir(t *testing.T, tmpRoot, id string, age time.Duration) string {
	t.Helper()
	dir := filepath.Join(tmpRoot, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "frame-0000.png"), []byte("x"), 0644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(dir, old, old))
	return dir
}

func TestSweepRemovesAbandonedDirs(t *testing.T) {
	tmpRoot := t.TempDir()
	store := NewExportStore(nil, hclog.NewNullLogger())
	svc := testCleanup(t, tmpRoot, store)

	abandoned := makeSessionDir(t, tmpRoot, uuid.New().String(), 2*time.Hour)
	fresh := makeSessionDir(t, tmpRoot, uuid.New().String(), time.Minute)

	run := svc.Sweep()

	assert.Equal(t, 1, run.DirsRemoved)
	assert.Greater(t, run.BytesFreed, int64(0))
	_, err := os.Stat(abandoned)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "recent dirs must survive the sweep")
}

func TestSweepSkipsActiveSessions(t *testing.T) {
	tmpRoot := t.TempDir()
	store := testStore(t)
	svc := testCleanup(t, tmpRoot, store)

	id := uuid.New().String()
	dir := makeSessionDir(t, tmpRoot, id, 2*time.Hour)
	session := newExportSession(id, tmpRoot, nil, hclog.NewNullLogger())
	require.NoError(t, store.CreateRecord(session))
	store.UpdateState(id, StateRendering)

	run := svc.Sweep()

	assert.Equal(t, 1, run.ActiveSkipped)
	_, err := os.Stat(dir)
	assert.NoError(t, err, "active session dir must not be removed")
}

func TestSweepIgnoresNonSessionEntries(t *testing.T) {
	tmpRoot := t.TempDir()
	store := NewExportStore(nil, hclog.NewNullLogger())
	svc := testCleanup(t, tmpRoot, store)

	exports := filepath.Join(tmpRoot, "exports")
	require.NoError(t, os.MkdirAll(exports, 0755))
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(exports, old, old))

	run := svc.Sweep()

	assert.Zero(t, run.DirsRemoved)
	_, err := os.Stat(exports)
	assert.NoError(t, err, "exports dir must never be swept")
}

func TestSweepExpiresTerminalRecords(t *testing.T) {
	tmpRoot := t.TempDir()
	store := testStore(t)
	svc := testCleanup(t, tmpRoot, store)

	session := storedSession(t, store, uuid.New().String())
	store.MarkFailed(session.ID, "internal", "x")
	require.NoError(t, store.db.Model(&database.ExportSessionRecord{}).
		Where("id = ?", session.ID).
		Update("last_accessed", time.Now().Add(-2*time.Hour)).Error)

	run := svc.Sweep()
	assert.Equal(t, int64(1), run.RecordsExpired)
}

func TestSweepAccumulatesStats(t *testing.T) {
	tmpRoot := t.TempDir()
	store := NewExportStore(nil, hclog.NewNullLogger())
	svc := testCleanup(t, tmpRoot, store)

	makeSessionDir(t, tmpRoot, uuid.New().String(), 2*time.Hour)
	svc.Sweep()
	makeSessionDir(t, tmpRoot, uuid.New().String(), 2*time.Hour)
	svc.Sweep()

	stats := svc.GetStats()
	assert.Equal(t, 2, stats.TotalSweeps)
	assert.Equal(t, 2, stats.TotalDirsRemove)
}

func TestLooksLikeSessionDir(t *testing.T) {
	assert.True(t, looksLikeSessionDir(uuid.New().String()))
	assert.False(t, looksLikeSessionDir("exports"))
	assert.False(t, looksLikeSessionDir("session-1"))
	assert.False(t, looksLikeSessionDir(""))
}

func TestSweepReapsTerminalSessions(t *testing.T) {
	m := testManager(t, &stubEncoder{})
	session, err := m.StartExport(context.Background(), copySnapshot(t), ExportOptions{})
	require.NoError(t, err)
	waitDone(t, session)
	require.NoError(t, session.Err())

	cfg := config.ExportConfig{
		TmpRoot:      m.cfg.TmpRoot,
		RetentionAge: time.Nanosecond,
	}
	svc := NewCleanupService(hclog.NewNullLogger(), cfg, m.store, m)

	run := svc.Sweep()
	assert.Equal(t, 1, run.SessionsReaped)
	_, err = m.GetSession(session.ID)
	assert.ErrorIs(t, err, experrors.ErrSessionNotFound)
}
