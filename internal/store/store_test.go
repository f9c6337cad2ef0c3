package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate())
	t.Cleanup(func() { s.Close() })
	return s
}

func upsertTestFile(t *testing.T, s *Store, path, archID string) {
	t.Helper()
	require.NoError(t, s.UpsertFile(&File{
		Path:     path,
		ArchID:   archID,
		Checksum: "abc123",
		Mtime:    time.Now().Truncate(time.Second),
	}))
}

// =============================================================================
// Schema & lifecycle
// =============================================================================

func TestMigrate_AllTablesExist(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, table := range []string{"files", "imports", "entity_refs", "metadata"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
		assert.Equal(t, table, name)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.Migrate())
}

func TestMigrate_WALMode(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestMetadata_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	got, err := s.GetMetadata("missing")
	require.NoError(t, err)
	assert.Equal(t, "", got)

	require.NoError(t, s.SetMetadata("run", "r1"))
	require.NoError(t, s.SetMetadata("run", "r2"))
	got, err = s.GetMetadata("run")
	require.NoError(t, err)
	assert.Equal(t, "r2", got)
}

// =============================================================================
// File metadata
// =============================================================================

func TestFile_UpsertAndRetrieve(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	upsertTestFile(t, s, "src/a.go", "domain.service")
	got, err := s.FileByPath("src/a.go")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "domain.service", got.ArchID)

	// Upsert replaces in place.
	require.NoError(t, s.UpsertFile(&File{Path: "src/a.go", ArchID: "domain.entity", Checksum: "def"}))
	got, err = s.FileByPath("src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "domain.entity", got.ArchID)
	assert.Equal(t, "def", got.Checksum)
}

func TestFile_ByPathNotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.FileByPath("/nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFile_ArchUsageCounts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	upsertTestFile(t, s, "a.go", "domain")
	upsertTestFile(t, s, "b.go", "domain")
	upsertTestFile(t, s, "c.go", "api")

	counts, err := s.ArchUsageCounts()
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"domain": 2, "api": 1}, counts)
}

func TestFile_DeleteRemovesEdges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	upsertTestFile(t, s, "a.go", "domain")
	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"b.go", "c.go"}))
	require.NoError(t, s.ReplaceEntityRefsForFile("a.go", []EntityRef{
		{EntityName: "Widget", RefType: "call", LineNumber: 4},
	}))

	n, err := s.DeleteFile("a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n) // 2 imports + 1 ref + 1 file row

	imports, err := s.CountImports("a.go")
	require.NoError(t, err)
	assert.Zero(t, imports)
}

// =============================================================================
// Replace-for-file
// =============================================================================

func TestReplaceImports_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceImportsForFile("f.go", []string{"x.go", "y.go"}))
	require.NoError(t, s.ReplaceImportsForFile("f.go", []string{"x.go", "y.go"}))

	n, err := s.CountImports("f.go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestReplaceImports_DropsStaleEdges(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceImportsForFile("f.go", []string{"old.go"}))
	require.NoError(t, s.ReplaceImportsForFile("f.go", []string{"new.go"}))

	g, err := s.GetImportGraph("f.go")
	require.NoError(t, err)
	require.Len(t, g.Imports, 1)
	assert.Equal(t, "new.go", g.Imports[0].Path)
}

func TestReplaceImports_DoesNotTouchOtherFiles(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"shared.go"}))
	require.NoError(t, s.ReplaceImportsForFile("b.go", []string{"shared.go"}))
	require.NoError(t, s.ReplaceImportsForFile("a.go", nil))

	g, err := s.GetImportGraph("shared.go")
	require.NoError(t, err)
	require.Len(t, g.ImportedBy, 1)
	assert.Equal(t, "b.go", g.ImportedBy[0].Path)
}

func TestReplaceEntityRefs_Idempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	refs := []EntityRef{
		{EntityName: "Widget", RefType: "call", LineNumber: 4},
		{EntityName: "Widget", RefType: "type", LineNumber: 9},
	}
	require.NoError(t, s.ReplaceEntityRefsForFile("f.go", refs))
	require.NoError(t, s.ReplaceEntityRefsForFile("f.go", refs))

	n, err := s.CountEntityRefs("f.go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

// =============================================================================
// Import graph queries
// =============================================================================

func TestImportGraph_AnnotatesArchitecture(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	upsertTestFile(t, s, "svc.go", "domain.service")
	upsertTestFile(t, s, "repo.go", "domain.repository")
	require.NoError(t, s.ReplaceImportsForFile("svc.go", []string{"repo.go", "untracked.go"}))

	g, err := s.GetImportGraph("svc.go")
	require.NoError(t, err)
	require.Len(t, g.Imports, 2)
	assert.Equal(t, Neighbor{Path: "repo.go", ArchID: "domain.repository"}, g.Imports[0])
	assert.Equal(t, Neighbor{Path: "untracked.go", ArchID: ""}, g.Imports[1])

	g, err = s.GetImportGraph("repo.go")
	require.NoError(t, err)
	require.Len(t, g.ImportedBy, 1)
	assert.Equal(t, "domain.service", g.ImportedBy[0].ArchID)
}

func TestTransitiveImports_DepthBounded(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"b.go"}))
	require.NoError(t, s.ReplaceImportsForFile("b.go", []string{"c.go"}))
	require.NoError(t, s.ReplaceImportsForFile("c.go", []string{"d.go"}))

	got, err := s.GetTransitiveImports("a.go", 2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.go", "c.go"}, got)

	got, err = s.GetTransitiveImports("a.go", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.go", "c.go", "d.go"}, got)
}

// A cycle must yield a finite, deduplicated set, never an endless walk.
func TestTransitiveImports_CycleTerminates(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"b.go"}))
	require.NoError(t, s.ReplaceImportsForFile("b.go", []string{"a.go"}))

	got, err := s.GetTransitiveImports("a.go", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.go"}, got)

	importers, err := s.GetTransitiveImporters("a.go", 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b.go"}, importers)
}

func TestTransitiveImports_NegativeDepthRejected(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	_, err := s.GetTransitiveImports("a.go", -1)
	assert.Error(t, err)
}

func TestTransitiveImports_ZeroDepthEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"b.go"}))
	got, err := s.GetTransitiveImports("a.go", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// Entity references
// =============================================================================

func TestFilesForEntity_OrderedByArchThenPath(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	upsertTestFile(t, s, "z.go", "api")
	upsertTestFile(t, s, "a.go", "domain")
	upsertTestFile(t, s, "m.go", "api")

	for _, f := range []string{"z.go", "a.go", "m.go"} {
		require.NoError(t, s.ReplaceEntityRefsForFile(f, []EntityRef{
			{EntityName: "Widget", RefType: "call", LineNumber: 1},
		}))
	}

	got, err := s.GetFilesForEntity("Widget")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "m.go", got[0].Path) // api before domain, m before z
	assert.Equal(t, "z.go", got[1].Path)
	assert.Equal(t, "a.go", got[2].Path)
	assert.Equal(t, "domain", got[2].ArchID)
}

func TestFilesForEntity_Unknown(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	got, err := s.GetFilesForEntity("Nobody")
	require.NoError(t, err)
	assert.Empty(t, got)
}

// =============================================================================
// Scoped and global deletes
// =============================================================================

func TestDelete_ScopedAndGlobalCounts(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceImportsForFile("a.go", []string{"x.go", "y.go"}))
	require.NoError(t, s.ReplaceImportsForFile("b.go", []string{"x.go"}))

	n, err := s.DeleteImportsForFile("a.go")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteAllImports()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	total, err := s.CountImports("")
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDeleteEntityRefs_ScopedAndGlobal(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	require.NoError(t, s.ReplaceEntityRefsForFile("a.go", []EntityRef{
		{EntityName: "A", RefType: "call", LineNumber: 1},
		{EntityName: "B", RefType: "call", LineNumber: 2},
	}))
	require.NoError(t, s.ReplaceEntityRefsForFile("b.go", []EntityRef{
		{EntityName: "A", RefType: "call", LineNumber: 3},
	}))

	n, err := s.DeleteEntityRefsForFile("b.go")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.DeleteAllEntityRefs()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
