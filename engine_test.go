package govern

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awalker/govern/internal/registry"
	"github.com/awalker/govern/internal/rules"
)

const testRegistry = `
architectures:
  domain:
    constraints:
      - rule: forbid_import
        value: fmt
      - rule: max_public_methods
        value: 1
`

func newTestEngine(t *testing.T, regYAML string, opts ...Option) *Engine {
	t.Helper()
	reg, err := registry.Parse([]byte(regYAML))
	require.NoError(t, err)
	e, err := New(filepath.Join(t.TempDir(), "index.db"), reg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func violationCodes(vs []rules.Violation) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Code)
	}
	return out
}

// =============================================================================
// Construction
// =============================================================================

func TestNew_UnknownRuleKindRejected(t *testing.T) {
	t.Parallel()
	reg, err := registry.Parse([]byte(`
architectures:
  domain:
    constraints:
      - rule: no_such_rule
        value: x
`))
	require.NoError(t, err)

	_, err = New(filepath.Join(t.TempDir(), "index.db"), reg)
	require.Error(t, err)
	var ierr *registry.IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "registry-unknown-rule", ierr.Code)
}

func TestSupports(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	assert.True(t, e.Supports("main.go"))
	assert.False(t, e.Supports("main.py"))
}

// =============================================================================
// Single-file pipeline
// =============================================================================

func TestCheckFile_SurfacesViolations(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() {}
func (s *Svc) Delete() { fmt.Println("gone") }
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, res.Err)
	assert.Equal(t, "domain", res.ArchID)
	assert.ElementsMatch(t,
		[]string{"forbidden-import", "max-public-methods"},
		violationCodes(res.Violations))
}

func TestCheckFile_CleanFilePasses(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
package svc

type Svc struct{}

func (s *Svc) Create() {}
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, res.Violations)
	assert.Empty(t, res.Err)
}

func TestCheckFile_NoArchDeclarationSkips(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "util.go", `package util

import "strings"

func Upper(s string) string { return strings.ToUpper(s) }
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Empty(t, res.Violations)

	// Skipped files still land in the cross-reference graph.
	n, err := e.Store().CountImports(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCheckFile_UnknownArchIsFatal(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", "// govern:arch no.such.arch\npackage svc\n")

	_, err := e.CheckFile(context.Background(), path)
	require.Error(t, err)
	var ierr *registry.IntegrityError
	assert.ErrorAs(t, err, &ierr)
}

func TestCheckFile_UnreadablePathReportedPerFile(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	res, err := e.CheckFile(context.Background(), filepath.Join(t.TempDir(), "absent.go"))
	require.NoError(t, err)
	assert.NotEmpty(t, res.Err)
}

func TestCheckFile_PersistsGraphEdges(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() { fmt.Println("hi") }
`)

	_, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)

	f, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, "domain", f.ArchID)
	assert.NotEmpty(t, f.Checksum)

	g, err := e.Store().GetImportGraph(path)
	require.NoError(t, err)
	require.Len(t, g.Imports, 1)
	assert.Equal(t, "fmt", g.Imports[0].Path)
}

// =============================================================================
// Override lifecycle
// =============================================================================

func TestCheckFile_ActiveOverrideSuppresses(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="startup banner" expires=2099-01-01
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() { fmt.Println("hi") }
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, violationCodes(res.Violations), "forbidden-import")
	assert.Contains(t, violationCodes(res.Suppressed), "forbidden-import")
}

func TestCheckFile_ExpiredOverrideResurfaces(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, testRegistry, WithClock(func() time.Time { return now }))
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="was temporary" expires=2026-01-15
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() { fmt.Println("hi") }
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, violationCodes(res.Violations), "forbidden-import")

	var codes []string
	for _, f := range res.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "override-expired")
}

func TestCheckFile_ExpiringOverrideStillSuppressesWithWarning(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, testRegistry, WithClock(func() time.Time { return now }))
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="migration underway" expires=2026-06-20
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() { fmt.Println("hi") }
`)

	res, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	assert.NotContains(t, violationCodes(res.Violations), "forbidden-import")

	var codes []string
	for _, f := range res.Findings {
		codes = append(codes, f.Code)
	}
	assert.Contains(t, codes, "override-expiring")
}

// =============================================================================
// Directory scan
// =============================================================================

func TestCheckDirectory_AggregatesReport(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry, WithWorkers(2))
	dir := t.TempDir()

	writeSource(t, dir, "a.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="legacy HTTP path" expires=2099-01-01
package a

import "fmt"

type A struct{}

func (a *A) Do() { fmt.Println("a") }
`)
	writeSource(t, dir, "b.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="legacy client" expires=2099-01-01
package b

import "fmt"

type B struct{}

func (b *B) Do() { fmt.Println("b") }
`)
	writeSource(t, dir, "c.go", `// govern:arch domain
package c

type C struct{}

func (c *C) Do() {}
`)

	report, err := e.CheckDirectory(context.Background(), dir)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Len(t, report.Files, 3)
	assert.Zero(t, report.ErrorCount)
	assert.True(t, report.Passed())

	// The same override in two files clusters into a promotion candidate.
	require.Len(t, report.Clusters, 1)
	assert.Equal(t, "forbid_import", report.Clusters[0].Rule)
	assert.Equal(t, 2, report.Clusters[0].FileCount)

	lastRun, err := e.Store().GetMetadata("last_run_id")
	require.NoError(t, err)
	assert.Equal(t, report.RunID, lastRun)

	sum, err := e.Store().GetMetadata("registry_checksum")
	require.NoError(t, err)
	assert.NotEmpty(t, sum)
}

func TestCheckDirectory_CountsSurvivingErrors(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	dir := t.TempDir()
	writeSource(t, dir, "bad.go", `// govern:arch domain
package bad

import "fmt"

type Bad struct{}

func (b *Bad) Do() { fmt.Println("x") }
`)

	report, err := e.CheckDirectory(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ErrorCount)
	assert.False(t, report.Passed())
}

func TestCheck_CancelledContext(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Check(ctx, []string{"a.go", "b.go"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOverrides_ScanWithoutValidation(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := newTestEngine(t, testRegistry, WithClock(func() time.Time { return now }))
	dir := t.TempDir()

	writeSource(t, dir, "a.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="debug output" expires=2099-01-01
package a
`)
	writeSource(t, dir, "b.go", `// govern:arch domain
// govern:allow rule=forbid_import value=fmt reason="debug output" expires=2025-01-01
package b
`)

	infos, clusters, findings, err := e.Overrides(dir)
	require.NoError(t, err)

	require.Len(t, infos, 2)
	statuses := map[string]string{}
	for _, o := range infos {
		statuses[filepath.Base(o.File)] = o.Status
	}
	assert.Equal(t, "active", statuses["a.go"])
	assert.Equal(t, "expired", statuses["b.go"])

	require.Len(t, clusters, 1)
	assert.Equal(t, 2, clusters[0].FileCount)
	assert.Empty(t, findings)
}

// =============================================================================
// Watch-loop hooks
// =============================================================================

func TestForget_DropsFileFromGraph(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
package svc

import "fmt"

type Svc struct{}

func (s *Svc) Create() { fmt.Println("hi") }
`)

	_, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, e.Forget(path))

	f, err := e.Store().FileByPath(path)
	require.NoError(t, err)
	assert.Nil(t, f)
}

// =============================================================================
// Health
// =============================================================================

func TestHealth_FlagsUnusedArchitecture(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, testRegistry+`  orphan:
    constraints:
      - rule: max_public_methods
        value: 3
`)
	path := writeSource(t, t.TempDir(), "svc.go", `// govern:arch domain
package svc

type Svc struct{}

func (s *Svc) Create() {}
`)
	_, err := e.CheckFile(context.Background(), path)
	require.NoError(t, err)

	findings, err := e.Health()
	require.NoError(t, err)

	var unused []string
	for _, f := range findings {
		if f.Code == "health-unused-architecture" {
			unused = append(unused, f.ArchID)
		}
	}
	assert.Equal(t, []string{"orphan"}, unused)
}
