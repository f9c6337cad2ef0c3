package govern

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/awalker/govern/internal/health"
	"github.com/awalker/govern/internal/model"
	"github.com/awalker/govern/internal/override"
	"github.com/awalker/govern/internal/parser"
	"github.com/awalker/govern/internal/registry"
	"github.com/awalker/govern/internal/rules"
	"github.com/awalker/govern/internal/store"
)

// defaultWarnWindow is how far ahead of expiry an override counts as
// "expiring".
const defaultWarnWindow = 30 * 24 * time.Hour

// Engine orchestrates the governance pipeline: parse each file into a
// semantic model, resolve its declared architecture to a constraint set,
// evaluate the set, filter violations through overrides, and persist the
// file's edges to the cross-reference graph.
type Engine struct {
	store      *store.Store
	reg        *registry.Registry
	resolver   *registry.Resolver
	rules      *rules.Engine
	parsers    []model.Parser
	log        *zap.Logger
	workers    int
	warnWindow time.Duration
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithWorkers bounds the per-file worker pool. Defaults to 4.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithParsers replaces the default front ends.
func WithParsers(parsers ...model.Parser) Option {
	return func(e *Engine) { e.parsers = parsers }
}

// WithWarnWindow sets the override expiry warning window.
func WithWarnWindow(d time.Duration) Option {
	return func(e *Engine) { e.warnWindow = d }
}

// WithClock overrides the time source; override expiry tests use this.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithScriptLoader enables the "custom" rule kind, loading Risor scripts
// through the given loader.
func WithScriptLoader(load rules.ScriptLoader) Option {
	return func(e *Engine) {
		e.rules.Register("custom", rules.NewScripted(load))
	}
}

// New creates an Engine over a registry, backed by a SQLite graph at
// dbPath. Fails when any constraint in the registry names an unknown rule
// kind; no partial registry is ever used.
func New(dbPath string, reg *registry.Registry, opts ...Option) (*Engine, error) {
	s, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("govern: create store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("govern: migrate: %w", err)
	}

	e := &Engine{
		store:      s,
		reg:        reg,
		resolver:   registry.NewResolver(reg),
		rules:      rules.NewEngine(),
		parsers:    []model.Parser{parser.NewGo()},
		log:        zap.NewNop(),
		workers:    4,
		warnWindow: defaultWarnWindow,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.checkRuleKinds(); err != nil {
		s.Close()
		return nil, err
	}
	return e, nil
}

// checkRuleKinds rejects registries referencing rule kinds with no
// registered validator, as a registry-integrity error.
func (e *Engine) checkRuleKinds() error {
	check := func(cs []registry.Constraint, origin string) error {
		for _, c := range cs {
			if !e.rules.Known(c.Rule) {
				return &registry.IntegrityError{
					Code:   "registry-unknown-rule",
					ArchID: origin,
					Detail: fmt.Sprintf("constraint references unknown rule kind %q", c.Rule),
				}
			}
		}
		return nil
	}
	for _, id := range e.reg.NodeIDs() {
		if err := check(e.reg.Node(id).Constraints, id); err != nil {
			return err
		}
	}
	for _, id := range e.reg.MixinIDs() {
		if err := check(e.reg.Mixin(id).Constraints, id); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the Engine's database resources.
func (e *Engine) Close() error {
	return e.store.Close()
}

// Store exposes the cross-reference graph for queries.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Registry exposes the loaded taxonomy.
func (e *Engine) Registry() *registry.Registry {
	return e.reg
}

// CheckFile validates one file. Per-file failures (unreadable file, store
// write failure) land in FileResult.Err; registry-integrity failures abort
// with an error.
func (e *Engine) CheckFile(ctx context.Context, path string) (*FileResult, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return &FileResult{Path: path, Err: fmt.Sprintf("read file: %v", err)}, nil
	}
	return e.checkContent(ctx, path, content)
}

func (e *Engine) checkContent(ctx context.Context, path string, content []byte) (*FileResult, error) {
	res := &FileResult{Path: path}

	var front model.Parser
	for _, p := range e.parsers {
		if p.Supports(path) {
			front = p
			break
		}
	}
	if front == nil {
		res.Skipped = true
		res.SkipReason = "no parser for file"
		return res, nil
	}

	pf, err := front.Parse(ctx, path, content)
	if err != nil {
		res.Err = fmt.Sprintf("parse: %v", err)
		return res, nil
	}

	overrides, findings := override.Collect(path, content)
	res.Overrides = overrides
	res.Findings = findings

	if pf.ArchID == "" {
		res.Skipped = true
		res.SkipReason = "no declared architecture"
		return res, e.persist(path, content, pf)
	}
	res.ArchID = pf.ArchID

	set, err := e.resolver.Resolve(pf.ArchID)
	if err != nil {
		// Integrity errors are fatal to the run, not scoped to the file.
		return nil, err
	}

	violations := e.rules.Evaluate(set, &rules.Context{
		FilePath: path,
		ArchID:   pf.ArchID,
		File:     pf,
	})

	surviving, suppressed, lifecycle := override.Filter(violations, overrides, e.now(), e.warnWindow)
	res.Violations = surviving
	res.Suppressed = suppressed
	res.Findings = append(res.Findings, lifecycle...)

	if err := e.persist(path, content, pf); err != nil {
		res.Err = fmt.Sprintf("persist edges: %v", err)
	}

	e.log.Debug("checked file",
		zap.String("path", path),
		zap.String("arch", pf.ArchID),
		zap.Int("violations", len(surviving)),
		zap.Int("suppressed", len(suppressed)),
	)
	return res, nil
}

// persist replaces the file's metadata, import edges, and entity refs.
// Each replace is one transaction, so a reader never sees a half-updated
// edge set; a mid-scan failure leaves the prior state committed.
func (e *Engine) persist(path string, content []byte, pf *model.ParsedFile) error {
	checksum := fmt.Sprintf("%x", sha256.Sum256(content))
	mtime := e.now()
	if fi, err := os.Stat(path); err == nil {
		mtime = fi.ModTime()
	}
	if err := e.store.UpsertFile(&store.File{
		Path:      path,
		ArchID:    pf.ArchID,
		Checksum:  checksum,
		Mtime:     mtime,
		LineCount: pf.LineCount,
	}); err != nil {
		return err
	}
	if err := e.store.ReplaceImportsForFile(path, pf.Imports); err != nil {
		return err
	}
	refs := make([]store.EntityRef, 0, len(pf.EntityRefs))
	for _, r := range pf.EntityRefs {
		refs = append(refs, store.EntityRef{
			FilePath:   path,
			EntityName: r.Entity,
			RefType:    r.RefType,
			LineNumber: r.Line,
		})
	}
	return e.store.ReplaceEntityRefsForFile(path, refs)
}

// Check validates the given paths with a bounded worker pool. Parsing and
// evaluation share no mutable state beyond the memoized resolver, so files
// process concurrently; store writes serialize per file inside SQLite.
// Cancellation is cooperative between files: edges already committed stay,
// and a rerun is safe because replace-for-file is idempotent.
func (e *Engine) Check(ctx context.Context, paths []string) (*Report, error) {
	started := e.now()
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: started,
	}

	type job struct {
		idx  int
		path string
	}
	jobs := make(chan job)
	results := make([]*FileResult, len(paths))
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				res, err := e.CheckFile(ctx, j.path)
				if err != nil {
					mu.Lock()
					if fatalErr == nil {
						fatalErr = err
					}
					mu.Unlock()
					continue
				}
				results[j.idx] = res
			}
		}()
	}

feed:
	for i, p := range paths {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- job{idx: i, path: p}:
		}
	}
	close(jobs)
	wg.Wait()

	if fatalErr != nil {
		return nil, fatalErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var allOverrides []override.Override
	for _, res := range results {
		if res == nil {
			continue
		}
		report.Files = append(report.Files, *res)
		allOverrides = append(allOverrides, res.Overrides...)
	}
	report.Clusters = override.ClusterOverrides(allOverrides)
	report.tally()
	report.Duration = e.now().Sub(started)

	if err := e.store.SetMetadata("last_run_id", report.RunID); err != nil {
		e.log.Warn("record run id", zap.Error(err))
	}
	if sum := e.reg.Checksum(); sum != "" {
		if err := e.store.SetMetadata("registry_checksum", sum); err != nil {
			e.log.Warn("record registry checksum", zap.Error(err))
		}
	}

	e.log.Info("scan complete",
		zap.String("run_id", report.RunID),
		zap.Int("files", len(report.Files)),
		zap.Int("errors", report.ErrorCount),
		zap.Int("warnings", report.WarnCount),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

// CheckDirectory walks root and validates every file a front end supports.
// Hidden directories, node_modules, and vendor are skipped.
func (e *Engine) CheckDirectory(ctx context.Context, root string) (*Report, error) {
	paths, err := e.listFiles(root)
	if err != nil {
		return nil, err
	}
	return e.Check(ctx, paths)
}

var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

func (e *Engine) listFiles(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if strings.HasPrefix(name, ".") || skipDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		for _, p := range e.parsers {
			if p.Supports(path) {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}

// Overrides scans root for override annotations without running
// validation: every annotation with its expiry status, promotion
// candidates, and lifecycle findings.
func (e *Engine) Overrides(root string) ([]OverrideInfo, []override.Cluster, []override.Finding, error) {
	paths, err := e.listFiles(root)
	if err != nil {
		return nil, nil, nil, err
	}

	now := e.now()
	var (
		infos    []OverrideInfo
		all      []override.Override
		findings []override.Finding
	)
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read %s: %w", p, err)
		}
		ovs, fs := override.Collect(p, content)
		findings = append(findings, fs...)
		for _, o := range ovs {
			infos = append(infos, OverrideInfo{
				Override: o,
				Status:   o.Status(now, e.warnWindow),
			})
		}
		all = append(all, ovs...)
	}
	return infos, override.ClusterOverrides(all), findings, nil
}

// Supports reports whether any front end handles path.
func (e *Engine) Supports(path string) bool {
	for _, p := range e.parsers {
		if p.Supports(path) {
			return true
		}
	}
	return false
}

// Recheck validates one file and logs surviving violations. Used by the
// watch loop.
func (e *Engine) Recheck(ctx context.Context, path string) error {
	res, err := e.CheckFile(ctx, path)
	if err != nil {
		return err
	}
	if res.Err != "" {
		return fmt.Errorf("%s: %s", path, res.Err)
	}
	for _, v := range res.Violations {
		e.log.Warn("violation",
			zap.String("path", path),
			zap.String("code", v.Code),
			zap.String("message", v.Message),
		)
	}
	return nil
}

// Forget drops a removed file's metadata and edges from the graph.
func (e *Engine) Forget(path string) error {
	_, err := e.store.DeleteFile(path)
	return err
}

// Health runs the bloat analyzer over the registry and current usage.
func (e *Engine) Health() ([]health.Finding, error) {
	usage, err := e.store.ArchUsageCounts()
	if err != nil {
		return nil, fmt.Errorf("govern: usage counts: %w", err)
	}
	return health.NewAnalyzer(e.reg).Analyze(usage), nil
}
