package store

import (
	"database/sql"
	"fmt"
)

// --- File metadata ---

// UpsertFile inserts or replaces the metadata row for a file.
func (s *Store) UpsertFile(f *File) error {
	_, err := s.db.Exec(
		`INSERT INTO files (path, arch_id, checksum, mtime, line_count, description)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   arch_id = excluded.arch_id,
		   checksum = excluded.checksum,
		   mtime = excluded.mtime,
		   line_count = excluded.line_count,
		   description = excluded.description`,
		f.Path, f.ArchID, f.Checksum, f.Mtime, f.LineCount, f.Description,
	)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return nil
}

// FileByPath returns the metadata row for path, or nil when untracked.
func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	err := s.db.QueryRow(
		"SELECT path, arch_id, checksum, mtime, line_count, description FROM files WHERE path = ?", path,
	).Scan(&f.Path, &f.ArchID, &f.Checksum, &f.Mtime, &f.LineCount, &f.Description)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

// FilesByArch returns all file paths declared with the given architecture.
func (s *Store) FilesByArch(archID string) ([]string, error) {
	rows, err := s.db.Query("SELECT path FROM files WHERE arch_id = ? ORDER BY path", archID)
	if err != nil {
		return nil, fmt.Errorf("files by arch: %w", err)
	}
	defer rows.Close()
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// ArchUsageCounts returns, for every architecture id present in files, the
// number of files declaring it.
func (s *Store) ArchUsageCounts() (map[string]int, error) {
	rows, err := s.db.Query("SELECT arch_id, COUNT(*) FROM files GROUP BY arch_id")
	if err != nil {
		return nil, fmt.Errorf("arch usage counts: %w", err)
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var arch string
		var n int
		if err := rows.Scan(&arch, &n); err != nil {
			return nil, fmt.Errorf("scan usage count: %w", err)
		}
		counts[arch] = n
	}
	return counts, rows.Err()
}

// DeleteFile removes a file's metadata row together with its outgoing
// edges and entity refs, in one transaction. Returns rows affected across
// all three relations.
func (s *Store) DeleteFile(path string) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, q := range []string{
		"DELETE FROM imports WHERE from_file = ?",
		"DELETE FROM entity_refs WHERE file_path = ?",
		"DELETE FROM files WHERE path = ?",
	} {
		res, err := tx.Exec(q, path)
		if err != nil {
			return 0, fmt.Errorf("delete file data: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}

// --- Import edges ---

// ReplaceImportsForFile atomically replaces all outgoing import edges for
// file with toFiles. A reader never observes a half-updated edge set; on
// any failure the prior state is retained.
func (s *Store) ReplaceImportsForFile(file string, toFiles []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM imports WHERE from_file = ?", file); err != nil {
		return fmt.Errorf("delete imports: %w", err)
	}
	stmt, err := tx.Prepare("INSERT INTO imports (from_file, to_file) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, to := range toFiles {
		if _, err := stmt.Exec(file, to); err != nil {
			return fmt.Errorf("insert import %s -> %s: %w", file, to, err)
		}
	}
	return tx.Commit()
}

// ReplaceEntityRefsForFile atomically replaces all entity references for
// file. Same commit-or-rollback contract as ReplaceImportsForFile.
func (s *Store) ReplaceEntityRefsForFile(file string, refs []EntityRef) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM entity_refs WHERE file_path = ?", file); err != nil {
		return fmt.Errorf("delete entity refs: %w", err)
	}
	stmt, err := tx.Prepare(
		"INSERT INTO entity_refs (file_path, entity_name, ref_type, line_number) VALUES (?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range refs {
		if _, err := stmt.Exec(file, r.EntityName, r.RefType, r.LineNumber); err != nil {
			return fmt.Errorf("insert entity ref %s: %w", r.EntityName, err)
		}
	}
	return tx.Commit()
}

// GetImportGraph returns the direct neighbors of file in both directions,
// each annotated with the neighbor's declared architecture id.
func (s *Store) GetImportGraph(file string) (*ImportGraph, error) {
	g := &ImportGraph{}

	imports, err := s.queryNeighbors(
		`SELECT i.to_file, COALESCE(f.arch_id, '')
		 FROM imports i LEFT JOIN files f ON f.path = i.to_file
		 WHERE i.from_file = ? ORDER BY i.to_file`, file)
	if err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	g.Imports = imports

	importedBy, err := s.queryNeighbors(
		`SELECT i.from_file, COALESCE(f.arch_id, '')
		 FROM imports i LEFT JOIN files f ON f.path = i.from_file
		 WHERE i.to_file = ? ORDER BY i.from_file`, file)
	if err != nil {
		return nil, fmt.Errorf("import graph: %w", err)
	}
	g.ImportedBy = importedBy

	return g, nil
}

func (s *Store) queryNeighbors(query string, args ...any) ([]Neighbor, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Neighbor
	for rows.Next() {
		var n Neighbor
		if err := rows.Scan(&n.Path, &n.ArchID); err != nil {
			return nil, fmt.Errorf("scan neighbor: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// maxTransitiveDepth caps transitive queries. The depth bound guarantees
// termination even with import cycles; the cap keeps pathological requests
// bounded.
const maxTransitiveDepth = 100

// GetTransitiveImports returns the deduplicated set of files reachable
// from file by following import edges forward, up to maxDepth hops.
func (s *Store) GetTransitiveImports(file string, maxDepth int) ([]string, error) {
	return s.transitive(file, maxDepth, true)
}

// GetTransitiveImporters returns the deduplicated set of files that reach
// file by following import edges backward, up to maxDepth hops.
func (s *Store) GetTransitiveImporters(file string, maxDepth int) ([]string, error) {
	return s.transitive(file, maxDepth, false)
}

// transitive bulk-loads the edge relation and walks it with BFS. Loading
// once avoids an N+1 query per frontier node.
func (s *Store) transitive(file string, maxDepth int, forward bool) ([]string, error) {
	if maxDepth < 0 {
		return nil, fmt.Errorf("transitive: maxDepth must be non-negative, got %d", maxDepth)
	}
	if maxDepth > maxTransitiveDepth {
		maxDepth = maxTransitiveDepth
	}

	rows, err := s.db.Query("SELECT from_file, to_file FROM imports")
	if err != nil {
		return nil, fmt.Errorf("transitive: load edges: %w", err)
	}
	defer rows.Close()

	adj := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("transitive: scan edge: %w", err)
		}
		if forward {
			adj[from] = append(adj[from], to)
		} else {
			adj[to] = append(adj[to], from)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transitive: rows: %w", err)
	}

	type entry struct {
		path  string
		depth int
	}
	visited := map[string]bool{file: true}
	queue := []entry{{path: file, depth: 0}}
	var result []string

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, next := range adj[cur.path] {
			if !visited[next] {
				visited[next] = true
				result = append(result, next)
				queue = append(queue, entry{path: next, depth: cur.depth + 1})
			}
		}
	}
	return result, nil
}

// --- Entity references ---

// GetFilesForEntity returns every file referencing the named entity,
// joined with file metadata and ordered by architecture id then path for
// stable output.
func (s *Store) GetFilesForEntity(name string) ([]EntityUsage, error) {
	rows, err := s.db.Query(
		`SELECT r.file_path, COALESCE(f.arch_id, ''), r.ref_type, r.line_number
		 FROM entity_refs r LEFT JOIN files f ON f.path = r.file_path
		 WHERE r.entity_name = ?
		 ORDER BY COALESCE(f.arch_id, ''), r.file_path, r.line_number`, name)
	if err != nil {
		return nil, fmt.Errorf("files for entity: %w", err)
	}
	defer rows.Close()
	var out []EntityUsage
	for rows.Next() {
		var u EntityUsage
		if err := rows.Scan(&u.Path, &u.ArchID, &u.RefType, &u.Line); err != nil {
			return nil, fmt.Errorf("scan entity usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// EntityRefsForFile returns the entity references recorded for one file.
func (s *Store) EntityRefsForFile(file string) ([]EntityRef, error) {
	rows, err := s.db.Query(
		"SELECT file_path, entity_name, ref_type, line_number FROM entity_refs WHERE file_path = ? ORDER BY line_number",
		file)
	if err != nil {
		return nil, fmt.Errorf("entity refs for file: %w", err)
	}
	defer rows.Close()
	var out []EntityRef
	for rows.Next() {
		var r EntityRef
		if err := rows.Scan(&r.FilePath, &r.EntityName, &r.RefType, &r.LineNumber); err != nil {
			return nil, fmt.Errorf("scan entity ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Scoped and global deletes ---

// DeleteImportsForFile removes a file's outgoing edges, reporting rows
// affected.
func (s *Store) DeleteImportsForFile(file string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM imports WHERE from_file = ?", file)
	if err != nil {
		return 0, fmt.Errorf("delete imports for file: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllImports clears the whole imports relation, reporting rows
// affected.
func (s *Store) DeleteAllImports() (int64, error) {
	res, err := s.db.Exec("DELETE FROM imports")
	if err != nil {
		return 0, fmt.Errorf("delete all imports: %w", err)
	}
	return res.RowsAffected()
}

// DeleteEntityRefsForFile removes a file's entity references, reporting
// rows affected.
func (s *Store) DeleteEntityRefsForFile(file string) (int64, error) {
	res, err := s.db.Exec("DELETE FROM entity_refs WHERE file_path = ?", file)
	if err != nil {
		return 0, fmt.Errorf("delete entity refs for file: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAllEntityRefs clears the whole entity_refs relation, reporting
// rows affected.
func (s *Store) DeleteAllEntityRefs() (int64, error) {
	res, err := s.db.Exec("DELETE FROM entity_refs")
	if err != nil {
		return 0, fmt.Errorf("delete all entity refs: %w", err)
	}
	return res.RowsAffected()
}

// CountImports returns the number of edges for one file, or in the whole
// relation when file is empty.
func (s *Store) CountImports(file string) (int64, error) {
	var n int64
	var err error
	if file == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM imports").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM imports WHERE from_file = ?", file).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count imports: %w", err)
	}
	return n, nil
}

// CountEntityRefs returns the number of entity references for one file, or
// in the whole relation when file is empty.
func (s *Store) CountEntityRefs(file string) (int64, error) {
	var n int64
	var err error
	if file == "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM entity_refs").Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM entity_refs WHERE file_path = ?", file).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("count entity refs: %w", err)
	}
	return n, nil
}
