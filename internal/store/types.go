package store

import "time"

// File is one tracked source file's metadata row.
type File struct {
	Path        string
	ArchID      string
	Checksum    string
	Mtime       time.Time
	LineCount   int
	Description string
}

// EntityRef is one reference from a file to a named entity.
type EntityRef struct {
	FilePath   string
	EntityName string
	RefType    string
	LineNumber int
}

// Neighbor is a direct import-graph neighbor annotated with its declared
// architecture id (empty when the neighbor has no file row).
type Neighbor struct {
	Path   string
	ArchID string
}

// ImportGraph is the direct neighborhood of one file in both directions.
type ImportGraph struct {
	Imports    []Neighbor
	ImportedBy []Neighbor
}

// EntityUsage is one file's use of a named entity, annotated with the
// file's architecture.
type EntityUsage struct {
	Path    string
	ArchID  string
	RefType string
	Line    int
}
