// Package govern is an architectural-governance engine. Every source file
// declares an architecture — a named role in a governance taxonomy — and
// the engine resolves the structural rules that role must obey, evaluates
// them against a language-agnostic semantic model of the file, and reports
// violations with fix hints. Time-boxed overrides suppress individual
// violations; repeated overrides across files cluster into candidates for
// promotion back into the taxonomy. Import edges and entity references are
// persisted to a SQLite cross-reference graph with transitive queries.
package govern
