// Package correspondence implements component C from spec.md §2: the
// bidirectional commit mapping between a monorepo package's history and
// its standalone remote history. It is the thing a split or sync run
// consults to answer "what did this monorepo commit become over
// there", and the thing a sync run appends to as it replays new
// commits in either direction.
//
// Grounded on cargo-rail's core/mapping.rs MappingStore: an in-memory
// map loaded from and saved to git notes under refs/notes/rail/<name>,
// one note per mapped commit, content the mapped-to SHA. Namespacing,
// load/save/push/fetch shape, and the union-merge-on-divergence
// handling all mirror that file; the git plumbing itself is delegated
// to vcsshim/notes.go rather than reimplemented here.
package correspondence

import (
	"fmt"
	"sort"

	"github.com/yejune/git-rail/internal/railerr"
	"github.com/yejune/git-rail/internal/vcsshim"
)

// Store is a namespaced commit mapping for one package. A single note
// ref holds the mappings recorded by both sync directions; the store
// records exactly the pairs it is given, keyed by the first SHA of each
// pair. Get looks up only that key: asking with the mapped-to SHA finds
// nothing, and there is no reverse index.
type Store struct {
	packageName string
	ref         string
	mappings    map[string]string
}

// New creates an empty Store for packageName. Call Load to populate it
// from an existing repository's notes, or Record to build it up fresh
// during a split.
func New(packageName string) *Store {
	return &Store{
		packageName: packageName,
		ref:         vcsshim.NoteRef(packageName),
		mappings:    make(map[string]string),
	}
}

// Ref returns the notes ref this store reads and writes.
func (s *Store) Ref() string { return s.ref }

// Load populates the store from shim's repository, replacing any
// in-memory state. A notes ref that doesn't exist yet is not an error:
// it simply yields an empty store, matching a first-ever split.
func (s *Store) Load(shim *vcsshim.Shim) error {
	shas, err := shim.ListNotedCommits(s.ref)
	if err != nil {
		return err
	}

	mappings := make(map[string]string, len(shas))
	for _, sha := range shas {
		content, err := shim.ReadNote(s.ref, sha)
		if err != nil {
			return err
		}
		if err := validateNoteContent(sha, content); err != nil {
			return err
		}
		mappings[sha] = content
	}

	s.mappings = mappings
	return nil
}

// validateNoteContent rejects a note that maps one commit to more than
// one target, per spec.md §4.3: a union merge of diverged notes can
// legitimately produce this shape, and it is surfaced to the operator
// rather than silently resolved by picking one side.
func validateNoteContent(sha, content string) error {
	lines := splitNonEmptyLines(content)
	if len(lines) > 1 {
		return &railerr.ConfigInvalid{
			Reason: fmt.Sprintf("commit %s has %d mapped targets after notes merge (expected 1): %v; resolve manually and re-save the note", sha, len(lines), lines),
		}
	}
	return nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == '\n' {
			line := s[start:i]
			if line != "" {
				out = append(out, line)
			}
			start = i + 1
		}
	}
	return out
}

// Save writes every in-memory mapping to shim's repository as a note,
// overwriting any existing note on that commit (git notes add -f's
// semantics, same as cargo-rail's save()).
func (s *Store) Save(shim *vcsshim.Shim) error {
	for sha, target := range s.mappings {
		if err := shim.WriteNote(s.ref, sha, target); err != nil {
			return err
		}
	}
	return nil
}

// Record stores a mapping from one commit SHA to another, overwriting
// any existing mapping for from.
func (s *Store) Record(from, to string) {
	s.mappings[from] = to
}

// Get returns the commit sha maps to, if any.
func (s *Store) Get(sha string) (string, bool) {
	target, ok := s.mappings[sha]
	return target, ok
}

// Has reports whether sha has a recorded mapping.
func (s *Store) Has(sha string) bool {
	_, ok := s.mappings[sha]
	return ok
}

// All returns every mapping, sorted by source SHA for deterministic
// iteration (plan output, tests).
func (s *Store) All() []Mapping {
	out := make([]Mapping, 0, len(s.mappings))
	for from, to := range s.mappings {
		out = append(out, Mapping{From: from, To: to})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].From < out[j].From })
	return out
}

// Mapping is one recorded commit correspondence.
type Mapping struct {
	From string
	To   string
}

// Count returns the number of recorded mappings.
func (s *Store) Count() int { return len(s.mappings) }

// Clear discards every in-memory mapping without touching any note
// already written to the repository.
func (s *Store) Clear() { s.mappings = make(map[string]string) }

// Push pushes this store's notes ref to remote. A store with no
// mappings still pushes the ref if it already exists locally; callers
// that want to skip pushing an empty, never-saved store should check
// Count() themselves first.
func (s *Store) Push(shim *vcsshim.Shim, remote string) error {
	return shim.PushNotes(s.ref, remote)
}

// Fetch fetches this store's notes ref from remote, applying the
// union-merge-on-divergence handling spec.md §4.3 requires. The
// in-memory map is not updated automatically: callers should Load
// again afterward to pick up the merged state.
func (s *Store) Fetch(shim *vcsshim.Shim, remote string) (vcsshim.FetchNotesResult, error) {
	result, err := shim.FetchNotes(s.ref, remote)
	if err == nil {
		return result, nil
	}

	type refErr interface{ Ref() string }
	if _, ok := err.(refErr); ok {
		return result, &railerr.NotesMergeConflict{
			Package: s.packageName,
			Ref:     s.ref,
			Detail:  err.Error(),
		}
	}
	return result, err
}
