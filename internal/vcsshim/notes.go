package vcsshim

import (
	"strings"
)

// NoteRef returns the notes ref namespace for a package, per spec.md
// §4.3 / §6: refs/notes/rail/<package-name>.
func NoteRef(packageName string) string {
	return "refs/notes/rail/" + packageName
}

// ListNotedCommits returns every commit SHA that has a note under
// ref. Absence of the ref itself (first use) is not an error: it
// simply yields no entries, matching cargo-rail's mapping.rs load().
func (s *Shim) ListNotedCommits(ref string) ([]string, error) {
	out, err := s.git("notes", "--ref", ref, "list")
	if err != nil {
		if isMissingNotesRef(err) {
			return nil, nil
		}
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var shas []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		shas = append(shas, fields[1])
	}
	return shas, nil
}

// ReadNote returns the trimmed content of the note attached to sha
// under ref.
func (s *Shim) ReadNote(ref, sha string) (string, error) {
	out, err := s.git("notes", "--ref", ref, "show", sha)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// WriteNote attaches content to sha under ref, overwriting any
// existing note on that commit. "note already exists" is not
// surfaced as an error by git notes add -f, so no special-casing is
// needed here beyond what git itself does.
func (s *Shim) WriteNote(ref, sha, content string) error {
	_, err := s.git("notes", "--ref", ref, "add", "-f", "-m", content, sha)
	return err
}

// PushNotes pushes ref to remote.
func (s *Shim) PushNotes(ref, remote string) error {
	_, err := s.git("push", remote, ref)
	return err
}

// FetchNotesResult describes the outcome of FetchNotes.
type FetchNotesResult int

const (
	// FetchNotesUpToDate means the fetch fast-forwarded cleanly (or
	// the remote ref didn't exist, treated as empty per spec.md §7).
	FetchNotesUpToDate FetchNotesResult = iota
	// FetchNotesMerged means local and remote notes diverged and a
	// union merge was attempted.
	FetchNotesMerged
)

// FetchNotes fetches ref from remote into the local ref. On a clean
// fast-forward it returns FetchNotesUpToDate. On divergence it
// attempts a union merge (spec.md §4.3) and returns FetchNotesMerged
// on success, or FetchNotesMerged with a *notesMergeFailure error (whose
// Ref method names ref) if the union merge itself fails;
// correspondence.Store.Fetch turns that error into
// *railerr.NotesMergeConflict.
func (s *Shim) FetchNotes(ref, remote string) (FetchNotesResult, error) {
	refspec := ref + ":" + ref
	_, err := s.git("fetch", remote, refspec)
	if err == nil {
		return FetchNotesUpToDate, nil
	}

	if isMissingRemoteRef(err) {
		return FetchNotesUpToDate, nil
	}

	if !isNonFastForward(err) {
		return FetchNotesUpToDate, err
	}

	// Divergence: fetch to FETCH_HEAD without moving our ref, then
	// attempt a union merge.
	if _, ferr := s.git("fetch", remote, ref); ferr != nil {
		if isMissingRemoteRef(ferr) {
			return FetchNotesUpToDate, nil
		}
		return FetchNotesUpToDate, ferr
	}

	if _, merr := s.git("notes", "--ref", ref, "merge", "--strategy=union", "FETCH_HEAD"); merr != nil {
		return FetchNotesMerged, &notesMergeFailure{ref: ref, cause: merr}
	}

	return FetchNotesMerged, nil
}

type notesMergeFailure struct {
	ref   string
	cause error
}

func (e *notesMergeFailure) Error() string { return e.cause.Error() }
func (e *notesMergeFailure) Unwrap() error { return e.cause }
func (e *notesMergeFailure) Ref() string   { return e.ref }

func isMissingNotesRef(err error) bool {
	return containsAny(err, "no notes", "unknown ref")
}

func isMissingRemoteRef(err error) bool {
	return containsAny(err, "couldn't find remote ref")
}

func isNonFastForward(err error) bool {
	return containsAny(err, "non-fast-forward", "rejected")
}

func containsAny(err error, substrs ...string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sub := range substrs {
		if strings.Contains(msg, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
