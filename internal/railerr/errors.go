// Package railerr defines the error taxonomy surfaced to the git-rail
// command frontier and the exit code each kind maps to.
//
// Every kind here is a distinct Go type rather than a sentinel value so
// callers can recover structured detail with errors.As instead of
// string-matching, while cmd still reports them the way the teacher
// reports wrapped stdlib errors: fmt.Fprintln(os.Stderr, err) followed
// by os.Exit.
package railerr

import "fmt"

// ExitCode returns the process exit code an error should produce: the
// error's own ExitCode() when it has one (the kinds below report 1 or
// 2), and 3 for any other error, a non-zero code distinct from those.
// Only err itself is inspected; an error wrapped inside it is not.
func ExitCode(err error) int {
	switch e := err.(type) {
	case interface{ ExitCode() int }:
		return e.ExitCode()
	default:
		return 3
	}
}

// NoAdapter is returned when no registered package adapter recognises
// the workspace rooted at Root.
type NoAdapter struct {
	Root       string
	Supported  []string
}

func (e *NoAdapter) Error() string {
	return fmt.Sprintf("could not detect a package ecosystem at %s (supported: %v)", e.Root, e.Supported)
}

func (e *NoAdapter) ExitCode() int { return 2 }

// UnresolvedPathDep is returned by the manifest transformer when a
// Path dependency's target package is not present in the workspace.
type UnresolvedPathDep struct {
	DepName string
}

func (e *UnresolvedPathDep) Error() string {
	return fmt.Sprintf("unresolved path dependency %q: target package not found in workspace", e.DepName)
}

func (e *UnresolvedPathDep) ExitCode() int { return 2 }

// UnresolvedWorkspaceDep is returned when a Workspace dependency has
// no corresponding entry in the workspace manifest's shared table.
type UnresolvedWorkspaceDep struct {
	DepName string
}

func (e *UnresolvedWorkspaceDep) Error() string {
	return fmt.Sprintf("unresolved workspace dependency %q: not defined in workspace manifest", e.DepName)
}

func (e *UnresolvedWorkspaceDep) ExitCode() int { return 2 }

// UnmappedRemoteHead is returned when a mono→remote sync cannot find a
// mapping for the remote's current tip.
type UnmappedRemoteHead struct {
	Package   string
	RemoteTip string
	MonoTip   string
}

func (e *UnmappedRemoteHead) Error() string {
	return fmt.Sprintf(
		"no mapping found for %s's current tip (remote=%s, mono HEAD=%s); run split or repair the correspondence store",
		e.Package, e.RemoteTip, e.MonoTip,
	)
}

func (e *UnmappedRemoteHead) ExitCode() int { return 2 }

// NotesMergeConflict is returned when the union merge of a diverged
// notes ref fails and requires manual resolution.
type NotesMergeConflict struct {
	Package string
	Ref     string
	Detail  string
}

func (e *NotesMergeConflict) Error() string {
	return fmt.Sprintf(
		"git-notes merge conflict on %s: %s\nresolve manually:\n  git notes --ref=%s merge FETCH_HEAD\n  git notes --ref=%s merge --commit",
		e.Ref, e.Detail, e.Ref, e.Ref,
	)
}

func (e *NotesMergeConflict) ExitCode() int { return 2 }

// MergeConflicts is returned when a three-way file merge left
// conflict markers in one or more files.
type MergeConflicts struct {
	Paths []string
}

func (e *MergeConflicts) Error() string {
	return fmt.Sprintf("conflicts in %d file(s), markers left in the working tree: %v", len(e.Paths), e.Paths)
}

func (e *MergeConflicts) ExitCode() int { return 1 }

// VcsFailure wraps a non-zero exit from the underlying git binary.
type VcsFailure struct {
	Command []string
	Stderr  string
}

func (e *VcsFailure) Error() string {
	return fmt.Sprintf("git %v failed: %s", e.Command, e.Stderr)
}

func (e *VcsFailure) ExitCode() int { return 2 }

// IoFailure wraps a filesystem error encountered at a known path.
type IoFailure struct {
	Path   string
	Reason error
}

func (e *IoFailure) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Reason)
}

func (e *IoFailure) Unwrap() error { return e.Reason }

func (e *IoFailure) ExitCode() int { return 2 }

// ConfigInvalid is returned when the configuration file cannot be
// parsed or fails a structural check.
type ConfigInvalid struct {
	Reason string
}

func (e *ConfigInvalid) Error() string {
	return fmt.Sprintf("invalid configuration: %s", e.Reason)
}

func (e *ConfigInvalid) ExitCode() int { return 2 }
