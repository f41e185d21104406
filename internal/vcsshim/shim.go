// Package vcsshim wraps the git binary: commit listing, tree reading
// and writing, note storage, and file-level three-way merge. It is
// component A from spec.md §2 — every other core subsystem reaches
// git only through this package.
//
// Like the teacher's internal/git package and cargo-rail's own VCS
// calls (core/mapping.rs, core/conflict.rs), this shells out to the
// git binary with os/exec rather than linking a Git implementation:
// the VCS already knows how to do tree diffing, note merges, and
// file-level three-way merges correctly, and spec.md §1 explicitly
// defers "fetch/push" and "three-way file merge" to the VCS tool.
package vcsshim

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/kballard/go-shellquote"
)

// Shim is a handle to a git working copy.
type Shim struct {
	root    string
	Verbose bool
}

// Open verifies that path is (inside) a git working copy and returns
// a Shim rooted at its top level.
func Open(path string) (*Shim, error) {
	out, err := run(path, false, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}
	return &Shim{root: strings.TrimSpace(out)}, nil
}

// Init creates a new, empty repository at path and returns a Shim for
// it. Used to materialise a split's target repository for the first
// time.
func Init(path string) (*Shim, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, err
	}
	if _, err := run(path, false, "init"); err != nil {
		return nil, err
	}
	return &Shim{root: path}, nil
}

// Clone clones remote into path and returns a Shim for it. Used to
// materialise a split's target repository from its configured remote
// the first time split or sync needs a local working copy of it.
func Clone(remote, path string) (*Shim, error) {
	if _, err := run(".", false, "clone", remote, path); err != nil {
		return nil, err
	}
	return &Shim{root: path}, nil
}

// Root returns the repository's working-tree root.
func (s *Shim) Root() string { return s.root }

// git runs `git <args...>` in the shim's root and returns trimmed
// stdout. Non-zero exit is reported as *vcsFailure by run().
func (s *Shim) git(args ...string) (string, error) {
	return run(s.root, s.Verbose, args...)
}

// gitRaw is like git but returns stdout byte-for-byte, with no
// trailing-newline trimming: for blob content, where a trailing
// newline (or its absence) is part of the file's bytes.
func (s *Shim) gitRaw(args ...string) ([]byte, error) {
	return runRaw(s.root, s.Verbose, nil, args...)
}

// gitWithEnv runs git with extra environment variables appended (used
// for commit-tree's author/committer identity and dates).
func (s *Shim) gitWithEnv(args []string, extraEnv []string) (string, error) {
	out, err := runRaw(s.root, s.Verbose, extraEnv, args...)
	return strings.TrimRight(string(out), "\n"), err
}

func run(dir string, verbose bool, args ...string) (string, error) {
	out, err := runRaw(dir, verbose, nil, args...)
	return strings.TrimRight(string(out), "\n"), err
}

func runRaw(dir string, verbose bool, extraEnv []string, args ...string) ([]byte, error) {
	if verbose {
		fmt.Fprintf(os.Stderr, "+ git %s\n", shellquote.Join(args...))
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &vcsFailure{command: append([]string{"git"}, args...), stderr: stderr.String(), cause: err, exitCode: exitCodeOf(cmd)}
	}

	return stdout.Bytes(), nil
}

// exitCodeOf reports the child process's exit code, or -1 if it was
// killed by a signal rather than exiting normally.
func exitCodeOf(cmd *exec.Cmd) int {
	if cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// runStdin is like runRaw but feeds stdin to the child process, for
// commands like `hash-object --stdin` and `mktree`.
func runStdin(dir string, verbose bool, stdin []byte, args ...string) ([]byte, error) {
	if verbose {
		fmt.Fprintf(os.Stderr, "+ git %s  # %d bytes on stdin\n", shellquote.Join(args...), len(stdin))
	}

	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &vcsFailure{command: append([]string{"git"}, args...), stderr: stderr.String(), cause: err, exitCode: exitCodeOf(cmd)}
	}

	return stdout.Bytes(), nil
}

// vcsFailure is the internal exec error returned for a non-zero git
// exit. It is not converted to railerr.VcsFailure anywhere.
type vcsFailure struct {
	command  []string
	stderr   string
	cause    error
	exitCode int
}

func (e *vcsFailure) Error() string {
	return fmt.Sprintf("%s: %s", strings.Join(e.command, " "), strings.TrimSpace(e.stderr))
}

func (e *vcsFailure) Unwrap() error { return e.cause }

// Command and Stderr expose the failing invocation and its stderr.
func (e *vcsFailure) Command() []string { return e.command }
func (e *vcsFailure) Stderr() string    { return e.stderr }

// ExitCode is the child process's exit status, or -1 if it was killed
// by a signal. MergeFile uses this to tell `git merge-file`'s
// "wrote conflict markers" exit (the conflict count, 1-127) from a
// hard failure.
func (e *vcsFailure) ExitCode() int { return e.exitCode }
