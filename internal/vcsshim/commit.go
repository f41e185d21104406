package vcsshim

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Identity is a commit's author or committer.
type Identity struct {
	Name  string
	Email string
}

// Commit mirrors spec.md §3 Commit: immutable, identified by SHA.
type Commit struct {
	SHA       string
	Author    Identity
	AuthorAt  time.Time
	Committer Identity
	CommitAt  time.Time
	Parents   []string
	Message   string
	Tree      string
}

// logFormat produces one record per commit with fields separated by
// \x1f (unit separator), avoiding ambiguity with commit message
// content.
const logFormat = "%H\x1f%T\x1f%P\x1f%an\x1f%ae\x1f%at\x1f%cn\x1f%ce\x1f%ct\x1f%B"

// HeadCommit returns the repository's current HEAD commit SHA.
func (s *Shim) HeadCommit() (string, error) {
	return s.git("rev-parse", "HEAD")
}

// RefExists reports whether ref resolves to a commit.
func (s *Shim) RefExists(ref string) bool {
	_, err := s.git("rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// CommitsTouching enumerates commits in topological order (oldest
// first) between since (exclusive; empty means from the beginning)
// and "HEAD", restricted to paths, per spec.md §4.4 step 1.
//
// Topological, oldest-first order matters: the projector replays
// commits as it walks, and each commit's parent must already be
// mapped by the time it is processed.
func (s *Shim) CommitsTouching(since string, paths []string) ([]string, error) {
	args := []string{"rev-list", "--topo-order", "--reverse"}
	if since != "" {
		args = append(args, since+"..HEAD")
	} else {
		args = append(args, "HEAD")
	}
	if len(paths) > 0 {
		args = append(args, "--")
		args = append(args, paths...)
	}

	out, err := s.git(args...)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// ReadCommit loads a single commit's metadata.
func (s *Shim) ReadCommit(sha string) (*Commit, error) {
	out, err := s.git("show", "-s", "--format="+logFormat, sha)
	if err != nil {
		return nil, err
	}
	return parseLogRecord(out)
}

func parseLogRecord(record string) (*Commit, error) {
	fields := strings.SplitN(record, "\x1f", 10)
	if len(fields) != 10 {
		return nil, fmt.Errorf("vcsshim: malformed commit record (%d fields)", len(fields))
	}

	authorUnix, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vcsshim: bad author timestamp: %w", err)
	}
	committerUnix, err := strconv.ParseInt(fields[8], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("vcsshim: bad committer timestamp: %w", err)
	}

	var parents []string
	if fields[2] != "" {
		parents = strings.Split(fields[2], " ")
	}

	return &Commit{
		SHA:       fields[0],
		Tree:      fields[1],
		Parents:   parents,
		Author:    Identity{Name: fields[3], Email: fields[4]},
		AuthorAt:  time.Unix(authorUnix, 0).UTC(),
		Committer: Identity{Name: fields[6], Email: fields[7]},
		CommitAt:  time.Unix(committerUnix, 0).UTC(),
		Message:   strings.TrimRight(fields[9], "\n"),
	}, nil
}

// CommitTreeOptions supplies everything commit-tree needs beyond the
// tree and parent SHAs, so projected commits can carry over the
// original's identity and timestamps verbatim (spec.md §4.4 step d).
type CommitTreeOptions struct {
	Parents   []string
	Message   string
	Author    Identity
	AuthorAt  time.Time
	Committer Identity
	CommitAt  time.Time
}

// CommitTree creates a new commit object pointing at treeSHA with the
// given parents and metadata, without touching the working tree or
// any ref. The caller decides separately whether/where to point a
// branch at the result.
func (s *Shim) CommitTree(treeSHA string, opts CommitTreeOptions) (string, error) {
	args := []string{"commit-tree", treeSHA}
	for _, p := range opts.Parents {
		args = append(args, "-p", p)
	}
	args = append(args, "-m", opts.Message)

	cmd, err := s.gitWithEnv(args, commitEnv(opts))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(cmd), nil
}

func commitEnv(opts CommitTreeOptions) []string {
	return []string{
		"GIT_AUTHOR_NAME=" + opts.Author.Name,
		"GIT_AUTHOR_EMAIL=" + opts.Author.Email,
		"GIT_AUTHOR_DATE=" + formatGitDate(opts.AuthorAt),
		"GIT_COMMITTER_NAME=" + opts.Committer.Name,
		"GIT_COMMITTER_EMAIL=" + opts.Committer.Email,
		"GIT_COMMITTER_DATE=" + formatGitDate(opts.CommitAt),
	}
}

func formatGitDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// UpdateRef points ref (e.g. "refs/heads/main") at sha, creating it
// if necessary.
func (s *Shim) UpdateRef(ref, sha string) error {
	_, err := s.git("update-ref", ref, sha)
	return err
}

// CurrentBranchRef returns the fully-qualified ref HEAD points to.
func (s *Shim) CurrentBranchRef() (string, error) {
	return s.git("symbolic-ref", "HEAD")
}
