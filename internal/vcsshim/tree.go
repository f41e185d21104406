package vcsshim

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
)

// TreeEntry is one file in a flattened (recursive) tree listing, as
// produced by `git ls-tree -r`.
type TreeEntry struct {
	Mode string // e.g. "100644", "100755", "120000"
	Type string // "blob" or "commit" (submodule gitlink)
	SHA  string
	Path string // full path from the tree root, '/'-separated
}

// ListTree flattens the tree at sha into one entry per blob or
// submodule gitlink, full paths relative to the tree root.
func (s *Shim) ListTree(sha string) ([]TreeEntry, error) {
	out, err := s.git("ls-tree", "-r", "-z", "--full-tree", sha)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}

	var entries []TreeEntry
	for _, rec := range strings.Split(out, "\x00") {
		if rec == "" {
			continue
		}
		e, err := parseLsTreeLine(rec)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseLsTreeLine(line string) (TreeEntry, error) {
	// "<mode> <type> <sha>\t<path>"
	tab := strings.IndexByte(line, '\t')
	if tab < 0 {
		return TreeEntry{}, fmt.Errorf("vcsshim: malformed ls-tree line %q", line)
	}
	meta := strings.Fields(line[:tab])
	if len(meta) != 3 {
		return TreeEntry{}, fmt.Errorf("vcsshim: malformed ls-tree metadata %q", line[:tab])
	}
	return TreeEntry{
		Mode: meta[0],
		Type: meta[1],
		SHA:  meta[2],
		Path: line[tab+1:],
	}, nil
}

// ReadBlob returns a blob's raw content.
func (s *Shim) ReadBlob(sha string) ([]byte, error) {
	return s.gitRaw("cat-file", "-p", sha)
}

// WriteBlob stores data as a blob and returns its SHA, without
// touching the working tree or index.
func (s *Shim) WriteBlob(data []byte) (string, error) {
	sha, err := s.hashObjectStdin("blob", data)
	if err != nil {
		return "", err
	}
	return sha, nil
}

func (s *Shim) hashObjectStdin(kind string, data []byte) (string, error) {
	out, err := runStdin(s.root, s.Verbose, data, "hash-object", "-w", "-t", kind, "--stdin")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// BuildTree constructs a (possibly nested) tree object from a flat
// list of entries and returns its SHA. Entries are grouped by their
// first path component and recursed into per-directory `mktree`
// invocations, bottom-up, mirroring how `git commit-tree`'s sibling
// plumbing commands expect trees to be assembled one level at a time.
func (s *Shim) BuildTree(entries []TreeEntry) (string, error) {
	root := buildTreeNode(entries)
	return s.writeTreeNode(root)
}

type treeNode struct {
	blobs map[string]TreeEntry // name -> entry, mode/sha as-is
	dirs  map[string]*treeNode
}

func newTreeNode() *treeNode {
	return &treeNode{blobs: map[string]TreeEntry{}, dirs: map[string]*treeNode{}}
}

func buildTreeNode(entries []TreeEntry) *treeNode {
	root := newTreeNode()
	for _, e := range entries {
		parts := strings.Split(e.Path, "/")
		cur := root
		for i, part := range parts {
			if i == len(parts)-1 {
				cur.blobs[part] = TreeEntry{Mode: e.Mode, Type: e.Type, SHA: e.SHA, Path: part}
				continue
			}
			child, ok := cur.dirs[part]
			if !ok {
				child = newTreeNode()
				cur.dirs[part] = child
			}
			cur = child
		}
	}
	return root
}

func (s *Shim) writeTreeNode(n *treeNode) (string, error) {
	type line struct {
		mode, kind, sha, name string
	}
	var lines []line

	for name, blob := range n.blobs {
		lines = append(lines, line{blob.Mode, blob.Type, blob.SHA, name})
	}
	for name, dir := range n.dirs {
		childSHA, err := s.writeTreeNode(dir)
		if err != nil {
			return "", err
		}
		lines = append(lines, line{"040000", "tree", childSHA, name})
	}

	sort.Slice(lines, func(i, j int) bool { return lines[i].name < lines[j].name })

	var buf strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&buf, "%s %s %s\t%s\n", l.mode, l.kind, l.sha, l.name)
	}

	out, err := runStdin(s.root, s.Verbose, []byte(buf.String()), "mktree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RestrictTree filters a flattened tree listing to only the paths
// that survive include/exclude globbing (spec.md §4.4 step a). A path
// is kept if it is contained by (or equal to) some include entry and
// not contained by (or equal to) any exclude entry. Patterns are
// directory prefixes, or shell globs matched with path.Match against
// the whole path (so `*` does not match across a `/`), matching the
// simple include/exclude glob
// semantics spec.md §6 describes for the config file.
func RestrictTree(entries []TreeEntry, include, exclude []string) []TreeEntry {
	var kept []TreeEntry
	for _, e := range entries {
		if !matchesAny(e.Path, include) {
			continue
		}
		if matchesAny(e.Path, exclude) {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func matchesAny(p string, patterns []string) bool {
	for _, pat := range patterns {
		if pathUnder(p, pat) {
			return true
		}
		if ok, _ := path.Match(pat, p); ok {
			return true
		}
	}
	return false
}

// pathUnder reports whether p is prefix itself or lives under it as a
// directory.
func pathUnder(p, prefix string) bool {
	prefix = strings.TrimSuffix(prefix, "/")
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// Relocate rewrites every entry's path by stripping fromPrefix and
// joining toPrefix, used both when subsetting a package's subtree out
// to repo root (split) and when overlaying a split repo's tree back
// under package.path in the monorepo (sync remote→mono).
func Relocate(entries []TreeEntry, fromPrefix, toPrefix string) []TreeEntry {
	out := make([]TreeEntry, len(entries))
	for i, e := range entries {
		rel := strings.TrimPrefix(e.Path, fromPrefix+"/")
		if fromPrefix == "" {
			rel = e.Path
		}
		newPath := rel
		if toPrefix != "" {
			newPath = path.Join(toPrefix, rel)
		}
		out[i] = TreeEntry{Mode: e.Mode, Type: e.Type, SHA: e.SHA, Path: newPath}
	}
	return out
}

// OverlayTree takes baseEntries (a full tree's flattened listing) and
// replaces everything under subPath with replacement, used by sync
// remote→mono step 1 ("overlay on top of the current monorepo HEAD
// tree, replacing only paths within package.path").
func OverlayTree(baseEntries []TreeEntry, subPath string, replacement []TreeEntry) []TreeEntry {
	var kept []TreeEntry
	for _, e := range baseEntries {
		if pathUnder(e.Path, subPath) {
			continue
		}
		kept = append(kept, e)
	}
	return append(kept, replacement...)
}

// parseMode reads a mode string's digits as a decimal int ("100644"
// becomes 100644). It is unexported, so only this package can call it.
func parseMode(mode string) (int, error) {
	return strconv.Atoi(mode)
}
