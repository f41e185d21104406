// Package projector is component D from spec.md §2/§4.4: it turns a
// slice of monorepo history into a rewritten commit sequence for one
// package, subtree-filtered, manifest-transformed, and parent-remapped
// through the correspondence store.
//
// Grounded on spec.md §4.4's five-step algorithm; the git plumbing is
// entirely vcsshim's (ListTree/RestrictTree/Relocate/BuildTree/
// CommitTree), and the per-commit parent remap mirrors the
// book-keeping cargo-rail's (unreachable in source, but implied by
// mapping.rs's API) split command must do to walk history forward
// while only ever looking up already-projected parents.
package projector

import (
	"fmt"
	"strings"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/vcsshim"
)

// Split is the subset of config.Split the projector needs: which
// paths to keep, and which package/workspace facts drive the manifest
// transform.
type Split struct {
	PackageName string
	Include     []string
	Exclude     []string
}

// Plan is the projector's dry-run output: the sequence of commits it
// would create, without creating them.
type Plan struct {
	Steps []Step
}

// FinalTargetSHA returns the last non-discarded step's TargetSHA, the
// commit the caller should point the split's branch ref at. Empty if
// every step was discarded or Project ran in dry-run mode.
func (p *Plan) FinalTargetSHA() string {
	for i := len(p.Steps) - 1; i >= 0; i-- {
		if !p.Steps[i].Discarded && p.Steps[i].TargetSHA != "" {
			return p.Steps[i].TargetSHA
		}
	}
	return ""
}

// Step describes one commit the projector would project.
type Step struct {
	SourceSHA string
	// TargetSHA is the created commit; it is empty for a discarded
	// step and when Project ran with DryRun.
	TargetSHA string
	Message   string
	// Discarded is true if this commit is dropped: its projected tree
	// is empty and it is neither a deletion of the whole package nor a
	// merge with more than one distinct projected parent. A non-empty
	// projected tree identical to its parent's is not dropped.
	Discarded bool
	Reason    string // human-readable reason when Discarded
}

// Options configures a single projection run. Source and Target are
// deliberately separate Shims: split and sync move history between
// two distinct repositories, and every object the projector creates
// (blobs, trees, commits) must exist in Target's object database, not
// just Source's — a blob SHA is a pure function of its content, so
// re-writing an unchanged blob's bytes into Target via WriteBlob
// reproduces the same SHA and makes the object locally available
// there without needing a fetch/pack exchange.
type Options struct {
	Source    *vcsshim.Shim
	Target    *vcsshim.Shim
	Adapter   adapter.Adapter
	Workspace *adapter.Workspace
	Split     Split
	Mode      adapter.TransformMode // SplitToRemote or SyncToRemote
	Since     string                // exclusive; "" means from the beginning
	Store     *correspondence.Store
	DryRun    bool
}

// Project walks monorepo commits from opts.Since to HEAD, restricted
// to the split's include/exclude filters (spec.md §4.4 step 1), and
// for every retained commit performs steps (a)-(e). When opts.DryRun
// is true, no commit is created and the correspondence store is left
// untouched; the returned Plan still reflects what would happen.
func Project(opts Options) (*Plan, error) {
	includePaths := opts.Split.Include
	if len(includePaths) == 0 {
		includePaths = []string{""}
	}

	shas, err := opts.Source.CommitsTouching(opts.Since, filterEmpty(includePaths))
	if err != nil {
		return nil, fmt.Errorf("projector: enumerating commits: %w", err)
	}

	plan := &Plan{}

	for _, sha := range shas {
		step, _, err := projectOne(opts, sha)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, *step)
	}

	return plan, nil
}

// projectOne performs spec.md §4.4 steps (a)-(e) for one monorepo
// commit. It always computes the full step (so dry-run plans are
// complete); it only calls CommitTree/Store.Record when opts.DryRun
// is false.
func projectOne(opts Options, sha string) (*Step, string, error) {
	commit, err := opts.Source.ReadCommit(sha)
	if err != nil {
		return nil, "", fmt.Errorf("projector: reading commit %s: %w", sha, err)
	}

	// Step (a): subtree-restrict the commit's tree.
	allEntries, err := opts.Source.ListTree(commit.Tree)
	if err != nil {
		return nil, "", fmt.Errorf("projector: listing tree for %s: %w", sha, err)
	}
	restricted := vcsshim.RestrictTree(allEntries, effectiveIncludes(opts.Split), opts.Split.Exclude)
	relocated := restricted
	if isSingleRootInclude(opts.Split) {
		// Splitting the whole workspace root: no relocation needed.
	} else {
		relocated = relocateToRoot(restricted, opts.Split)
	}

	// Step (b): transform manifests and materialise every blob (not
	// just manifests) into Target's object database.
	transformed, err := transformManifests(opts, relocated)
	if err != nil {
		return nil, "", fmt.Errorf("projector: transforming manifests for %s: %w", sha, err)
	}

	// Step (c): parent selection via the correspondence store.
	parents := mapParents(opts.Store, commit.Parents)
	dedupedParents := dedupe(parents)

	step := &Step{SourceSHA: sha, Message: footerMessage(commit.Message, sha)}

	empty := len(transformed) == 0
	// A merge's parent structure is informative when more than one
	// distinct projected parent survives dedup: that shape is what
	// makes it a real merge rather than a no-op fast-forward (spec.md
	// §4.4's tie-break: "preserving merge-commit shape only when it
	// adds information").
	informativeMerge := len(commit.Parents) > 1 && len(dedupedParents) > 1
	if empty && len(commit.Parents) > 1 && !informativeMerge {
		step.Discarded = true
		step.Reason = "empty merge commit with no informative parent structure"
		return step, "", nil
	}
	if empty && len(commit.Parents) <= 1 {
		deletesPackage, err := priorTreeHadContent(opts, commit)
		if err != nil {
			return nil, "", err
		}
		if !deletesPackage {
			step.Discarded = true
			step.Reason = "empty projected tree"
			return step, "", nil
		}
		// Falls through: this commit deletes the package entirely, so
		// the empty tree commit is retained per spec.md §4.4 ("so the
		// mapping is not lost").
	}

	if opts.DryRun {
		return step, "", nil
	}

	treeSHA, err := opts.Target.BuildTree(transformed)
	if err != nil {
		return nil, "", fmt.Errorf("projector: building tree for %s: %w", sha, err)
	}

	targetSHA, err := opts.Target.CommitTree(treeSHA, vcsshim.CommitTreeOptions{
		Parents:   dedupedParents,
		Message:   step.Message,
		Author:    commit.Author,
		AuthorAt:  commit.AuthorAt,
		Committer: commit.Committer,
		CommitAt:  commit.CommitAt,
	})
	if err != nil {
		return nil, "", fmt.Errorf("projector: committing %s: %w", sha, err)
	}

	// Ordering guarantee (spec.md §5): record the mapping before the
	// new commit becomes visible as the branch tip; the caller
	// advances the branch ref after Project returns and Store.Save is
	// called, so recording here (in-memory) satisfies the ordering as
	// long as the caller follows that sequence.
	opts.Store.Record(sha, targetSHA)
	step.TargetSHA = targetSHA
	return step, targetSHA, nil
}

// priorTreeHadContent reports whether commit's single parent (if any)
// had non-empty restricted content under the split's paths, the
// signal that distinguishes "this commit deletes the package
// entirely" (retained per spec.md §4.4) from "this commit never had
// anything here to begin with" (discarded as a true no-op). A root
// commit (no parents) has nothing prior, so it is never treated as a
// deletion.
func priorTreeHadContent(opts Options, commit *vcsshim.Commit) (bool, error) {
	if len(commit.Parents) == 0 {
		return false, nil
	}

	parentCommit, err := opts.Source.ReadCommit(commit.Parents[0])
	if err != nil {
		return false, fmt.Errorf("projector: reading parent %s: %w", commit.Parents[0], err)
	}
	parentEntries, err := opts.Source.ListTree(parentCommit.Tree)
	if err != nil {
		return false, fmt.Errorf("projector: listing parent tree for %s: %w", commit.Parents[0], err)
	}
	restricted := vcsshim.RestrictTree(parentEntries, effectiveIncludes(opts.Split), opts.Split.Exclude)
	return len(restricted) > 0, nil
}

// effectiveIncludes defaults to the whole tree when the split has no
// explicit include patterns (spec.md §3 Split.include_paths default).
func effectiveIncludes(s Split) []string {
	if len(s.Include) > 0 {
		return s.Include
	}
	return []string{""}
}

func isSingleRootInclude(s Split) bool {
	inc := effectiveIncludes(s)
	return len(inc) == 1 && inc[0] == ""
}

// relocateToRoot strips every include prefix so the package's own
// subtree becomes the new tree's root, matching split's "subset to
// repo root" requirement (spec.md data flow for split).
func relocateToRoot(entries []vcsshim.TreeEntry, s Split) []vcsshim.TreeEntry {
	if len(s.Include) != 1 {
		// Multiple include roots can't all become "/" simultaneously;
		// callers needing that shape pass a single include path. With
		// none or several, entries are left relative to the workspace
		// root, matching include_paths defaulting to the package path.
		return entries
	}
	return vcsshim.Relocate(entries, strings.TrimSuffix(s.Include[0], "/"), "")
}

func filterEmpty(paths []string) []string {
	var out []string
	for _, p := range paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mapParents resolves each monorepo parent SHA to its projected
// counterpart via the correspondence store; unmapped parents (not
// retained by this split) are simply omitted, matching spec.md §4.4
// step (c): "if none of C's parents were retained, the new commit is
// a root."
func mapParents(store *correspondence.Store, parents []string) []string {
	var out []string
	for _, p := range parents {
		if mapped, ok := store.Get(p); ok {
			out = append(out, mapped)
		}
	}
	return out
}

// dedupe drops duplicate parent SHAs in order of first appearance,
// per spec.md §4.4's tie-break rule: "when a commit C has multiple
// retained parents that would map to the same projected parent... the
// duplicate is dropped".
func dedupe(shas []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range shas {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// footerMessage appends the forensic footer carrying the original
// monorepo SHA (spec.md §4.4 step d).
func footerMessage(message, sha string) string {
	return strings.TrimRight(message, "\n") + fmt.Sprintf("\n\n(rail-source: %s)\n", sha)
}
