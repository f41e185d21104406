// Package syncengine is component F from spec.md §2/§4.5: incremental
// bidirectional replay between a monorepo package and its split-out
// remote, with three-way file merge on conflicts.
//
// Grounded on spec.md §4.5's two directions. Mono→remote reuses the
// projector (component D) unchanged, just with `since` resolved from
// the correspondence store instead of "from the beginning". Remote→
// mono is new: it relocates+overlays trees via vcsshim and falls back
// to vcsshim.MergeFile on a genuine three-way conflict, mirroring how
// cargo-rail's sync command (unreachable in the retrieved source, but
// described by core/conflict.rs's ConflictResolver) drives the VCS's
// own merge machinery rather than re-implementing diff3 itself.
package syncengine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/projector"
	"github.com/yejune/git-rail/internal/railerr"
	"github.com/yejune/git-rail/internal/vcsshim"
)

// Options configures a single sync run, in either direction.
type Options struct {
	Mono      *vcsshim.Shim
	Remote    *vcsshim.Shim
	Adapter   adapter.Adapter
	Workspace *adapter.Workspace
	Split     projector.Split
	Store     *correspondence.Store
	Strategy  vcsshim.Strategy
	DryRun    bool
	WorkDir   string // scratch directory for three-way merges (remote→mono only)
}

// Result summarises what a sync run did (or would do, for dry runs).
type Result struct {
	Plan      *projector.Plan
	Conflicts []string
}

// ToRemote replays new monorepo commits onto the remote's current
// tip (spec.md §4.5 "mono→remote"). `since` resumes from the
// monorepo commit mapped to the remote's HEAD; if the remote's tip
// has no mapping, the sync aborts with UnmappedRemoteHead.
func ToRemote(opts Options) (*Result, error) {
	remoteHead, err := opts.Remote.HeadCommit()
	if err != nil {
		return nil, fmt.Errorf("syncengine: reading remote HEAD: %w", err)
	}

	since, ok := reverseLookup(opts.Store, remoteHead)
	if !ok {
		monoHead, _ := opts.Mono.HeadCommit()
		return nil, &railerr.UnmappedRemoteHead{
			Package:   opts.Split.PackageName,
			RemoteTip: remoteHead,
			MonoTip:   monoHead,
		}
	}

	plan, err := projector.Project(projector.Options{
		Source:    opts.Mono,
		Target:    opts.Remote,
		Adapter:   opts.Adapter,
		Workspace: opts.Workspace,
		Split:     opts.Split,
		Mode:      adapter.SyncToRemote,
		Since:     since,
		Store:     opts.Store,
		DryRun:    opts.DryRun,
	})
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &Result{Plan: plan}, nil
	}

	// Ordering guarantee (spec.md §5): the notes entry is written before
	// the new commit becomes visible as the remote branch tip, so a
	// crash between the two leaves the mapping recoverable rather than
	// the ref pointing past it.
	if err := opts.Store.Save(opts.Mono); err != nil {
		return nil, fmt.Errorf("syncengine: saving correspondence store: %w", err)
	}

	if final := plan.FinalTargetSHA(); final != "" {
		branchRef, err := opts.Remote.CurrentBranchRef()
		if err != nil {
			return nil, fmt.Errorf("syncengine: resolving remote branch: %w", err)
		}
		if err := opts.Remote.UpdateRef(branchRef, final); err != nil {
			return nil, fmt.Errorf("syncengine: advancing remote branch: %w", err)
		}
	}

	return &Result{Plan: plan}, nil
}

// reverseLookup finds a mono SHA whose recorded target is remoteSHA.
// The correspondence store only exposes forward lookups (mono→
// remote); sync's "remote tip" direction needs the inverse, so this
// scans the loaded mappings once per sync invocation rather than
// keeping a second index that both directions would have to keep
// consistent.
func reverseLookup(store *correspondence.Store, remoteSHA string) (string, bool) {
	for _, m := range store.All() {
		if m.To == remoteSHA {
			return m.From, true
		}
	}
	return "", false
}

// ToMono replays new remote commits into the monorepo under
// package.path (spec.md §4.5 "remote→mono"), three-way merging any
// file where the monorepo side also changed since the last sync.
func ToMono(opts Options) (*Result, error) {
	monoHead, err := opts.Mono.HeadCommit()
	if err != nil {
		return nil, fmt.Errorf("syncengine: reading mono HEAD: %w", err)
	}

	// The store maps mono SHA -> remote SHA for every commit either
	// direction has produced, so the current mono HEAD's own mapping
	// (if any) names the remote SHA this mono state is already caught
	// up to — the correct resume boundary regardless of how many other
	// mappings exist or in what order they were recorded.
	since := ""
	if lastMappedRemote, ok := opts.Store.Get(monoHead); ok {
		since = lastMappedRemote
	}

	shas, err := opts.Remote.CommitsTouching(since, nil)
	if err != nil {
		return nil, fmt.Errorf("syncengine: enumerating remote commits: %w", err)
	}

	plan := &projector.Plan{}
	conflicts := []string{}
	currentMonoHead := monoHead

	for _, remoteSHA := range shas {
		step, newMonoHead, fileConflicts, err := applyRemoteCommit(opts, remoteSHA, currentMonoHead)
		if err != nil {
			return nil, err
		}
		plan.Steps = append(plan.Steps, *step)
		conflicts = append(conflicts, fileConflicts...)

		if !opts.DryRun && !step.Discarded {
			currentMonoHead = newMonoHead
		}
	}

	if opts.DryRun {
		return &Result{Plan: plan, Conflicts: conflicts}, nil
	}

	// Ordering guarantee (spec.md §5): save before the ref moves, same
	// reasoning as ToRemote.
	if err := opts.Store.Save(opts.Mono); err != nil {
		return nil, fmt.Errorf("syncengine: saving correspondence store: %w", err)
	}

	if final := plan.FinalTargetSHA(); final != "" {
		branchRef, err := opts.Mono.CurrentBranchRef()
		if err != nil {
			return nil, fmt.Errorf("syncengine: resolving mono branch: %w", err)
		}
		if err := opts.Mono.UpdateRef(branchRef, final); err != nil {
			return nil, fmt.Errorf("syncengine: advancing mono branch: %w", err)
		}
	}

	if len(conflicts) > 0 {
		return &Result{Plan: plan, Conflicts: conflicts}, &railerr.MergeConflicts{Paths: conflicts}
	}
	return &Result{Plan: plan, Conflicts: conflicts}, nil
}

// applyRemoteCommit performs spec.md §4.5 remote→mono steps 1-4 for
// one remote commit.
func applyRemoteCommit(opts Options, remoteSHA, parentMonoHead string) (*projector.Step, string, []string, error) {
	commit, err := opts.Remote.ReadCommit(remoteSHA)
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: reading remote commit %s: %w", remoteSHA, err)
	}

	remoteEntries, err := opts.Remote.ListTree(commit.Tree)
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: listing remote tree for %s: %w", remoteSHA, err)
	}
	relocated := vcsshim.Relocate(remoteEntries, "", opts.Split.PackageName)

	monoHeadCommit, err := opts.Mono.ReadCommit(parentMonoHead)
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: reading mono HEAD %s: %w", parentMonoHead, err)
	}
	monoEntries, err := opts.Mono.ListTree(monoHeadCommit.Tree)
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: listing mono tree for %s: %w", parentMonoHead, err)
	}

	overlaid := vcsshim.OverlayTree(monoEntries, opts.Split.PackageName, relocated)

	transformed, conflicts, err := transformAndMerge(opts, overlaid, commit, parentMonoHead)
	if err != nil {
		return nil, "", nil, err
	}

	step := &projector.Step{
		SourceSHA: remoteSHA,
		Message:   commit.Message,
	}

	if opts.DryRun {
		return step, "", conflicts, nil
	}

	newTreeSHA, err := opts.Mono.BuildTree(transformed)
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: building mono tree for %s: %w", remoteSHA, err)
	}

	newMonoSHA, err := opts.Mono.CommitTree(newTreeSHA, vcsshim.CommitTreeOptions{
		Parents:   []string{parentMonoHead},
		Message:   commit.Message,
		Author:    commit.Author,
		AuthorAt:  commit.AuthorAt,
		Committer: commit.Committer,
		CommitAt:  commit.CommitAt,
	})
	if err != nil {
		return nil, "", nil, fmt.Errorf("syncengine: committing %s into mono: %w", remoteSHA, err)
	}

	opts.Store.Record(newMonoSHA, remoteSHA)
	step.TargetSHA = newMonoSHA
	return step, newMonoSHA, conflicts, nil
}

// transformAndMerge applies the SyncToMono manifest transform and,
// where the current mono content differs from both the base (the mono
// content at the commit mapped to the remote commit's parent) and the
// incoming remote content, performs a three-way file merge (spec.md
// §4.5 step 3). Entries are processed
// concurrently bounded by GOMAXPROCS, matching spec.md §5's allowance
// for intra-commit parallelism.
func transformAndMerge(opts Options, overlaid []vcsshim.TreeEntry, commit *vcsshim.Commit, parentMonoHead string) ([]vcsshim.TreeEntry, []string, error) {
	manifestName := opts.Adapter.ManifestFilename()
	out := make([]vcsshim.TreeEntry, len(overlaid))
	copy(out, overlaid)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	conflictsCh := make(chan string, len(out))

	for i, e := range out {
		i, e := i, e
		if !underPackagePath(e.Path, opts.Split.PackageName) {
			continue
		}
		g.Go(func() error {
			if filepath.Base(e.Path) == manifestName {
				// e.SHA came from the relocated remote tree: its
				// content lives in opts.Remote's object store, not
				// opts.Mono's yet.
				raw, err := opts.Remote.ReadBlob(e.SHA)
				if err != nil {
					return fmt.Errorf("reading %s: %w", e.Path, err)
				}
				transformed, err := opts.Adapter.TransformManifest(raw, adapter.TransformContext{
					Workspace:   opts.Workspace,
					PackageName: opts.Split.PackageName,
					Mode:        adapter.SyncToMono,
				})
				if err != nil {
					return fmt.Errorf("transforming %s: %w", e.Path, err)
				}
				newSHA, err := opts.Mono.WriteBlob(transformed)
				if err != nil {
					return fmt.Errorf("writing %s: %w", e.Path, err)
				}
				out[i].SHA = newSHA
				return nil
			}

			mergedSHA, conflicted, err := maybeThreeWayMerge(opts, e, commit, parentMonoHead)
			if err != nil {
				return err
			}
			out[i].SHA = mergedSHA
			if conflicted {
				conflictsCh <- e.Path
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(conflictsCh)

	var conflicts []string
	for p := range conflictsCh {
		conflicts = append(conflicts, p)
	}
	return out, conflicts, nil
}

func underPackagePath(path, packagePath string) bool {
	if packagePath == "" {
		return true
	}
	return path == packagePath || len(path) > len(packagePath) && path[:len(packagePath)+1] == packagePath+"/"
}

// maybeThreeWayMerge resolves one non-manifest file's content when
// the monorepo side may have diverged from what was last synced.
// Per spec.md §4.5 step 3, the merge base is the content implied by
// R's parent mapping (what this path looked like right after the
// previous sync), "current" is today's actual mono content (which
// may have picked up local edits since), and "incoming" is R's
// content. If current already equals base, nothing local changed and
// incoming simply wins with no merge invoked.
func maybeThreeWayMerge(opts Options, entry vcsshim.TreeEntry, remoteCommit *vcsshim.Commit, parentMonoHead string) (string, bool, error) {
	// materialiseIncoming copies entry's content from opts.Remote into
	// opts.Mono's object store: its SHA is content-derived, so the
	// written blob keeps the same SHA while becoming locally available
	// in Mono for BuildTree to reference.
	materialiseIncoming := func() (string, error) {
		content, err := opts.Remote.ReadBlob(entry.SHA)
		if err != nil {
			return "", err
		}
		return opts.Mono.WriteBlob(content)
	}

	currentBlob, currentErr := blobAtPath(opts.Mono, parentMonoHead, entry.Path)
	if currentErr != nil {
		// Path doesn't exist in the mono tree yet: nothing to merge.
		sha, err := materialiseIncoming()
		return sha, false, err
	}

	baseBlob := currentBlob
	if len(remoteCommit.Parents) > 0 {
		if baseMonoSHA, ok := reverseLookup(opts.Store, remoteCommit.Parents[0]); ok {
			if b, err := blobAtPath(opts.Mono, baseMonoSHA, entry.Path); err == nil {
				baseBlob = b
			}
		}
	}

	if currentBlob == baseBlob {
		// No local divergence since the last sync: incoming wins.
		sha, err := materialiseIncoming()
		return sha, false, err
	}
	if currentBlob == entry.SHA {
		// Mono already matches incoming: already materialised there.
		return currentBlob, false, nil
	}

	baseContent, err := opts.Mono.ReadBlob(baseBlob)
	if err != nil {
		return "", false, err
	}
	currentContent, err := opts.Mono.ReadBlob(currentBlob)
	if err != nil {
		return "", false, err
	}
	incomingContent, err := opts.Remote.ReadBlob(entry.SHA)
	if err != nil {
		return "", false, err
	}

	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(os.TempDir(), "git-rail-merge")
	}
	result, err := opts.Mono.MergeFile(opts.Strategy, baseContent, currentContent, incomingContent, filepath.Join(workDir, sanitizeForWorkDir(entry.Path)))
	if err != nil {
		return "", false, fmt.Errorf("merging %s: %w", entry.Path, err)
	}

	switch result.Outcome {
	case vcsshim.MergeSuccess:
		newSHA, err := opts.Mono.WriteBlob(result.Content)
		if err != nil {
			return "", false, err
		}
		return newSHA, false, nil
	case vcsshim.MergeConflicted:
		newSHA, err := opts.Mono.WriteBlob(result.Content)
		if err != nil {
			return "", false, err
		}
		return newSHA, true, nil
	default:
		return "", false, fmt.Errorf("merging %s: %s", entry.Path, result.Reason)
	}
}

// sanitizeForWorkDir turns a repo-relative path into a unique,
// flat directory name so concurrent merges of same-named files in
// different directories (e.g. two packages' Cargo.toml) never share
// a scratch directory.
func sanitizeForWorkDir(path string) string {
	return strings.ReplaceAll(path, "/", "__")
}

func blobAtPath(shim *vcsshim.Shim, commitSHA, path string) (string, error) {
	commit, err := shim.ReadCommit(commitSHA)
	if err != nil {
		return "", err
	}
	entries, err := shim.ListTree(commit.Tree)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Path == path {
			return e.SHA, nil
		}
	}
	return "", fmt.Errorf("path %s not found at %s", path, commitSHA)
}
