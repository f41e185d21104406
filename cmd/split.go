package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/config"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/projector"
	"github.com/yejune/git-rail/internal/vcsshim"
)

var (
	splitAll   bool
	splitApply bool
	splitJSON  bool
)

var splitCmd = &cobra.Command{
	Use:   "split <pkg>",
	Short: "Project a package's history into its own repository",
	Long: `split walks the monorepo's history restricted to one package's
paths, relocates it to repository root, transforms its manifest for
life outside the workspace, and records the commit correspondence.

By default split only prints the plan; pass --apply to create the
commits and advance the split repository's branch.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSplit,
}

func init() {
	splitCmd.Flags().BoolVar(&splitAll, "all", false, "Split every configured package")
	splitCmd.Flags().BoolVar(&splitApply, "apply", false, "Create the projected commits instead of only planning them")
	splitCmd.Flags().BoolVar(&splitJSON, "json", false, "Print the plan as JSON")
}

func runSplit(cmd *cobra.Command, args []string) error {
	wc, err := loadWorkspaceContext()
	if err != nil {
		return err
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	splits, err := splitsToRun(wc.cfg, name, splitAll)
	if err != nil {
		return err
	}

	var plans []*projector.Plan
	for _, s := range splits {
		plan, err := splitOne(wc, s)
		if err != nil {
			return err
		}
		plans = append(plans, plan)
		if !splitJSON {
			printPlan(s.Name, plan, splitApply)
		}
	}

	if splitJSON {
		return json.NewEncoder(os.Stdout).Encode(plans)
	}
	return nil
}

func splitOne(wc *workspaceContext, s config.Split) (*projector.Plan, error) {
	pkg := wc.ws.FindPackage(s.Name)
	if pkg == nil {
		return nil, fmt.Errorf("package %q not found in workspace", s.Name)
	}

	store := correspondence.New(s.Name)
	if err := store.Load(wc.shim); err != nil {
		return nil, err
	}

	var target *vcsshim.Shim
	if splitApply {
		t, err := openSplitRepo(wc, s)
		if err != nil {
			return nil, err
		}
		target = t
	} else {
		target = wc.shim
	}

	since := ""
	if last := store.All(); len(last) > 0 {
		since = last[len(last)-1].From
	}

	plan, err := projector.Project(projector.Options{
		Source:  wc.shim,
		Target:  target,
		Adapter: wc.adapter,
		Workspace: wc.ws,
		Split: projector.Split{
			PackageName: s.Name,
			Include:     s.IncludePaths(pkg.Path),
			Exclude:     s.Exclude,
		},
		Mode:   adapter.SplitToRemote,
		Since:  since,
		Store:  store,
		DryRun: !splitApply,
	})
	if err != nil {
		return nil, err
	}

	if splitApply {
		final := plan.FinalTargetSHA()
		if final != "" {
			withAux, err := addAuxFiles(wc, s, pkg, target, final)
			if err != nil {
				return nil, err
			}
			final = withAux
		}

		// Ordering guarantee (spec.md §5): save the correspondence
		// mapping before the split repository's branch tip moves.
		if err := store.Save(wc.shim); err != nil {
			return nil, err
		}

		if final != "" {
			branchRef, err := target.CurrentBranchRef()
			if err != nil {
				branchRef = "refs/heads/main"
			}
			if err := target.UpdateRef(branchRef, final); err != nil {
				return nil, err
			}
		}
	}

	return plan, nil
}

// addAuxFiles copies the package's toolchain/format-config and
// documentation/licensing files (falling back to the workspace root's
// copy when the package has none of its own) onto the split
// repository's final projected commit, as one extra commit on top, and
// returns the resulting commit SHA. Returns final unchanged if the
// adapter finds nothing to copy.
func addAuxFiles(wc *workspaceContext, s config.Split, pkg *adapter.Package, target *vcsshim.Shim, final string) (string, error) {
	files, err := wc.adapter.DiscoverAuxFiles(filepath.Join(wc.root, pkg.Path))
	if err != nil {
		return "", err
	}
	fallback, err := wc.adapter.DiscoverAuxFiles(wc.root)
	if err != nil {
		return "", err
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		seen[filepath.Base(f)] = true
	}
	for _, f := range fallback {
		if !seen[filepath.Base(f)] {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return final, nil
	}

	finalCommit, err := target.ReadCommit(final)
	if err != nil {
		return "", err
	}
	entries, err := target.ListTree(finalCommit.Tree)
	if err != nil {
		return "", err
	}

	byPath := make(map[string]int, len(entries))
	for i, e := range entries {
		byPath[e.Path] = i
	}
	for _, f := range files {
		content, err := os.ReadFile(f)
		if err != nil {
			return "", err
		}
		sha, err := target.WriteBlob(content)
		if err != nil {
			return "", err
		}
		entry := vcsshim.TreeEntry{Mode: "100644", Type: "blob", SHA: sha, Path: filepath.Base(f)}
		if i, ok := byPath[entry.Path]; ok {
			entries[i] = entry
		} else {
			entries = append(entries, entry)
		}
	}

	treeSHA, err := target.BuildTree(entries)
	if err != nil {
		return "", err
	}
	return target.CommitTree(treeSHA, vcsshim.CommitTreeOptions{
		Parents:   []string{final},
		Message:   fmt.Sprintf("%s: add auxiliary project files", s.Name),
		Author:    finalCommit.Author,
		AuthorAt:  finalCommit.AuthorAt,
		Committer: finalCommit.Committer,
		CommitAt:  finalCommit.CommitAt,
	})
}

func printPlan(name string, plan *projector.Plan, applied bool) {
	verb := "would project"
	if applied {
		verb = "projected"
	}
	color.Cyan("%s: %s %d commit(s)", name, verb, len(plan.Steps))
	for _, step := range plan.Steps {
		if step.Discarded {
			color.New(color.Faint).Printf("  %s  discarded (%s)\n", shortSHA(step.SourceSHA), step.Reason)
			continue
		}
		target := step.TargetSHA
		if target == "" {
			target = "(dry run)"
		}
		fmt.Printf("  %s -> %s\n", shortSHA(step.SourceSHA), shortSHA(target))
	}
}

func shortSHA(sha string) string {
	if len(sha) > 10 {
		return sha[:10]
	}
	return sha
}
