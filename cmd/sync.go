package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yejune/git-rail/internal/config"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/projector"
	"github.com/yejune/git-rail/internal/syncengine"
	"github.com/yejune/git-rail/internal/vcsshim"
)

var (
	syncAll        bool
	syncFromRemote bool
	syncToRemote   bool
	syncApply      bool
	syncJSON       bool
	syncStrategy   string
)

var syncCmd = &cobra.Command{
	Use:   "sync <pkg>",
	Short: "Replay new commits between the monorepo and a split repository",
	Long: `sync replays commits the monorepo and a package's split repository
don't yet have in common, in either direction. --to-remote (the
default) replays new monorepo commits onto the split repository;
--from-remote replays new split-repository commits back into the
monorepo, three-way merging any file the monorepo side also changed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncAll, "all", false, "Sync every configured package")
	syncCmd.Flags().BoolVar(&syncFromRemote, "from-remote", false, "Replay the split repository's new commits into the monorepo")
	syncCmd.Flags().BoolVar(&syncToRemote, "to-remote", false, "Replay the monorepo's new commits onto the split repository (default)")
	syncCmd.Flags().BoolVar(&syncApply, "apply", false, "Create the commits instead of only planning them")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the plan as JSON")
	syncCmd.Flags().StringVar(&syncStrategy, "strategy", "manual", "Conflict strategy: manual|ours|theirs|union")
}

func runSync(cmd *cobra.Command, args []string) error {
	wc, err := loadWorkspaceContext()
	if err != nil {
		return err
	}

	strategy, ok := vcsshim.ParseStrategy(syncStrategy)
	if !ok {
		return fmt.Errorf("unknown --strategy %q", syncStrategy)
	}

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	splits, err := splitsToRun(wc.cfg, name, syncAll)
	if err != nil {
		return err
	}

	toRemote := !syncFromRemote

	var results []*syncengine.Result
	for _, s := range splits {
		result, err := syncOne(wc, s, strategy, toRemote)
		if err != nil {
			if result == nil {
				return err
			}
			// MergeConflicts: still report the partial result, then fail.
			if !syncJSON {
				printSyncResult(s.Name, result, toRemote)
			}
			return err
		}
		results = append(results, result)
		if !syncJSON {
			printSyncResult(s.Name, result, toRemote)
		}
	}

	if syncJSON {
		return json.NewEncoder(os.Stdout).Encode(results)
	}
	return nil
}

func syncOne(wc *workspaceContext, s config.Split, strategy vcsshim.Strategy, toRemote bool) (*syncengine.Result, error) {
	pkg := wc.ws.FindPackage(s.Name)
	if pkg == nil {
		return nil, fmt.Errorf("package %q not found in workspace", s.Name)
	}
	if s.Remote == "" {
		return nil, fmt.Errorf("split %q has no remote configured in %s", s.Name, config.FileName)
	}

	remote, err := openSplitRepo(wc, s)
	if err != nil {
		return nil, err
	}

	store := correspondence.New(s.Name)
	if err := store.Load(wc.shim); err != nil {
		return nil, err
	}

	opts := syncengine.Options{
		Mono:      wc.shim,
		Remote:    remote,
		Adapter:   wc.adapter,
		Workspace: wc.ws,
		Split: projector.Split{
			PackageName: s.Name,
			Include:     s.IncludePaths(pkg.Path),
			Exclude:     s.Exclude,
		},
		Store:    store,
		Strategy: strategy,
		DryRun:   !syncApply,
		WorkDir:  filepath.Join(os.TempDir(), "git-rail-merge", s.Name),
	}

	if toRemote {
		return syncengine.ToRemote(opts)
	}
	return syncengine.ToMono(opts)
}

func printSyncResult(name string, result *syncengine.Result, toRemote bool) {
	direction := "mono -> remote"
	if !toRemote {
		direction = "remote -> mono"
	}
	color.Cyan("%s (%s): %d commit(s)", name, direction, len(result.Plan.Steps))
	for _, step := range result.Plan.Steps {
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
	if len(result.Conflicts) > 0 {
		color.Yellow("conflicts in %d file(s): %v", len(result.Conflicts), result.Conflicts)
	}
}
