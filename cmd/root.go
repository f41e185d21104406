// Package cmd implements the git-rail CLI commands.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yejune/git-rail/internal/adapter"
	_ "github.com/yejune/git-rail/internal/adapter/cargo"
	"github.com/yejune/git-rail/internal/config"
	"github.com/yejune/git-rail/internal/railerr"
	"github.com/yejune/git-rail/internal/vcsshim"
)

// Version is set at build time via -ldflags.
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "git-rail",
	Short: "Split packages out of a monorepo and keep them synced",
	Long: `git-rail splits packages out of a polyglot monorepo into standalone
per-package repositories, preserving the history that touched them, and
keeps those repositories bidirectionally synchronized with the monorepo.

Commands (workflow order):
  init    Discover packages and write the config file
  split   Project a package's history into its own repository
  sync    Replay new commits between the monorepo and a split repository
  doctor  Diagnose the workspace and correspondence store`,
	Version: Version,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Print every git command as it runs")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(splitCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(doctorCmd)
}

// verbose mirrors vcsshim.Shim.Verbose onto every Shim this process
// opens, the way the teacher threads a single global flag through.
var verbose bool

// osExit is a variable that can be overridden in tests.
var osExit = os.Exit

// Execute runs the root command and exits with the error's mapped
// exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		osExit(railerr.ExitCode(err))
	}
}

// workspaceContext bundles everything a split/sync/doctor run needs,
// resolved once from the current directory.
type workspaceContext struct {
	root    string
	shim    *vcsshim.Shim
	cfg     *config.Config
	ws      *adapter.Workspace
	adapter adapter.Adapter
}

// loadWorkspaceContext opens the git repository containing the
// current directory, loads its config file, detects the package
// ecosystem, and loads the workspace's packages.
func loadWorkspaceContext() (*workspaceContext, error) {
	shim, err := vcsshim.Open(".")
	if err != nil {
		return nil, err
	}
	shim.Verbose = verbose

	cfg, err := config.Load(shim.Root())
	if err != nil {
		return nil, err
	}

	a, err := adapter.Detect(shim.Root())
	if err != nil {
		return nil, err
	}

	ws, err := a.LoadWorkspace(shim.Root())
	if err != nil {
		return nil, err
	}

	return &workspaceContext{root: shim.Root(), shim: shim, cfg: cfg, ws: ws, adapter: a}, nil
}

// splitRepoDir returns the local working copy path split and sync both
// use for a split's target repository, so the two commands always
// operate on the same physical repository instead of each inventing
// its own location.
func splitRepoDir(wc *workspaceContext, s config.Split) string {
	return filepath.Join(wc.root, ".git-rail", s.Name)
}

// openSplitRepo opens (or, on first use, materialises) the local
// working copy of s's split repository. If a repository already
// exists at splitRepoDir it is opened as-is; otherwise it is cloned
// from s.Remote when configured, or initialised empty when not (the
// common case for a split that hasn't been pushed anywhere yet).
func openSplitRepo(wc *workspaceContext, s config.Split) (*vcsshim.Shim, error) {
	dir := splitRepoDir(wc, s)

	if shim, err := vcsshim.Open(dir); err == nil {
		shim.Verbose = verbose
		return shim, nil
	}

	var shim *vcsshim.Shim
	var err error
	if s.Remote != "" {
		shim, err = vcsshim.Clone(s.Remote, dir)
	} else {
		shim, err = vcsshim.Init(dir)
	}
	if err != nil {
		return nil, err
	}
	shim.Verbose = verbose
	return shim, nil
}

// splitsToRun resolves which config.Split entries a command should
// act on: either the single name given, or --all of them.
func splitsToRun(cfg *config.Config, name string, all bool) ([]config.Split, error) {
	if all {
		return cfg.Splits, nil
	}
	s := cfg.Find(name)
	if s == nil {
		return nil, fmt.Errorf("no split named %q in %s", name, config.FileName)
	}
	return []config.Split{*s}, nil
}
