package projector

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/vcsshim"
)

type passthroughAdapter struct{}

func (passthroughAdapter) Name() string           { return "stub" }
func (passthroughAdapter) Detect(root string) bool { return true }
func (passthroughAdapter) LoadWorkspace(root string) (*adapter.Workspace, error) {
	return &adapter.Workspace{Root: root}, nil
}
func (passthroughAdapter) TransformManifest(manifest []byte, ctx adapter.TransformContext) ([]byte, error) {
	return manifest, nil
}
func (passthroughAdapter) DiscoverAuxFiles(packagePath string) ([]string, error) { return nil, nil }
func (passthroughAdapter) ShouldExclude(path string) bool                       { return false }
func (passthroughAdapter) ManifestFilename() string                             { return "NEVER-MATCHES.toml" }

func setupRepo(t *testing.T) *vcsshim.Shim {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("init")
	run("config", "user.email", "test@test.com")
	run("config", "user.name", "Test User")

	shim, err := vcsshim.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return shim
}

func writeAndCommit(t *testing.T, dir string, files map[string]string, message string) {
	t.Helper()
	for path, content := range files {
		full := filepath.Join(dir, path)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	run("add", ".")
	run("commit", "-m", message)
}

func TestProjectRelocatesAndRewritesFooter(t *testing.T) {
	shim := setupRepo(t)
	dir := shim.Root()

	writeAndCommit(t, dir, map[string]string{
		"pkg-a/lib.txt": "v1",
		"readme.md":     "root readme",
	}, "initial")
	writeAndCommit(t, dir, map[string]string{
		"pkg-a/lib.txt": "v2",
	}, "update lib")

	store := correspondence.New("pkg-a")
	plan, err := Project(Options{
		Source:    shim,
		Target:    shim,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: dir},
		Split:     Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Mode:      adapter.SplitToRemote,
		Store:     store,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	if len(plan.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %+v", len(plan.Steps), plan.Steps)
	}
	for _, step := range plan.Steps {
		if step.Discarded {
			t.Errorf("step for %s unexpectedly discarded: %s", step.SourceSHA, step.Reason)
		}
		if step.TargetSHA == "" {
			t.Errorf("step for %s has no TargetSHA", step.SourceSHA)
		}
		if !strings.Contains(step.Message, "rail-source: "+step.SourceSHA) {
			t.Errorf("expected footer referencing %s, got message %q", step.SourceSHA, step.Message)
		}
	}

	final := plan.FinalTargetSHA()
	if final == "" || final != plan.Steps[len(plan.Steps)-1].TargetSHA {
		t.Errorf("FinalTargetSHA() = %q, want %q", final, plan.Steps[len(plan.Steps)-1].TargetSHA)
	}

	entries, err := shim.ListTree(mustTreeOf(t, shim, final))
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	want := []vcsshim.TreeEntry{{Mode: "100644", Type: "blob", SHA: entries[0].SHA, Path: "lib.txt"}}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("relocated tree mismatch (-want +got):\n%s", diff)
	}

	if !store.Has(plan.Steps[1].SourceSHA) {
		t.Error("expected correspondence store to record the second commit's mapping")
	}
}

func mustTreeOf(t *testing.T, shim *vcsshim.Shim, sha string) string {
	t.Helper()
	c, err := shim.ReadCommit(sha)
	if err != nil {
		t.Fatal(err)
	}
	return c.Tree
}

func TestProjectOmitsUnmappedParentMakingRoot(t *testing.T) {
	shim := setupRepo(t)
	dir := shim.Root()

	// First commit touches only "other/", so CommitsTouching with
	// Include ["pkg-a"] never surfaces it: its projected counterpart
	// is never recorded in the correspondence store.
	writeAndCommit(t, dir, map[string]string{"other/file.txt": "x"}, "unrelated")
	writeAndCommit(t, dir, map[string]string{"pkg-a/lib.txt": "v1"}, "add pkg-a")

	store := correspondence.New("pkg-a")
	plan, err := Project(Options{
		Source:    shim,
		Target:    shim,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: dir},
		Split:     Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Mode:      adapter.SplitToRemote,
		Store:     store,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step (only the commit touching pkg-a), got %d: %+v", len(plan.Steps), plan.Steps)
	}

	targetSHA := plan.Steps[0].TargetSHA
	target, err := shim.ReadCommit(targetSHA)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if len(target.Parents) != 0 {
		t.Errorf("expected projected commit to be a root commit, got parents %v", target.Parents)
	}
}

func TestProjectDryRunProducesNoCommits(t *testing.T) {
	shim := setupRepo(t)
	dir := shim.Root()
	writeAndCommit(t, dir, map[string]string{"pkg-a/lib.txt": "v1"}, "add pkg-a")

	store := correspondence.New("pkg-a")
	plan, err := Project(Options{
		Source:    shim,
		Target:    shim,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: dir},
		Split:     Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Mode:      adapter.SplitToRemote,
		Store:     store,
		DryRun:    true,
	})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(plan.Steps))
	}
	if plan.Steps[0].TargetSHA != "" {
		t.Errorf("dry run should not assign a TargetSHA, got %q", plan.Steps[0].TargetSHA)
	}
	if store.Count() != 0 {
		t.Errorf("dry run should not record any mapping, got %d", store.Count())
	}
}
