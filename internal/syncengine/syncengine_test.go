package syncengine

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/correspondence"
	"github.com/yejune/git-rail/internal/projector"
	"github.com/yejune/git-rail/internal/vcsshim"
)

type passthroughAdapter struct{}

func (passthroughAdapter) Name() string            { return "stub" }
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

func gitRun(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
}

func newRepo(t *testing.T) *vcsshim.Shim {
	t.Helper()
	dir := t.TempDir()
	gitRun(t, dir, "init")
	gitRun(t, dir, "config", "user.email", "test@test.com")
	gitRun(t, dir, "config", "user.name", "Test User")
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
	gitRun(t, dir, "add", ".")
	gitRun(t, dir, "commit", "-m", message)
}

// setupSplitPair builds a monorepo with one package and its already
// split remote, with a correspondence store already populated (as if
// split had just run), so sync tests can start from a known baseline.
func setupSplitPair(t *testing.T) (mono, remote *vcsshim.Shim, store *correspondence.Store) {
	t.Helper()
	mono = newRepo(t)
	writeAndCommit(t, mono.Root(), map[string]string{
		"pkg-a/lib.txt": "v1",
		"readme.md":     "root",
	}, "initial")

	var err error
	remote, err = vcsshim.Init(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gitRun(t, remote.Root(), "config", "user.email", "test@test.com")
	gitRun(t, remote.Root(), "config", "user.name", "Test User")

	// The projected commit is created in the remote repository, since
	// the remote's branch ref is pointed at it below.
	store = correspondence.New("pkg-a")
	plan, err := projector.Project(projector.Options{
		Source:    mono,
		Target:    remote,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: mono.Root()},
		Split:     projector.Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Mode:      adapter.SplitToRemote,
		Store:     store,
	})
	if err != nil {
		t.Fatalf("initial split Project: %v", err)
	}
	if len(plan.Steps) != 1 {
		t.Fatalf("expected 1 split step, got %d", len(plan.Steps))
	}

	branchRef, err := remote.CurrentBranchRef()
	if err != nil {
		// A brand-new repo with no commits has no symbolic HEAD target
		// resolvable yet on some git versions; fall back to refs/heads/main.
		branchRef = "refs/heads/main"
	}
	if err := remote.UpdateRef(branchRef, plan.Steps[0].TargetSHA); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	gitRun(t, remote.Root(), "checkout", "-f", plan.Steps[0].TargetSHA)
	// After checking out a detached commit, point a real branch at it so
	// CurrentBranchRef resolves cleanly for later steps.
	gitRun(t, remote.Root(), "checkout", "-B", "main")

	if err := store.Save(mono); err != nil {
		t.Fatalf("store.Save: %v", err)
	}

	return mono, remote, store
}

func TestToRemoteAppliesNewMonoCommits(t *testing.T) {
	mono, remote, store := setupSplitPair(t)

	writeAndCommit(t, mono.Root(), map[string]string{"pkg-a/lib.txt": "v2"}, "update lib")

	result, err := ToRemote(Options{
		Mono:      mono,
		Remote:    remote,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: mono.Root()},
		Split:     projector.Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Store:     store,
	})
	if err != nil {
		t.Fatalf("ToRemote: %v", err)
	}
	if len(result.Plan.Steps) != 1 {
		t.Fatalf("expected 1 new step, got %d", len(result.Plan.Steps))
	}

	newRemoteHead, err := remote.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if newRemoteHead != result.Plan.Steps[0].TargetSHA {
		t.Errorf("remote branch not advanced: HEAD=%s, want %s", newRemoteHead, result.Plan.Steps[0].TargetSHA)
	}

	entries, err := remote.ListTree(mustTree(t, remote, newRemoteHead))
	if err != nil {
		t.Fatal(err)
	}
	content := readPath(t, remote, entries, "lib.txt")
	if content != "v2" {
		t.Errorf("expected remote lib.txt = v2, got %q", content)
	}
}

func TestToRemoteUnmappedHeadAborts(t *testing.T) {
	mono, remote, _ := setupSplitPair(t)
	store := correspondence.New("pkg-a") // fresh, empty store: no mapping for remote's tip

	_, err := ToRemote(Options{
		Mono:      mono,
		Remote:    remote,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: mono.Root()},
		Split:     projector.Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Store:     store,
	})
	if err == nil {
		t.Fatal("expected UnmappedRemoteHead error")
	}
}

func TestToMonoAppliesNewRemoteCommits(t *testing.T) {
	mono, remote, store := setupSplitPair(t)

	writeAndCommit(t, remote.Root(), map[string]string{"lib.txt": "remote-v2"}, "remote update")

	result, err := ToMono(Options{
		Mono:      mono,
		Remote:    remote,
		Adapter:   passthroughAdapter{},
		Workspace: &adapter.Workspace{Root: mono.Root()},
		Split:     projector.Split{PackageName: "pkg-a", Include: []string{"pkg-a"}},
		Store:     store,
	})
	if err != nil {
		t.Fatalf("ToMono: %v", err)
	}
	if len(result.Conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %v", result.Conflicts)
	}
	if len(result.Plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(result.Plan.Steps))
	}

	newMonoHead, err := mono.HeadCommit()
	if err != nil {
		t.Fatal(err)
	}
	entries, err := mono.ListTree(mustTree(t, mono, newMonoHead))
	if err != nil {
		t.Fatal(err)
	}
	content := readPath(t, mono, entries, "pkg-a/lib.txt")
	if content != "remote-v2" {
		t.Errorf("expected mono pkg-a/lib.txt = remote-v2, got %q", content)
	}
	readme := readPath(t, mono, entries, "readme.md")
	if readme != "root" {
		t.Errorf("expected readme.md preserved outside package.path, got %q", readme)
	}
}

func mustTree(t *testing.T, shim *vcsshim.Shim, sha string) string {
	t.Helper()
	c, err := shim.ReadCommit(sha)
	if err != nil {
		t.Fatal(err)
	}
	return c.Tree
}

func readPath(t *testing.T, shim *vcsshim.Shim, entries []vcsshim.TreeEntry, path string) string {
	t.Helper()
	for _, e := range entries {
		if e.Path == path {
			b, err := shim.ReadBlob(e.SHA)
			if err != nil {
				t.Fatal(err)
			}
			return string(b)
		}
	}
	t.Fatalf("path %q not found in tree", path)
	return ""
}
