package correspondence

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/yejune/git-rail/internal/vcsshim"
)

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

	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0644); err != nil {
		t.Fatal(err)
	}
	run("add", ".")
	run("commit", "-m", "initial")

	s, err := vcsshim.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func headSHA(t *testing.T, s *vcsshim.Shim) string {
	t.Helper()
	sha, err := s.HeadCommit()
	if err != nil {
		t.Fatal(err)
	}
	return sha
}

func TestNewStoreIsEmpty(t *testing.T) {
	s := New("my-package")
	if s.Count() != 0 {
		t.Errorf("Count() = %d, want 0", s.Count())
	}
}

func TestRecordAndGet(t *testing.T) {
	s := New("my-package")
	s.Record("abc123", "def456")

	if s.Count() != 1 {
		t.Errorf("Count() = %d, want 1", s.Count())
	}
	if !s.Has("abc123") {
		t.Error("Has(abc123) = false, want true")
	}
	got, ok := s.Get("abc123")
	if !ok || got != "def456" {
		t.Errorf("Get(abc123) = (%q, %v), want (def456, true)", got, ok)
	}
	if _, ok := s.Get("unknown"); ok {
		t.Error("Get(unknown) should not be found")
	}
}

func TestSaveAndLoad(t *testing.T) {
	shim := setupRepo(t)
	sha := headSHA(t, shim)

	store := New("test-package")
	store.Record(sha, "remote-sha-1")
	if err := store.Save(shim); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := New("test-package")
	if err := loaded.Load(shim); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", loaded.Count())
	}
	got, ok := loaded.Get(sha)
	if !ok || got != "remote-sha-1" {
		t.Errorf("Get(%s) = (%q, %v), want (remote-sha-1, true)", sha, got, ok)
	}
}

func TestLoadNonexistentRef(t *testing.T) {
	shim := setupRepo(t)

	store := New("never-used")
	if err := store.Load(shim); err != nil {
		t.Fatalf("Load on missing ref should succeed, got %v", err)
	}
	if store.Count() != 0 {
		t.Errorf("Count() = %d, want 0", store.Count())
	}
}

func TestClear(t *testing.T) {
	s := New("my-package")
	s.Record("abc", "def")
	s.Clear()
	if s.Count() != 0 {
		t.Errorf("Count() after Clear = %d, want 0", s.Count())
	}
	if s.Has("abc") {
		t.Error("Has(abc) after Clear should be false")
	}
}

func TestAllSortedBySource(t *testing.T) {
	s := New("my-package")
	s.Record("sha3", "remote3")
	s.Record("sha1", "remote1")
	s.Record("sha2", "remote2")

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d mappings, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].From >= all[i].From {
			t.Errorf("All() not sorted: %v", all)
		}
	}
}

func TestRefNamespacesByPackage(t *testing.T) {
	a := New("package-a")
	b := New("package-b")
	if a.Ref() == b.Ref() {
		t.Errorf("expected distinct refs, both got %q", a.Ref())
	}
	if a.Ref() != "refs/notes/rail/package-a" {
		t.Errorf("Ref() = %q, want refs/notes/rail/package-a", a.Ref())
	}
}
