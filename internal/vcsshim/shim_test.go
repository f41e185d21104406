package vcsshim

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

func setupRepo(t *testing.T) string {
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
	return dir
}

func commitFile(t *testing.T, dir, path, content string) string {
	t.Helper()
	full := filepath.Join(dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{
		{"add", "."},
		{"commit", "-m", "commit " + path},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, out)
		}
	}
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		t.Fatal(err)
	}
	return string(out[:len(out)-1])
}

func TestOpen(t *testing.T) {
	t.Run("valid repo", func(t *testing.T) {
		dir := setupRepo(t)
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		if s.Root() == "" {
			t.Error("expected non-empty root")
		}
	})

	t.Run("not a repo", func(t *testing.T) {
		dir := t.TempDir()
		if _, err := Open(dir); err == nil {
			t.Error("expected error for non-repo path")
		}
	})
}

func TestInit(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "fresh")
	s, err := Init(path)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, err := Open(s.Root()); err != nil {
		t.Errorf("expected Init to produce an openable repo: %v", err)
	}
}

func TestHeadCommitAndReadCommit(t *testing.T) {
	dir := setupRepo(t)
	sha := commitFile(t, dir, "a.txt", "hello")

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	head, err := s.HeadCommit()
	if err != nil {
		t.Fatalf("HeadCommit: %v", err)
	}
	if head != sha {
		t.Errorf("HeadCommit() = %q, want %q", head, sha)
	}

	c, err := s.ReadCommit(sha)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.SHA != sha {
		t.Errorf("SHA = %q, want %q", c.SHA, sha)
	}
	if c.Author.Email != "test@test.com" {
		t.Errorf("Author.Email = %q", c.Author.Email)
	}
	if len(c.Parents) != 0 {
		t.Errorf("expected root commit to have no parents, got %v", c.Parents)
	}
}

func TestCommitsTouching(t *testing.T) {
	dir := setupRepo(t)
	sha1 := commitFile(t, dir, "pkg-a/f.txt", "1")
	sha2 := commitFile(t, dir, "pkg-b/f.txt", "2")
	sha3 := commitFile(t, dir, "pkg-a/f.txt", "3")

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	all, err := s.CommitsTouching("", nil)
	if err != nil {
		t.Fatalf("CommitsTouching: %v", err)
	}
	if len(all) != 3 || all[0] != sha1 || all[2] != sha3 {
		t.Errorf("CommitsTouching(all) = %v", all)
	}

	restricted, err := s.CommitsTouching("", []string{"pkg-a"})
	if err != nil {
		t.Fatalf("CommitsTouching(pkg-a): %v", err)
	}
	if len(restricted) != 2 || restricted[0] != sha1 || restricted[1] != sha3 {
		t.Errorf("CommitsTouching(pkg-a) = %v, want [%s %s]", restricted, sha1, sha3)
	}
	_ = sha2
}

func TestCommitTreeRoundTrip(t *testing.T) {
	dir := setupRepo(t)
	commitFile(t, dir, "a.txt", "hello")

	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	entries, err := s.ListTree("HEAD")
	if err != nil {
		t.Fatalf("ListTree: %v", err)
	}
	treeSHA, err := s.BuildTree(entries)
	if err != nil {
		t.Fatalf("BuildTree: %v", err)
	}

	when := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	newSHA, err := s.CommitTree(treeSHA, CommitTreeOptions{
		Message:   "projected",
		Author:    Identity{Name: "A", Email: "a@example.com"},
		AuthorAt:  when,
		Committer: Identity{Name: "C", Email: "c@example.com"},
		CommitAt:  when,
	})
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}

	c, err := s.ReadCommit(newSHA)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if c.Message != "projected" {
		t.Errorf("Message = %q", c.Message)
	}
	if c.Author.Name != "A" || c.Author.Email != "a@example.com" {
		t.Errorf("Author = %+v", c.Author)
	}
	if !c.AuthorAt.Equal(when) {
		t.Errorf("AuthorAt = %v, want %v", c.AuthorAt, when)
	}
	if len(c.Parents) != 0 {
		t.Errorf("expected no parents, got %v", c.Parents)
	}
}

func TestWriteBlobAndReadBlob(t *testing.T) {
	dir := setupRepo(t)
	commitFile(t, dir, "seed.txt", "seed")
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	sha, err := s.WriteBlob([]byte("some content\nwith a trailing newline\n"))
	if err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	content, err := s.ReadBlob(sha)
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(content) != "some content\nwith a trailing newline\n" {
		t.Errorf("ReadBlob round-trip mismatch: %q", content)
	}
}

func TestRestrictRelocateOverlayTree(t *testing.T) {
	entries := []TreeEntry{
		{Mode: "100644", Type: "blob", SHA: "s1", Path: "crates/foo/src/lib.rs"},
		{Mode: "100644", Type: "blob", SHA: "s2", Path: "crates/foo/Cargo.toml"},
		{Mode: "100644", Type: "blob", SHA: "s3", Path: "crates/bar/src/lib.rs"},
		{Mode: "100644", Type: "blob", SHA: "s4", Path: "README.md"},
	}

	restricted := RestrictTree(entries, []string{"crates/foo"}, nil)
	if len(restricted) != 2 {
		t.Fatalf("RestrictTree kept %d entries, want 2: %v", len(restricted), restricted)
	}

	relocated := Relocate(restricted, "crates/foo", "")
	wantPaths := map[string]bool{"src/lib.rs": true, "Cargo.toml": true}
	for _, e := range relocated {
		if !wantPaths[e.Path] {
			t.Errorf("unexpected relocated path %q", e.Path)
		}
	}

	overlaid := OverlayTree(entries, "crates/foo", []TreeEntry{
		{Mode: "100644", Type: "blob", SHA: "s5", Path: "crates/foo/src/lib.rs"},
	})
	if len(overlaid) != 3 {
		t.Fatalf("OverlayTree produced %d entries, want 3: %v", len(overlaid), overlaid)
	}
	for _, e := range overlaid {
		if e.Path == "crates/bar/src/lib.rs" && e.SHA != "s3" {
			t.Errorf("overlay should not touch paths outside subPath")
		}
		if e.Path == "crates/foo/src/lib.rs" && e.SHA != "s5" {
			t.Errorf("overlay should replace paths under subPath")
		}
	}
}
