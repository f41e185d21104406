package vcsshim

import (
	"path/filepath"
	"testing"
)

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantOk  bool
	}{
		{"", StrategyManual, true},
		{"manual", StrategyManual, true},
		{"ours", StrategyOurs, true},
		{"use-mono", StrategyOurs, true},
		{"theirs", StrategyTheirs, true},
		{"use-remote", StrategyTheirs, true},
		{"union", StrategyUnion, true},
		{"bogus", 0, false},
	}
	for _, c := range cases {
		got, ok := ParseStrategy(c.in)
		if got != c.want || ok != c.wantOk {
			t.Errorf("ParseStrategy(%q) = (%v, %v), want (%v, %v)", c.in, got, ok, c.want, c.wantOk)
		}
	}
}

func TestMergeFileCleanMerge(t *testing.T) {
	dir := t.TempDir()
	s := &Shim{root: dir}

	base := []byte("line1\nline2\nline3\n")
	current := []byte("line1-mono\nline2\nline3\n")
	incoming := []byte("line1\nline2\nline3-remote\n")

	result, err := s.MergeFile(StrategyManual, base, current, incoming, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatalf("MergeFile: %v", err)
	}
	if result.Outcome != MergeSuccess {
		t.Fatalf("Outcome = %v, want MergeSuccess; content=%s", result.Outcome, result.Content)
	}
	want := "line1-mono\nline2\nline3-remote\n"
	if string(result.Content) != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestMergeFileConflict(t *testing.T) {
	dir := t.TempDir()
	s := &Shim{root: dir}

	base := []byte("line1\n")
	current := []byte("mono-version\n")
	incoming := []byte("remote-version\n")

	result, err := s.MergeFile(StrategyManual, base, current, incoming, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatalf("MergeFile: %v", err)
	}
	if result.Outcome != MergeConflicted {
		t.Fatalf("Outcome = %v, want MergeConflicted", result.Outcome)
	}
	if !contains(string(result.Content), "<<<<<<<") {
		t.Errorf("expected conflict markers in content, got %q", result.Content)
	}
}

func TestMergeFileStrategyOursResolvesConflict(t *testing.T) {
	dir := t.TempDir()
	s := &Shim{root: dir}

	base := []byte("line1\n")
	current := []byte("mono-version\n")
	incoming := []byte("remote-version\n")

	result, err := s.MergeFile(StrategyOurs, base, current, incoming, filepath.Join(dir, "work"))
	if err != nil {
		t.Fatalf("MergeFile: %v", err)
	}
	if result.Outcome != MergeSuccess {
		t.Fatalf("Outcome = %v, want MergeSuccess", result.Outcome)
	}
	if string(result.Content) != "mono-version\n" {
		t.Errorf("Content = %q, want mono-version", result.Content)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && (func() bool {
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				return true
			}
		}
		return false
	})()
}
