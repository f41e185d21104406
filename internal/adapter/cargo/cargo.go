// Package cargo implements the adapter.Adapter contract for Rust's
// Cargo ecosystem: Cargo.toml workspaces and crates.
//
// Grounded on cargo-rail's (unreachable in the retrieved source, but
// named by) adapters/mod.rs LanguageAdapter/adapters/descriptor.rs
// PackageDescriptor pair and cargo/files.rs's auxiliary-file
// discovery; workspace/member parsing uses pelletier/go-toml's Tree
// API the way coreos-coreos-assembler/tools vendors it for its own
// TOML config handling.
package cargo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	toml "github.com/pelletier/go-toml"

	"github.com/yejune/git-rail/internal/adapter"
)

func init() {
	adapter.Register(&Adapter{})
}

// Adapter is the Cargo implementation of adapter.Adapter.
type Adapter struct{}

// Name is "cargo".
func (a *Adapter) Name() string { return "cargo" }

// Detect reports whether root holds a workspace-root Cargo.toml (one
// with a [workspace] table). A crate-only Cargo.toml without a
// [workspace] table does not count: split/sync operate on a workspace
// of packages, matching cargo-rail's can_handle semantics.
func (a *Adapter) Detect(root string) bool {
	data, err := os.ReadFile(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		return false
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return false
	}
	return tree.Has("workspace")
}

// LoadWorkspace parses the workspace-root Cargo.toml's [workspace]
// members (supporting simple glob entries like "crates/*") and each
// member's own Cargo.toml.
func (a *Adapter) LoadWorkspace(root string) (*adapter.Workspace, error) {
	rootManifest := filepath.Join(root, "Cargo.toml")
	data, err := os.ReadFile(rootManifest)
	if err != nil {
		return nil, fmt.Errorf("cargo: reading %s: %w", rootManifest, err)
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("cargo: parsing %s: %w", rootManifest, err)
	}

	members, err := resolveMembers(root, tree)
	if err != nil {
		return nil, err
	}

	ws := &adapter.Workspace{Root: root, WorkspaceManifest: data}
	for _, memberDir := range members {
		pkg, err := loadPackage(root, memberDir)
		if err != nil {
			return nil, err
		}
		if pkg != nil {
			ws.Packages = append(ws.Packages, *pkg)
		}
	}

	sort.Slice(ws.Packages, func(i, j int) bool { return ws.Packages[i].Name < ws.Packages[j].Name })
	return ws, nil
}

// resolveMembers expands [workspace].members (and subtracts .exclude)
// into a sorted list of package directories relative to root.
func resolveMembers(root string, tree *toml.Tree) ([]string, error) {
	wsTree, ok := tree.Get("workspace").(*toml.Tree)
	if !ok {
		return nil, nil
	}

	var patterns []string
	if raw, ok := wsTree.Get("members").([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				patterns = append(patterns, s)
			}
		}
	}

	excludeSet := map[string]bool{}
	if raw, ok := wsTree.Get("exclude").([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				excludeSet[filepath.Clean(s)] = true
			}
		}
	}

	var out []string
	seen := map[string]bool{}
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(root, pat))
		if err != nil {
			return nil, fmt.Errorf("cargo: bad members glob %q: %w", pat, err)
		}
		for _, m := range matches {
			rel, err := filepath.Rel(root, m)
			if err != nil {
				continue
			}
			rel = filepath.Clean(rel)
			if excludeSet[rel] || seen[rel] {
				continue
			}
			if _, err := os.Stat(filepath.Join(m, "Cargo.toml")); err != nil {
				continue
			}
			seen[rel] = true
			out = append(out, rel)
		}
	}
	sort.Strings(out)
	return out, nil
}

// loadPackage reads memberDir's Cargo.toml into an adapter.Package. A
// member directory with no [package] table (a virtual manifest) is
// skipped, returning (nil, nil).
func loadPackage(root, memberDir string) (*adapter.Package, error) {
	manifestRel := filepath.Join(memberDir, "Cargo.toml")
	data, err := os.ReadFile(filepath.Join(root, manifestRel))
	if err != nil {
		return nil, fmt.Errorf("cargo: reading %s: %w", manifestRel, err)
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("cargo: parsing %s: %w", manifestRel, err)
	}

	pkgTree, ok := tree.Get("package").(*toml.Tree)
	if !ok {
		return nil, nil
	}

	name, _ := pkgTree.Get("name").(string)
	if name == "" {
		return nil, fmt.Errorf("cargo: %s missing package.name", manifestRel)
	}
	version, _ := pkgTree.Get("version").(string)

	deps, err := parseDependencies(tree)
	if err != nil {
		return nil, fmt.Errorf("cargo: %s: %w", manifestRel, err)
	}

	return &adapter.Package{
		Name:         name,
		Version:      version,
		Path:         memberDir,
		ManifestPath: manifestRel,
		Dependencies: deps,
	}, nil
}

var depTables = []struct {
	key     string
	isDev   bool
	isBuild bool
}{
	{"dependencies", false, false},
	{"dev-dependencies", true, false},
	{"build-dependencies", false, true},
}

func parseDependencies(tree *toml.Tree) ([]adapter.Dependency, error) {
	var out []adapter.Dependency
	for _, dt := range depTables {
		sub, ok := tree.Get(dt.key).(*toml.Tree)
		if !ok {
			continue
		}
		names := sub.Keys()
		sort.Strings(names)
		for _, name := range names {
			spec, err := parseDependencySpec(sub.Get(name))
			if err != nil {
				return nil, fmt.Errorf("dependency %q: %w", name, err)
			}
			out = append(out, adapter.Dependency{
				Name: name, Spec: spec, IsDev: dt.isDev, IsBuild: dt.isBuild,
			})
		}
	}
	return out, nil
}

func parseDependencySpec(value interface{}) (adapter.DependencySpec, error) {
	switch v := value.(type) {
	case string:
		return adapter.DependencySpec{Kind: adapter.SpecVersion, Version: v}, nil
	case *toml.Tree:
		if b, ok := v.Get("workspace").(bool); ok && b {
			return adapter.DependencySpec{Kind: adapter.SpecWorkspace}, nil
		}
		if p, ok := v.Get("path").(string); ok {
			return adapter.DependencySpec{Kind: adapter.SpecPath, Path: p}, nil
		}
		if url, ok := v.Get("git").(string); ok {
			rev, _ := v.Get("rev").(string)
			if rev == "" {
				rev, _ = v.Get("branch").(string)
			}
			if rev == "" {
				rev, _ = v.Get("tag").(string)
			}
			return adapter.DependencySpec{Kind: adapter.SpecGit, GitURL: url, GitRev: rev}, nil
		}
		if ver, ok := v.Get("version").(string); ok {
			return adapter.DependencySpec{Kind: adapter.SpecVersion, Version: ver}, nil
		}
		return adapter.DependencySpec{Kind: adapter.SpecVersion, Version: ""}, nil
	default:
		return adapter.DependencySpec{}, fmt.Errorf("unsupported dependency value %#v", value)
	}
}

// ShouldExclude matches any path with a `target` (Cargo's build output)
// or `.git` component.
func (a *Adapter) ShouldExclude(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == "target" || part == ".git" {
			return true
		}
	}
	return false
}

// ManifestFilename is "Cargo.toml".
func (a *Adapter) ManifestFilename() string { return "Cargo.toml" }

// auxFileNames are the toolchain/format-config sibling files cargo-rail's
// cargo/files.rs AuxiliaryFiles discovers, tried package-dir-first then
// workspace-root-fallback.
var auxFileNames = []string{
	"rust-toolchain.toml",
	"rust-toolchain",
	"rustfmt.toml",
	".rustfmt.toml",
	filepath.Join(".cargo", "config.toml"),
}

// projectFileNames are cargo-rail's ProjectFiles: crate-first,
// workspace-fallback documentation/licensing files.
var projectFileNames = []string{
	"README.md",
	"LICENSE",
	"LICENSE-MIT",
	"LICENSE-APACHE",
}

// DiscoverAuxFiles returns every auxiliary/project file that actually
// exists directly under packagePath (an absolute directory). Callers
// wanting cargo-rail's crate-first/workspace-fallback behaviour call
// this once with the package directory and once with the workspace
// root, preferring the package-directory hits (split.go does this).
func (a *Adapter) DiscoverAuxFiles(packagePath string) ([]string, error) {
	var out []string
	for _, name := range append(append([]string{}, auxFileNames...), projectFileNames...) {
		candidate := filepath.Join(packagePath, name)
		if _, err := os.Stat(candidate); err == nil {
			out = append(out, candidate)
		}
	}
	return out, nil
}
