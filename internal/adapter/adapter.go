// Package adapter is component B from spec.md §2: ecosystem-specific
// package discovery and manifest transform, the only polymorphic
// boundary in this system (spec.md §9). Everything else treats a
// workspace and its packages as plain data discovered by whichever
// Adapter detected it.
//
// Grounded on cargo-rail's adapters/mod.rs LanguageAdapter trait and
// adapters/descriptor.rs PackageDescriptor trait, collapsed into one
// Go interface the way the teacher collapses its capability sets into
// small interfaces rather than splitting workspace-level and
// package-level traits.
package adapter

import "github.com/yejune/git-rail/internal/railerr"

// DependencySpec is spec.md §3 Dependency.spec's sum type.
type DependencySpec struct {
	Kind    SpecKind
	Version string // Kind == SpecVersion
	Path    string // Kind == SpecPath, relative to the owning package's directory
	GitURL  string // Kind == SpecGit
	GitRev  string // Kind == SpecGit, optional
}

// SpecKind discriminates DependencySpec.
type SpecKind int

const (
	SpecVersion SpecKind = iota
	SpecPath
	SpecGit
	SpecWorkspace
)

// Dependency is spec.md §3 Dependency.
type Dependency struct {
	Name    string
	Spec    DependencySpec
	IsDev   bool
	IsBuild bool
}

// Package is spec.md §3 Package.
type Package struct {
	Name         string
	Version      string
	Path         string // directory within the workspace root
	ManifestPath string // file within Path
	Dependencies []Dependency
}

// DependsOn reports whether p declares a dependency named name.
func (p *Package) DependsOn(name string) bool {
	for _, d := range p.Dependencies {
		if d.Name == name {
			return true
		}
	}
	return false
}

// PathDependencies returns p's Path-spec dependencies.
func (p *Package) PathDependencies() []Dependency {
	var out []Dependency
	for _, d := range p.Dependencies {
		if d.Spec.Kind == SpecPath {
			out = append(out, d)
		}
	}
	return out
}

// WorkspaceDependencies returns p's Workspace-spec dependencies.
func (p *Package) WorkspaceDependencies() []Dependency {
	var out []Dependency
	for _, d := range p.Dependencies {
		if d.Spec.Kind == SpecWorkspace {
			out = append(out, d)
		}
	}
	return out
}

// Workspace is spec.md §3 Workspace.
type Workspace struct {
	Root             string
	Packages         []Package
	WorkspaceManifest []byte // raw bytes of the shared workspace manifest, e.g. the top-level Cargo.toml
}

// FindPackage returns the package named name, or nil.
func (w *Workspace) FindPackage(name string) *Package {
	for i := range w.Packages {
		if w.Packages[i].Name == name {
			return &w.Packages[i]
		}
	}
	return nil
}

// TransformMode selects the manifest transformer's direction, per
// spec.md §4.1/§4.2.
type TransformMode int

const (
	// SplitToRemote rewrites an intra-workspace manifest for life
	// outside the workspace: Path/Workspace specs become external.
	SplitToRemote TransformMode = iota
	// SyncToMono rewrites an external manifest back into the
	// workspace: matching Version specs become Path specs.
	SyncToMono
	// SyncToRemote is SplitToRemote applied incrementally during an
	// ongoing sync rather than the initial split.
	SyncToRemote
)

// TransformContext supplies everything the transform needs beyond the
// manifest bytes themselves: which package is being transformed, and
// against which workspace (so Path/Workspace specs can be resolved).
type TransformContext struct {
	Workspace   *Workspace
	PackageName string
	Mode        TransformMode
}

// Adapter is the per-ecosystem capability set from spec.md §4.1.
// Implementations MUST be safe to use from multiple goroutines
// concurrently (errgroup-parallel file processing within one commit,
// per spec.md §5); Adapter implementations hold no mutable state.
type Adapter interface {
	// Name identifies the ecosystem for diagnostics (e.g. "cargo").
	Name() string

	// Detect reports whether this adapter recognises a workspace
	// rooted at root.
	Detect(root string) bool

	// LoadWorkspace discovers every package under root and their
	// declared dependencies.
	LoadWorkspace(root string) (*Workspace, error)

	// TransformManifest rewrites manifest per ctx, preserving
	// comment placement, key order, and trailing newlines where the
	// format allows (spec.md §4.2).
	TransformManifest(manifest []byte, ctx TransformContext) ([]byte, error)

	// DiscoverAuxFiles lists the ecosystem's well-known sibling files
	// for packagePath (toolchain config, lint config) that travel
	// with a split but aren't part of the manifest transform.
	DiscoverAuxFiles(packagePath string) ([]string, error)

	// ShouldExclude reports whether path is a well-known build
	// output that should never be part of a projected tree.
	ShouldExclude(path string) bool

	// ManifestFilename is the ecosystem's manifest file name, e.g.
	// "Cargo.toml".
	ManifestFilename() string
}

// registry holds every adapter registered at init time, probed in
// registration order (spec.md §4.1: "first adapter whose detect(root)
// returns true wins").
var registry []Adapter

// Register adds an adapter to the registry. Called from each
// ecosystem package's init().
func Register(a Adapter) {
	registry = append(registry, a)
}

// Detect probes every registered adapter against root and returns the
// first match.
func Detect(root string) (Adapter, error) {
	var names []string
	for _, a := range registry {
		names = append(names, a.Name())
		if a.Detect(root) {
			return a, nil
		}
	}
	return nil, &railerr.NoAdapter{Root: root, Supported: names}
}
