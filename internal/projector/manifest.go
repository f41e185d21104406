package projector

import (
	"fmt"
	"path/filepath"

	"github.com/yejune/git-rail/internal/adapter"
	"github.com/yejune/git-rail/internal/vcsshim"
)

// transformManifests materialises every entry's blob into
// opts.Target's object database: content is read from opts.Source,
// passed through the adapter's manifest transform when the entry is
// a manifest (the adapter's ManifestFilename, at any depth), and
// written to opts.Target unchanged otherwise. A blob's SHA is a pure
// function of its bytes, so re-writing unchanged content reproduces
// the same SHA while making the object locally available in Target —
// required before BuildTree/mktree can reference it there.
func transformManifests(opts Options, entries []vcsshim.TreeEntry) ([]vcsshim.TreeEntry, error) {
	if len(entries) == 0 {
		return entries, nil
	}

	manifestName := opts.Adapter.ManifestFilename()
	out := make([]vcsshim.TreeEntry, len(entries))
	copy(out, entries)

	for i, e := range out {
		if e.Type != "blob" {
			// Submodule gitlinks carry a commit SHA, not blob content;
			// there is nothing to materialise, so the entry is kept
			// as-is.
			continue
		}

		raw, err := opts.Source.ReadBlob(e.SHA)
		if err != nil {
			return nil, fmt.Errorf("reading blob for %s: %w", e.Path, err)
		}

		content := raw
		if filepath.Base(e.Path) == manifestName {
			content, err = opts.Adapter.TransformManifest(raw, adapter.TransformContext{
				Workspace:   opts.Workspace,
				PackageName: opts.Split.PackageName,
				Mode:        opts.Mode,
			})
			if err != nil {
				return nil, fmt.Errorf("transforming %s: %w", e.Path, err)
			}
		}

		newSHA, err := opts.Target.WriteBlob(content)
		if err != nil {
			return nil, fmt.Errorf("writing blob for %s: %w", e.Path, err)
		}
		out[i].SHA = newSHA
	}

	return out, nil
}
