package perflow

import "github.com/google/uuid"

// ArtifactPair names one rank's sample-table artifact and the rank id it
// was collected under. MapPath, if non-empty, is the companion
// memory-map artifact to resolve that rank's stacks against; an empty
// MapPath leaves the rank's frames unresolved (spec §4.6's
// "<unresolved>" fallback).
type ArtifactPair struct {
	SamplePath string
	MapPath    string
	RankID     int64
}

// TreeBuilder assembles a CallTree from one or more artifact pairs,
// per spec §4.7's batch-load contract. Insertion order does not affect
// the resulting tree (commutativity, spec §8), so a TreeBuilder may be
// reused across independent Build calls.
type TreeBuilder struct {
	buildMode BuildMode
	countMode CountMode
}

// NewTreeBuilder constructs a builder with the given tree policies.
func NewTreeBuilder(buildMode BuildMode, countMode CountMode) *TreeBuilder {
	return &TreeBuilder{buildMode: buildMode, countMode: countMode}
}

// Build reads every artifact pair, resolves its stacks, and inserts the
// results into a freshly constructed CallTree. Pairs are processed in
// the order given; per spec §4.7 the final tree does not depend on that
// order.
//
// If a pair fails to load, Build stops and reports the failure via a
// *Error whose LoadedCount field carries the number of pairs that were
// fully loaded before the failing one, per spec.md:242's
// build_from_files contract.
func (b *TreeBuilder) Build(pairs []ArtifactPair) (*CallTree, error) {
	tree := NewCallTree(b.buildMode, b.countMode)
	rankSeen := make(map[int64]bool)

	maps := NewMemoryMapSet()
	resolver := NewAddressResolver(maps)

	for loaded, pair := range pairs {
		table, err := ReadSampleTable(pair.SamplePath)
		if err != nil {
			return nil, withLoadedCount(err, loaded)
		}

		mapID := uuid.Nil
		if pair.MapPath != "" {
			m, _, err := ReadMemoryMap(pair.MapPath)
			if err != nil {
				return nil, withLoadedCount(err, loaded)
			}
			mapID = uuid.New()
			maps.Put(mapID, m)
		}

		for _, entry := range table.Entries {
			stack := entry.Stack
			resolved := resolver.ResolveStack(&stack, mapID)
			tree.insert(resolved, pair.RankID, entry.Count, rankSeen)
		}
	}

	return tree, nil
}

// withLoadedCount annotates err with the number of artifact pairs
// already fully loaded when err occurred, preserving err's Kind/Op/Path
// so callers using KindOf or errors.Is keep working unchanged.
func withLoadedCount(err error, loaded int) error {
	if ae, ok := err.(*Error); ok {
		ae.LoadedCount = loaded
		return ae
	}
	return &Error{Kind: Integrity, Op: "TreeBuilder.Build", Err: err, LoadedCount: loaded}
}

// BuildOne is a convenience wrapper over Build for the common case of a
// single rank's artifact pair.
func (b *TreeBuilder) BuildOne(samplePath, mapPath string, rankID int64) (*CallTree, error) {
	return b.Build([]ArtifactPair{{SamplePath: samplePath, MapPath: mapPath, RankID: rankID}})
}
