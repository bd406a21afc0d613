package perflow

import (
	"io"
	"time"

	"github.com/google/pprof/profile"
)

// WritePprof renders tree as a go tool pprof-compatible profile.Profile
// and writes its gzip-encoded wire format to w. This is a read-only view
// of an already-built tree (spec §4.7's CallTree is observationally
// immutable once built) bolted on alongside the custom on-disk format,
// not a replacement for it.
func (t *CallTree) WritePprof(w io.Writer) error {
	prof := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "samples", Unit: "count"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	funcs := map[string]*profile.Function{}
	locs := map[string]*profile.Location{}
	var nextID uint64

	locationFor := func(name string) *profile.Location {
		if l, ok := locs[name]; ok {
			return l
		}
		nextID++
		fn := funcs[name]
		if fn == nil {
			fn = &profile.Function{ID: nextID, Name: name, SystemName: name}
			funcs[name] = fn
			prof.Function = append(prof.Function, fn)
		}
		nextID++
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn}},
		}
		locs[name] = loc
		prof.Location = append(prof.Location, loc)
		return loc
	}

	var path []*profile.Location
	var walk func(n *TreeNode)
	walk = func(n *TreeNode) {
		if !n.IsRoot() {
			path = append(path, locationFor(n.Frame().Library))
			defer func() { path = path[:len(path)-1] }()
		}

		if n.SelfCount() > 0 {
			reversed := make([]*profile.Location, len(path))
			for i, l := range path {
				reversed[len(path)-1-i] = l
			}
			prof.Sample = append(prof.Sample, &profile.Sample{
				Location: reversed,
				Value:    []int64{int64(n.SelfCount())},
			})
		}

		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(t.Root())

	return prof.Write(w)
}
