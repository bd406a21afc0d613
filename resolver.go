package perflow

import "github.com/google/uuid"

// ResolvedFrame is a raw address resolved to a (library, offset) pair,
// per spec §3.
type ResolvedFrame struct {
	Raw     uintptr
	Library string
	Offset  uintptr
}

// unresolvedLibrary is used for frames whose address falls outside any
// known memory region.
const unresolvedLibrary = "<unresolved>"

// AddressResolver resolves raw call-stack addresses against a set of
// MemoryMap snapshots (spec §4.6).
type AddressResolver struct {
	maps *MemoryMapSet
}

// NewAddressResolver constructs a resolver over the given snapshot set.
func NewAddressResolver(maps *MemoryMapSet) *AddressResolver {
	return &AddressResolver{maps: maps}
}

// ResolveStack resolves every address in stack against the MemoryMap
// identified by mapID, preserving order. Addresses with no matching
// region resolve to the unresolved sentinel with offset equal to the
// raw address, per spec §4.6.
func (r *AddressResolver) ResolveStack(stack *CallStack, mapID uuid.UUID) []ResolvedFrame {
	m, ok := r.maps.Get(mapID)
	frames := stack.Frames()
	out := make([]ResolvedFrame, len(frames))
	for i, addr := range frames {
		if ok {
			if name, offset, found := m.Resolve(addr); found {
				out[i] = ResolvedFrame{Raw: addr, Library: name, Offset: offset}
				continue
			}
		}
		out[i] = ResolvedFrame{Raw: addr, Library: unresolvedLibrary, Offset: addr}
	}
	return out
}

// ResolveStacks applies ResolveStack to every stack in stacks, in
// order, against the same map id.
func (r *AddressResolver) ResolveStacks(stacks []CallStack, mapID uuid.UUID) [][]ResolvedFrame {
	out := make([][]ResolvedFrame, len(stacks))
	for i := range stacks {
		out[i] = r.ResolveStack(&stacks[i], mapID)
	}
	return out
}
