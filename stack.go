package perflow

import "hash/fnv"

// MaxStackDepth is the default fixed capacity of a CallStack, matching
// spec §3's default of 128 frames.
const MaxStackDepth = 128

// CallStack is a fixed-capacity, cheaply-hashable fingerprint of a
// sampled call stack. Storage is inline and the type performs no heap
// allocation on any of its operations, making it safe to use from a
// signal handler (spec §4.1).
//
// The zero value is an empty stack of depth 0, ready to use.
type CallStack struct {
	depth     int32
	hash      uint64
	hashValid bool
	frames    [MaxStackDepth]uintptr
}

// Depth returns the number of valid frames currently held.
func (s *CallStack) Depth() int {
	return int(s.depth)
}

// Frame returns the i-th frame address, oldest-first (index 0 is the
// outermost caller in the captured range). Panics if i is out of
// [0, Depth()).
func (s *CallStack) Frame(i int) uintptr {
	if i < 0 || i >= int(s.depth) {
		panic("perflow: CallStack frame index out of range")
	}
	return s.frames[i]
}

// Frames returns the valid prefix as a slice backed by the stack's own
// array. The slice is invalidated by any subsequent mutation of s.
func (s *CallStack) Frames() []uintptr {
	return s.frames[:s.depth]
}

// Push appends addr as the new innermost frame. It returns false and
// drops the frame if the stack is already at MaxStackDepth, never
// allocating or panicking — the signal handler must be able to call
// this unconditionally.
func (s *CallStack) Push(addr uintptr) bool {
	if int(s.depth) >= len(s.frames) {
		return false
	}
	s.frames[s.depth] = addr
	s.depth++
	s.hashValid = false
	return true
}

// Pop removes and returns the innermost frame. It returns 0 if the
// stack is empty.
func (s *CallStack) Pop() uintptr {
	if s.depth == 0 {
		return 0
	}
	s.depth--
	s.hashValid = false
	return s.frames[s.depth]
}

// Clear resets the stack to depth 0 without releasing storage.
func (s *CallStack) Clear() {
	s.depth = 0
	s.hashValid = false
}

// Set overwrites the stack's valid prefix with the first n entries of
// addrs, truncating to MaxStackDepth if n exceeds it.
func (s *CallStack) Set(addrs []uintptr, n int) {
	if n > len(s.frames) {
		n = len(s.frames)
	}
	copy(s.frames[:n], addrs[:n])
	s.depth = int32(n)
	s.hashValid = false
}

// Hash returns a lazily-computed, cached FNV-1a fingerprint over the
// depth and the valid frame prefix. The cache is invalidated by any
// mutating method. Per spec §9, Hash is a fingerprint for bucketing
// only: two distinct stacks may collide, so callers must always confirm
// equality with Equal before treating a hash match as identity.
func (s *CallStack) Hash() uint64 {
	if s.hashValid {
		return s.hash
	}
	h := fnv.New64a()
	var depthBytes [4]byte
	putUint32(depthBytes[:], uint32(s.depth))
	h.Write(depthBytes[:])
	for i := 0; i < int(s.depth); i++ {
		var b [8]byte
		putUint64(b[:], uint64(s.frames[i]))
		h.Write(b[:])
	}
	s.hash = h.Sum64()
	s.hashValid = true
	return s.hash
}

// Equal reports whether s and t have identical depth and byte-identical
// valid prefixes. This is the authoritative notion of CallStack
// identity; Hash must never be substituted for it (spec §9 Open
// Question: the corpus this spec was distilled from disagreed on this
// point, and the spec resolves it in favor of byte-wise comparison).
func (s *CallStack) Equal(t *CallStack) bool {
	if s.depth != t.depth {
		return false
	}
	for i := 0; i < int(s.depth); i++ {
		if s.frames[i] != t.frames[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of s.
func (s *CallStack) Clone() CallStack {
	c := CallStack{depth: s.depth, hash: s.hash, hashValid: s.hashValid}
	copy(c.frames[:s.depth], s.frames[:s.depth])
	return c
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
	b[6] = byte(v >> 48)
	b[7] = byte(v >> 56)
}
