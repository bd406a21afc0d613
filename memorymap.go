package perflow

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// DynamicBaseThreshold is the fixed boundary between a static
// (non-relocatable) executable's load address and a dynamically loaded
// shared object's base address, per spec §3.
const DynamicBaseThreshold = uintptr(0x1000_0000)

// MemoryRegion describes one executable mapping captured from a
// process's memory map at a point in time.
type MemoryRegion struct {
	Name       string
	Base       uintptr
	End        uintptr
	Executable bool
}

// MemoryMap is an ordered, immutable-after-construction snapshot of a
// process's executable memory regions (spec §3/§4.3).
type MemoryMap struct {
	regions []MemoryRegion
}

// NewMemoryMap constructs an empty MemoryMap; regions are normally
// supplied via ParseMemoryMap or loaded from an artifact.
func NewMemoryMap() *MemoryMap {
	return &MemoryMap{}
}

// Regions returns the ordered, executable-only regions held by m.
func (m *MemoryMap) Regions() []MemoryRegion {
	return m.regions
}

// add appends a region, preserving the order regions are added in; only
// the builder/parser should call this.
func (m *MemoryMap) add(r MemoryRegion) {
	m.regions = append(m.regions, r)
}

// ParseMemoryMap parses a line-oriented process memory-map text stream,
// in the grammar of Linux's /proc/[pid]/maps:
//
//	<base>-<end> <perms> <offset> <dev> <inode> [pathname]
//
// Only regions whose perms include the executable bit ('x') are
// retained, matching spec §4.3. Regions without a pathname are assigned
// the bracketed sentinel "[anonymous]"; lines already carrying a
// bracketed pseudo-path ("[stack]", "[heap]", "[vdso]", ...) keep it
// verbatim.
func ParseMemoryMap(r io.Reader) (*MemoryMap, error) {
	m := NewMemoryMap()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		region, ok, err := parseMapsLine(line)
		if err != nil {
			return nil, newError(InvalidFormat, "ParseMemoryMap", "", err)
		}
		if ok && region.Executable {
			m.add(region)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, newError(FileRead, "ParseMemoryMap", "", err)
	}
	return m, nil
}

func parseMapsLine(line string) (MemoryRegion, bool, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return MemoryRegion{}, false, nil
	}

	addrRange := fields[0]
	perms := fields[1]

	dash := strings.IndexByte(addrRange, '-')
	if dash < 0 {
		return MemoryRegion{}, false, fmt.Errorf("malformed address range %q", addrRange)
	}
	base, err := strconv.ParseUint(addrRange[:dash], 16, 64)
	if err != nil {
		return MemoryRegion{}, false, fmt.Errorf("malformed base address %q: %w", addrRange[:dash], err)
	}
	end, err := strconv.ParseUint(addrRange[dash+1:], 16, 64)
	if err != nil {
		return MemoryRegion{}, false, fmt.Errorf("malformed end address %q: %w", addrRange[dash+1:], err)
	}
	if end <= base {
		return MemoryRegion{}, false, fmt.Errorf("invalid region %#x-%#x: base must be < end", base, end)
	}

	executable := len(perms) >= 3 && perms[2] == 'x'

	name := "[anonymous]"
	if len(fields) >= 6 {
		name = strings.Join(fields[5:], " ")
	} else if len(fields) == 5 {
		// No pathname field at all; keep the anonymous sentinel.
	}

	return MemoryRegion{
		Name:       name,
		Base:       uintptr(base),
		End:        uintptr(end),
		Executable: executable,
	}, true, nil
}

// Resolve finds the first executable region containing addr and returns
// its name and the offset computed per spec §3's static/dynamic rule:
// offset = addr - base when base >= DynamicBaseThreshold, else
// offset = addr verbatim. Lookup is O(regions); no indexing is
// maintained, matching spec §4.3.
func (m *MemoryMap) Resolve(addr uintptr) (name string, offset uintptr, ok bool) {
	for _, r := range m.regions {
		if addr >= r.Base && addr < r.End {
			if r.Base >= DynamicBaseThreshold {
				return r.Name, addr - r.Base, true
			}
			return r.Name, addr, true
		}
	}
	return "", 0, false
}

// MemoryMapSet holds multiple named MemoryMap snapshots, keyed by a
// uuid.UUID map id. This realizes the Open Question in spec §9/§3: the
// core never requires more than one snapshot per process, but an
// implementer may opt into re-snapshotting on dynamic load/unload by
// keeping several around. The Sampler does not use a MemoryMapSet (it
// keeps its single snapshot as a plain *MemoryMap); TreeBuilder registers
// each loaded memory-map artifact under a fresh random UUID.
type MemoryMapSet struct {
	snapshots map[uuid.UUID]*MemoryMap
}

// NewMemoryMapSet returns an empty set.
func NewMemoryMapSet() *MemoryMapSet {
	return &MemoryMapSet{snapshots: make(map[uuid.UUID]*MemoryMap)}
}

// Put registers m under id, replacing any previous snapshot at that id.
func (s *MemoryMapSet) Put(id uuid.UUID, m *MemoryMap) {
	s.snapshots[id] = m
}

// Get returns the snapshot registered under id, if any.
func (s *MemoryMapSet) Get(id uuid.UUID) (*MemoryMap, bool) {
	m, ok := s.snapshots[id]
	return m, ok
}
