//go:build linux

package perflow

import "os"

// snapshotSelfMemoryMap captures the calling process's executable memory
// regions from /proc/self/maps, the concrete realization of spec §4.3's
// "process memory-map text file" on the only platform this core claims
// full support on.
func snapshotSelfMemoryMap() (*MemoryMap, error) {
	f, err := os.Open("/proc/self/maps")
	if err != nil {
		return nil, newError(FileOpen, "snapshotSelfMemoryMap", "/proc/self/maps", err)
	}
	defer f.Close()
	return ParseMemoryMap(f)
}
