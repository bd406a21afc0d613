//go:build !linux

package perflow

// snapshotSelfMemoryMap has no portable equivalent of /proc/self/maps
// outside Linux; this core only claims full support there (spec §4.3's
// grammar is the Linux one), so other platforms get an empty snapshot
// and every resolved frame falls back to "<unresolved>".
func snapshotSelfMemoryMap() (*MemoryMap, error) {
	return NewMemoryMap(), nil
}
