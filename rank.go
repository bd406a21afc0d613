package perflow

import "sync/atomic"

// rankID is the process-wide MPI rank identifier. It defaults to -1 and
// is expected to be set exactly once by an external rank-identification
// hook after it observes the process's rank assignment (spec §4.4/§9).
// A relaxed atomic is sufficient: the setter runs on an arbitrary thread
// at an arbitrary time, and Sampler.Finalize reads it exactly once.
var rankID atomic.Int64

func init() {
	rankID.Store(-1)
}

// SetRank sets the process-wide rank identifier. Intended to be called
// once by the MPI rank-identification collaborator described in spec
// §4.4 and §6; the core places no constraint on when this happens
// beyond "before Finalize is expected to name artifacts correctly".
func SetRank(rank int64) {
	rankID.Store(rank)
}

// Rank returns the current process-wide rank identifier, or -1 if it
// was never set.
func Rank() int64 {
	return rankID.Load()
}
