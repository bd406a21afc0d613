// Command perflow-capi, built with `go build -buildmode=c-shared`,
// exposes perflow's runtime library surface as a C-linkage API (spec §6):
// create, init, start, stop, write_output, destroy, get_sample_count,
// plus set_rank. init, start, stop, write_output and destroy return an
// int where 0 means success and negative values are error codes; create
// returns a positive opaque handle, get_sample_count returns the count
// (0 for an unknown handle), and set_rank returns nothing.
package main

import "C"

import (
	"sync"

	"github.com/stealthrocket/perflow"
)

var (
	handlesMu sync.Mutex
	handles   = map[C.int]*perflow.Sampler{}
	nextHandle C.int
)

const (
	errInvalidHandle  = C.int(-1)
	errInitFailed     = C.int(-2)
	errLifecycleError = C.int(-3)
	errWriteFailed    = C.int(-4)
)

//export perflow_create
func perflow_create() C.int {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	nextHandle++
	h := nextHandle
	handles[h] = perflow.NewSampler()
	return h
}

func lookup(handle C.int) *perflow.Sampler {
	handlesMu.Lock()
	defer handlesMu.Unlock()
	return handles[handle]
}

//export perflow_init
func perflow_init(handle C.int, frequency C.int, outputDir *C.char) C.int {
	s := lookup(handle)
	if s == nil {
		return errInvalidHandle
	}

	cfg := perflow.DefaultConfig()
	if frequency > 0 {
		cfg.FrequencyHz = int(frequency)
	}
	if outputDir != nil {
		cfg.OutputDir = C.GoString(outputDir)
	}

	if err := s.Init(cfg); err != nil {
		return errInitFailed
	}
	return 0
}

//export perflow_start
func perflow_start(handle C.int) C.int {
	s := lookup(handle)
	if s == nil {
		return errInvalidHandle
	}
	if err := s.Start(); err != nil {
		return errLifecycleError
	}
	return 0
}

//export perflow_stop
func perflow_stop(handle C.int) C.int {
	s := lookup(handle)
	if s == nil {
		return errInvalidHandle
	}
	if err := s.Stop(); err != nil {
		return errLifecycleError
	}
	return 0
}

//export perflow_write_output
func perflow_write_output(handle C.int) C.int {
	s := lookup(handle)
	if s == nil {
		return errInvalidHandle
	}
	if err := s.Finalize(); err != nil {
		return errWriteFailed
	}
	return 0
}

//export perflow_destroy
func perflow_destroy(handle C.int) C.int {
	handlesMu.Lock()
	defer handlesMu.Unlock()

	if _, ok := handles[handle]; !ok {
		return errInvalidHandle
	}
	delete(handles, handle)
	return 0
}

//export perflow_get_sample_count
func perflow_get_sample_count(handle C.int) C.size_t {
	s := lookup(handle)
	if s == nil {
		return 0
	}
	return C.size_t(s.SampleCount())
}

//export perflow_set_rank
func perflow_set_rank(rank C.longlong) {
	perflow.SetRank(int64(rank))
}

func main() {}
