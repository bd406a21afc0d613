package perflow

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// samplerState names a node in the lifecycle state machine of spec
// §4.4: Uninitialized -> Initialized -> Running -> Stopped -> Uninitialized.
type samplerState int32

const (
	stateUninitialized samplerState = iota
	stateInitialized
	stateRunning
	stateStopped
)

// intervalSource abstracts the two interrupt mechanisms a Sampler can
// arm (HardwareCounter, MonotonicClockTimer). Arm must call onSample
// once per interrupt until Disarm is called, with a *CallStack whose
// frames run outermost-first; neither call may block for more than a
// brief setup/teardown window. The stack passed to onSample is only
// valid for the duration of the call — implementations own and reuse a
// single buffer across ticks, so onSample (and anything it calls
// synchronously, such as CounterTable.Increment) must not retain it.
//
// On Linux, hardwareCounterSource fills the stack from samples the
// kernel itself captured via perf_event_open's PERF_SAMPLE_CALLCHAIN,
// so onSample there reflects the actual interrupted thread.
// monotonicClockTimerSource (on every platform) has no such kernel
// assistance and instead walks runtime.Callers from whatever goroutine
// the Go runtime happened to deliver the tick to — see the doc comments
// on those types for the resulting limitation. The non-Linux
// hardwareCounterSource stub cannot be armed at all: its Arm returns
// NotSupported.
type intervalSource interface {
	Arm(frequencyHz, maxStackDepth int, onSample func(*CallStack)) error
	Disarm() error
}

// Sampler is the runtime component driving periodic call-stack capture
// into a CounterTable, per spec §4.4. A Sampler is not safe for
// concurrent use by multiple goroutines calling its lifecycle methods
// simultaneously; the lifecycle methods serialize through mu. The
// tick path (onSample) does not take mu: it touches only the
// CounterTable and the atomic sample counter.
type Sampler struct {
	mu    sync.Mutex
	state samplerState

	cfg    Config
	table  *CounterTable
	memMap *MemoryMap
	source intervalSource

	samplesCollected atomic.Uint64
	usedTimerSource  TimerSource
}

// NewSampler constructs a Sampler in the Uninitialized state.
func NewSampler() *Sampler {
	return &Sampler{state: stateUninitialized}
}

// Init transitions Uninitialized -> Initialized: it takes cfg as given
// (environment overrides are applied by LoadConfig, not by Init),
// snapshots the process memory map, and allocates the CounterTable.
// Init is not idempotent; calling it outside Uninitialized is a
// StateError.
func (s *Sampler) Init(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateUninitialized {
		return newError(StateError, "Sampler.Init", "", fmt.Errorf("init called in state %d", s.state))
	}

	s.cfg = cfg
	s.table = NewCounterTable(cfg.CounterTableCapacity)

	if m, err := snapshotSelfMemoryMap(); err != nil {
		logger.Warn().Err(err).Msg("memory map snapshot failed; address resolution will be degraded")
		s.memMap = NewMemoryMap()
	} else {
		s.memMap = m
	}

	s.state = stateInitialized
	return nil
}

// Start transitions Initialized|Stopped -> Running, arming the
// configured interrupt source.
func (s *Sampler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateInitialized && s.state != stateStopped {
		return newError(StateError, "Sampler.Start", "", fmt.Errorf("start called in state %d", s.state))
	}

	source, used, err := selectIntervalSource(s.cfg.TimerSource)
	if err != nil {
		return err
	}

	depth := s.cfg.MaxStackDepth
	if !s.cfg.EnableUnwinding {
		depth = 1
	}
	err = source.Arm(s.cfg.FrequencyHz, depth, s.onSample)
	if err != nil && s.cfg.TimerSource == Auto && used == HardwareCounter {
		logger.Info().Err(err).Msg("falling back from HardwareCounter to MonotonicClockTimer")
		source, used = newMonotonicClockTimerSource(), MonotonicClockTimer
		err = source.Arm(s.cfg.FrequencyHz, depth, s.onSample)
	}
	if err != nil {
		if ae, ok := err.(*Error); ok {
			return ae
		}
		return newError(InitFailure, "Sampler.Start", "", err)
	}
	s.usedTimerSource = used
	s.source = source
	s.state = stateRunning
	return nil
}

// Stop transitions Running -> Stopped, disarming the interrupt source.
// The CounterTable is left untouched so Start can re-arm and resume
// accumulating into it.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateRunning {
		return newError(StateError, "Sampler.Stop", "", fmt.Errorf("stop called in state %d", s.state))
	}
	if err := s.source.Disarm(); err != nil {
		return newError(InitFailure, "Sampler.Stop", "", err)
	}
	s.source = nil
	s.state = stateStopped
	return nil
}

// Finalize writes the sample-table and memory-map artifacts and returns
// to Uninitialized. It is idempotent: calling it from any state other
// than Stopped disarms first if Running, and is a no-op if already
// Uninitialized.
func (s *Sampler) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateUninitialized {
		return nil
	}
	if s.state == stateRunning {
		if err := s.source.Disarm(); err != nil {
			return newError(InitFailure, "Sampler.Finalize", "", err)
		}
		s.source = nil
	}

	rank := Rank()
	sample, libmap, text := ArtifactPaths(s.cfg.OutputDir, s.cfg.OutputFilenameStem, rank)

	var err error
	if err = WriteSampleTable(sample, s.table, uint32(s.cfg.MaxStackDepth), time.Now().Unix(), s.cfg.CompressOutput); err != nil {
		logger.Error().Err(err).Str("path", sample).Msg("failed to write sample table")
	}
	if werr := WriteMemoryMap(libmap, s.memMap, int32(os.Getpid()), time.Now().Unix()); werr != nil {
		logger.Error().Err(werr).Str("path", libmap).Msg("failed to write memory map")
		if err == nil {
			err = werr
		}
	}
	if s.cfg.Debug {
		if terr := WriteSampleTableText(text, s.table); terr != nil {
			logger.Debug().Err(terr).Msg("failed to write advisory text sidecar")
		}
	}

	logger.Info().
		Int64("rank", rank).
		Uint64("samples", s.samplesCollected.Load()).
		Uint64("dropped", s.table.Dropped()).
		Str("artifact", sample).
		Msg("sampler finalized")

	s.state = stateUninitialized
	return err
}

// SampleCount returns the number of samples successfully recorded since
// the Sampler was constructed; the count is not reset by Finalize or by
// a later Init.
func (s *Sampler) SampleCount() uint64 {
	return s.samplesCollected.Load()
}

// TimerSourceInUse reports which concrete interrupt source was armed by
// the most recent Start, resolving what Auto picked.
func (s *Sampler) TimerSourceInUse() TimerSource {
	return s.usedTimerSource
}

// onSample is the handler contract of spec §4.4's intervalSource: called
// once per interrupt with the stack the armed source captured. It does
// no work beyond a single CounterTable.Increment, and allocates nothing
// itself — any allocation needed to produce stack is the source's
// responsibility. Every source passes the same CallStack it owns on
// every tick; hardwareCounterSource still allocates scratch slices while
// decoding each ring-buffer record.
func (s *Sampler) onSample(stack *CallStack) {
	s.record(stack)
}

func (s *Sampler) record(stack *CallStack) {
	if s.table.Increment(stack) {
		s.samplesCollected.Add(1)
	}
}

// selectIntervalSource implements the Auto fallback logic of spec §4.4:
// prefer HardwareCounter, fall back to MonotonicClockTimer silently on
// success and with a one-line notice on fallback. Start applies the same
// fallback when the probed HardwareCounter then fails to arm. A non-Auto
// choice either succeeds or Start reports the source's
// NotSupported/Permission error verbatim.
func selectIntervalSource(pref TimerSource) (intervalSource, TimerSource, error) {
	switch pref {
	case HardwareCounter:
		src := newHardwareCounterSource()
		return src, HardwareCounter, nil
	case MonotonicClockTimer:
		return newMonotonicClockTimerSource(), MonotonicClockTimer, nil
	default:
		hw := newHardwareCounterSource()
		if hw.probe() == nil {
			return hw, HardwareCounter, nil
		}
		logger.Info().Msg("falling back from HardwareCounter to MonotonicClockTimer")
		return newMonotonicClockTimerSource(), MonotonicClockTimer, nil
	}
}
