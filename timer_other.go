//go:build !linux

package perflow

import (
	"runtime"
	"time"
)

// hardwareCounterSource has no portable implementation outside Linux's
// perf_event_open; this core only claims HardwareCounter support on
// Linux (spec §4.4's Auto fallback exists precisely for this case).
type hardwareCounterSource struct{}

func newHardwareCounterSource() *hardwareCounterSource { return &hardwareCounterSource{} }

func (h *hardwareCounterSource) probe() error {
	return newError(NotSupported, "hardwareCounterSource.probe", "", errNotLinux)
}

func (h *hardwareCounterSource) Arm(frequencyHz, maxStackDepth int, onSample func(*CallStack)) error {
	return newError(NotSupported, "hardwareCounterSource.Arm", "", errNotLinux)
}

func (h *hardwareCounterSource) Disarm() error { return nil }

var errNotLinux = errString("hardware performance counters are only supported on linux")

type errString string

func (e errString) Error() string { return string(e) }

// monotonicClockTimerSource falls back to a plain time.Ticker outside
// Linux, since there is no portable ITIMER_PROF/SIGPROF equivalent, nor
// any perf_event fd a kernel could capture a callchain into. Ticks are
// delivered from the ticker's own goroutine rather than a true
// asynchronous signal, so the stack onSample receives here is
// runtime.Callers run on that goroutine — an approximation of whatever
// it happens to be running at tick time, not a capture of the thread
// the spec's "interrupt" model describes. This is the most degraded of
// the three interval sources and exists purely so the sampler still
// builds and runs somewhere outside Linux; see timer_linux.go for the
// Linux sources' kernel-assisted capture.
type monotonicClockTimerSource struct {
	ticker *time.Ticker
	done   chan struct{}
	pcs    []uintptr
	stack  CallStack
}

func newMonotonicClockTimerSource() *monotonicClockTimerSource {
	return &monotonicClockTimerSource{}
}

func (m *monotonicClockTimerSource) Arm(frequencyHz, maxStackDepth int, onSample func(*CallStack)) error {
	if frequencyHz <= 0 {
		frequencyHz = DefaultFrequencyHz
	}
	if maxStackDepth < 1 {
		maxStackDepth = 1
	}
	m.pcs = make([]uintptr, maxStackDepth)

	interval := time.Second / time.Duration(frequencyHz)
	m.ticker = time.NewTicker(interval)
	m.done = make(chan struct{})
	go func() {
		for {
			select {
			case <-m.ticker.C:
				m.onTick(onSample)
			case <-m.done:
				return
			}
		}
	}()
	return nil
}

func (m *monotonicClockTimerSource) onTick(onSample func(*CallStack)) {
	n := runtime.Callers(3, m.pcs) // skip runtime.Callers, onTick, the ticker goroutine frame
	for i, j := 0, n-1; i < j; i, j = i+1, j-1 {
		m.pcs[i], m.pcs[j] = m.pcs[j], m.pcs[i]
	}
	m.stack.Set(m.pcs, n)
	onSample(&m.stack)
}

func (m *monotonicClockTimerSource) Disarm() error {
	if m.ticker == nil {
		return nil
	}
	m.ticker.Stop()
	close(m.done)
	m.ticker = nil
	return nil
}
