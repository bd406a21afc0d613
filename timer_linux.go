//go:build linux

package perflow

import (
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigprofListener multiplexes a single SIGPROF stream to whichever
// intervalSource currently owns it, waking a dedicated goroutine on
// every signal. Go cannot run arbitrary code inside the kernel's
// signal-delivery trampoline, so the goroutine this wakes is never the
// interrupted thread; what it is safe to do there depends on where the
// stack itself came from, which differs by source — see
// hardwareCounterSource and monotonicClockTimerSource below.
type sigprofListener struct {
	mu     sync.Mutex
	ch     chan os.Signal
	onWake func()
	done   chan struct{}
}

func newSigprofListener() *sigprofListener {
	return &sigprofListener{}
}

func (l *sigprofListener) start(onWake func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onWake = onWake
	l.ch = make(chan os.Signal, 64)
	l.done = make(chan struct{})
	signal.Notify(l.ch, syscall.SIGPROF)

	go func() {
		for {
			select {
			case <-l.ch:
				l.onWake()
			case <-l.done:
				return
			}
		}
	}()
}

func (l *sigprofListener) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ch == nil {
		return
	}
	signal.Stop(l.ch)
	close(l.done)
	l.ch = nil
}

// perfEventAttrSize is the expected on-wire size of unix.PerfEventAttr
// for the kernel ABI this core targets.
const perfEventAttrSize = 128

// perfSampleIP and perfSampleCallchain are bits of perf_event_attr's
// sample_type bitmask (enum perf_event_sample_format in
// linux/perf_event.h). golang.org/x/sys/unix names the Bits field's
// flags (PerfBitDisabled, PerfBitFreq, ...) but not these, so they are
// defined locally.
const (
	perfSampleIP        = 1 << 0
	perfSampleCallchain = 1 << 5
)

// perfRecordSample is PERF_RECORD_SAMPLE from enum perf_event_type.
const perfRecordSample = 9

// perfContextMarkerFloor is the smallest of the PERF_CONTEXT_* sentinel
// values the kernel interleaves into a callchain to mark a transition
// between stack domains (user/kernel/hypervisor/guest). Real
// instruction addresses never reach this close to the top of the
// address space, so any callchain entry at or above it is a marker, not
// a frame.
const perfContextMarkerFloor = ^uint64(0) - 4095

// ringBuffer reads PERF_RECORD_SAMPLE entries out of the mmap'd ring
// buffer a perf_event fd exposes, per perf_event_open(2)'s "mmap layout"
// section. The kernel writes data_head/advances the buffer
// independently of this reader; draining is safe to do at whatever pace
// the owning goroutine gets around to it; the kernel has already
// finished capturing each sample's callchain before it lands here.
type ringBuffer struct {
	mem        []byte
	meta       []byte
	data       []byte
	dataOffset uint64
	dataSize   uint64
	tail       uint64
}

// perf_event_mmap_page lays out version/compat_version/lock/index/
// offset/time_* fields in its first 1024 bytes, then data_head,
// data_tail, data_offset, data_size as consecutive u64 fields; see
// struct perf_event_mmap_page in linux/perf_event.h. These offsets are
// a stable kernel ABI, not a guess.
const (
	perfMmapDataHeadOffset   = 1024
	perfMmapDataTailOffset   = 1032
	perfMmapDataOffsetOffset = 1040
	perfMmapDataSizeOffset   = 1048
)

func newRingBuffer(mem []byte, pageSize int) *ringBuffer {
	rb := &ringBuffer{mem: mem, meta: mem[:pageSize]}

	dataOffset := rb.loadMeta(perfMmapDataOffsetOffset)
	dataSize := rb.loadMeta(perfMmapDataSizeOffset)
	if dataSize == 0 {
		// Kernels predating the data_offset/data_size fields (< 4.1)
		// always place the ring immediately after the metadata page.
		dataOffset = uint64(pageSize)
		dataSize = uint64(len(mem) - pageSize)
	}
	rb.dataOffset = dataOffset
	rb.dataSize = dataSize
	rb.data = mem[dataOffset : dataOffset+dataSize]
	rb.tail = rb.loadMeta(perfMmapDataTailOffset)
	return rb
}

func (rb *ringBuffer) loadMeta(offset int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&rb.meta[offset])))
}

func (rb *ringBuffer) storeMeta(offset int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&rb.meta[offset])), v)
}

// readAt copies n bytes starting at the ring position pos, wrapping
// around the end of the data region as needed.
func (rb *ringBuffer) readAt(pos uint64, n int) []byte {
	out := make([]byte, n)
	base := pos % rb.dataSize
	if base+uint64(n) <= rb.dataSize {
		copy(out, rb.data[base:base+uint64(n)])
		return out
	}
	first := rb.dataSize - base
	copy(out[:first], rb.data[base:])
	copy(out[first:], rb.data[:uint64(n)-first])
	return out
}

// drain reads every complete record the kernel has appended since the
// last drain and, for each PERF_RECORD_SAMPLE, decodes its callchain
// into stack (reused across calls) before invoking onSample. Frames are
// reordered outermost-first to match CallStack's documented convention;
// the kernel delivers them innermost (the interrupted instruction)
// first.
func (rb *ringBuffer) drain(stack *CallStack, maxDepth int, onSample func(*CallStack)) {
	head := rb.loadMeta(perfMmapDataHeadOffset)
	for rb.tail < head {
		hdr := rb.readAt(rb.tail, 8)
		typ := binary.LittleEndian.Uint32(hdr[0:4])
		size := binary.LittleEndian.Uint16(hdr[6:8])
		if size < 8 {
			break // malformed record; stop rather than read garbage
		}
		if typ == perfRecordSample {
			rb.decodeSample(rb.tail+8, int(size)-8, stack, maxDepth, onSample)
		}
		rb.tail += uint64(size)
	}
	rb.storeMeta(perfMmapDataTailOffset, rb.tail)
}

func (rb *ringBuffer) decodeSample(pos uint64, payloadLen int, stack *CallStack, maxDepth int, onSample func(*CallStack)) {
	if payloadLen < 16 {
		return
	}
	body := rb.readAt(pos, payloadLen)
	ip := binary.LittleEndian.Uint64(body[0:8])
	nr := binary.LittleEndian.Uint64(body[8:16])
	if maxEntries := uint64((payloadLen - 16) / 8); nr > maxEntries {
		nr = maxEntries // defensive clamp against a truncated record
	}

	var addrs []uintptr
	if nr > 0 {
		addrs = make([]uintptr, 0, nr)
		for i := uint64(0); i < nr; i++ {
			off := 16 + i*8
			addr := binary.LittleEndian.Uint64(body[off : off+8])
			if addr >= perfContextMarkerFloor {
				continue // PERF_CONTEXT_* domain marker, not a frame
			}
			addrs = append(addrs, uintptr(addr))
		}
	} else if ip < perfContextMarkerFloor {
		addrs = []uintptr{uintptr(ip)}
	}

	for i, j := 0, len(addrs)-1; i < j; i, j = i+1, j-1 {
		addrs[i], addrs[j] = addrs[j], addrs[i]
	}
	if len(addrs) > maxDepth {
		addrs = addrs[len(addrs)-maxDepth:] // keep the innermost frames
	}

	stack.Set(addrs, len(addrs))
	onSample(stack)
}

// perfEventSource arms a perf_event_open fd configured to sample
// PERF_SAMPLE_CALLCHAIN, mmaps its ring buffer, and drains kernel-
// captured stacks out of it whenever SIGPROF wakes the reader. Because
// the kernel walks the interrupted thread's stack itself at the moment
// of the interrupt and parks the result in the ring buffer,
// perfEventSource satisfies spec §5's "the signal handler preempts
// whatever code was running on that thread" without Go ever needing to
// run inside a real signal handler: the stack onSample receives is the
// one the kernel captured, not the dispatch goroutine's own.
// hardwareCounterSource is the only concrete user of this; see
// monotonicClockTimerSource's doc comment for why it cannot share it.
type perfEventSource struct {
	fd       int
	ring     *ringBuffer
	listener *sigprofListener
	stack    CallStack
}

func newPerfEventSource() *perfEventSource {
	return &perfEventSource{fd: -1, listener: newSigprofListener()}
}

func (p *perfEventSource) arm(attr *unix.PerfEventAttr, maxStackDepth int, onSample func(*CallStack)) error {
	fd, err := unix.PerfEventOpen(attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return err
	}

	pageSize := os.Getpagesize()
	const ringDataPages = 8 // 8 data pages + 1 metadata page, kernel requires 1+2^n
	mem, err := unix.Mmap(fd, 0, pageSize*(1+ringDataPages), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return err
	}

	if _, ferr := fcntlInt(fd, unix.F_SETOWN, os.Getpid()); ferr != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return ferr
	}
	if _, ferr := fcntlInt(fd, unix.F_SETSIG, int(syscall.SIGPROF)); ferr != nil {
		unix.Munmap(mem)
		unix.Close(fd)
		return ferr
	}
	if flags, ferr := fcntlInt(fd, unix.F_GETFL, 0); ferr == nil {
		fcntlInt(fd, unix.F_SETFL, flags|unix.O_ASYNC)
	}

	p.fd = fd
	p.ring = newRingBuffer(mem, pageSize)

	p.listener.start(func() { p.ring.drain(&p.stack, maxStackDepth, onSample) })

	if err := unix.IoctlSetInt(fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		p.listener.stop()
		unix.Munmap(mem)
		unix.Close(fd)
		p.fd = -1
		p.ring = nil
		return err
	}
	return nil
}

func (p *perfEventSource) disarm() error {
	if p.fd < 0 {
		return nil
	}
	p.listener.stop()
	_ = unix.IoctlSetInt(p.fd, unix.PERF_EVENT_IOC_DISABLE, 0)
	var err error
	if p.ring != nil {
		err = unix.Munmap(p.ring.mem)
		p.ring = nil
	}
	if cerr := unix.Close(p.fd); err == nil {
		err = cerr
	}
	p.fd = -1
	return err
}

// hardwareCounterSource arms an overflow-triggered CPU-cycle performance
// counter via perf_event_open, sampling PERF_SAMPLE_CALLCHAIN so the
// kernel captures each interrupted thread's stack itself (spec §4.4's
// HardwareCounter).
type hardwareCounterSource struct {
	*perfEventSource
}

func newHardwareCounterSource() *hardwareCounterSource {
	return &hardwareCounterSource{perfEventSource: newPerfEventSource()}
}

// probe reports whether a hardware counter can plausibly be armed on
// this host, without actually arming one; selectIntervalSource's Auto
// path uses this to decide whether to attempt HardwareCounter at all.
func (h *hardwareCounterSource) probe() error {
	attr := &unix.PerfEventAttr{
		Type:   unix.PERF_TYPE_HARDWARE,
		Size:   perfEventAttrSize,
		Config: unix.PERF_COUNT_HW_CPU_CYCLES,
	}
	fd, err := unix.PerfEventOpen(attr, 0, -1, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return newError(NotSupported, "hardwareCounterSource.probe", "", err)
	}
	unix.Close(fd)
	return nil
}

func cyclesPerSample(frequencyHz int) uint64 {
	const assumedClockHz = 3_000_000_000
	if frequencyHz <= 0 {
		frequencyHz = DefaultFrequencyHz
	}
	return uint64(assumedClockHz / frequencyHz)
}

func (h *hardwareCounterSource) Arm(frequencyHz, maxStackDepth int, onSample func(*CallStack)) error {
	attr := &unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_HARDWARE,
		Size:        perfEventAttrSize,
		Config:      unix.PERF_COUNT_HW_CPU_CYCLES,
		Sample:      cyclesPerSample(frequencyHz),
		Sample_type: perfSampleIP | perfSampleCallchain,
		Wakeup:      1,
		Bits:        unix.PerfBitDisabled,
	}
	if err := h.arm(attr, maxStackDepth, onSample); err != nil {
		return newError(Permission, "hardwareCounterSource.Arm", "", err)
	}
	return nil
}

func (h *hardwareCounterSource) Disarm() error {
	if err := h.disarm(); err != nil {
		return newError(InitFailure, "hardwareCounterSource.Disarm", "", err)
	}
	return nil
}

// monotonicClockTimerSource arms ITIMER_PROF, a periodic monotonic
// interval timer delivering SIGPROF, per spec §4.4's MonotonicClockTimer.
//
// Unlike hardwareCounterSource, there is no perf_event fd backing this
// timer, so there is no kernel-side callchain to read: ITIMER_PROF's
// SIGPROF is delivered the same way regardless of whether perf_event_open
// is permitted on this host, which is the entire point of keeping it as
// the Auto fallback. The tradeoff is that onWake runs on a goroutine
// os/signal's dispatcher chose, never the thread ITIMER_PROF actually
// interrupted, so the stack captured here is an approximation of
// whatever that goroutine happens to be running — not a substitute for
// hardwareCounterSource's kernel-captured stack. Callers who need
// correct per-interrupt stacks should prefer HardwareCounter; Auto only
// falls back to this path when HardwareCounter is unavailable.
type monotonicClockTimerSource struct {
	listener *sigprofListener
	armed    bool
	pcs      []uintptr
	stack    CallStack
}

func newMonotonicClockTimerSource() *monotonicClockTimerSource {
	return &monotonicClockTimerSource{listener: newSigprofListener()}
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
	tv := unix.NsecToTimeval(interval.Nanoseconds())
	it := &unix.Itimerval{
		Interval: tv,
		Value:    tv,
	}
	if err := unix.Setitimer(unix.ITIMER_PROF, it, nil); err != nil {
		return newError(InitFailure, "monotonicClockTimerSource.Arm", "", err)
	}
	m.listener.start(func() { m.onWake(onSample) })
	m.armed = true
	return nil
}

func (m *monotonicClockTimerSource) onWake(onSample func(*CallStack)) {
	n := runtime.Callers(3, m.pcs) // skip runtime.Callers, onWake, the wake closure passed to the listener
	reverse(m.pcs[:n])
	m.stack.Set(m.pcs, n)
	onSample(&m.stack)
}

func (m *monotonicClockTimerSource) Disarm() error {
	if !m.armed {
		return nil
	}
	zero := &unix.Itimerval{}
	err := unix.Setitimer(unix.ITIMER_PROF, zero, nil)
	m.listener.stop()
	m.armed = false
	if err != nil {
		return newError(InitFailure, "monotonicClockTimerSource.Disarm", "", err)
	}
	return nil
}

func reverse(pcs []uintptr) {
	for i, j := 0, len(pcs)-1; i < j; i, j = i+1, j-1 {
		pcs[i], pcs[j] = pcs[j], pcs[i]
	}
}

func fcntlInt(fd int, cmd int, arg int) (int, error) {
	r, err := unix.FcntlInt(uintptr(fd), cmd, arg)
	if err != nil {
		return 0, fmt.Errorf("fcntl cmd=%d: %w", cmd, err)
	}
	return r, nil
}
