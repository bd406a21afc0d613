package perflow

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Magic numbers and versions for the two artifact families, per spec
// §4.5.
const (
	sampleTableMagic uint32 = 0x50464C57 // "PFLW"
	memoryMapMagic   uint32 = 0x504C4D50 // "PLMP"

	currentVersion uint16 = 1
)

// CompressionFormat identifies how an artifact body is encoded on disk.
type CompressionFormat uint8

const (
	// CompressionNone stores the body uncompressed.
	CompressionNone CompressionFormat = iota
	// CompressionZstd wraps the body in a zstd frame. This resolves
	// the "optional format" spec §4.5 leaves to the implementer.
	CompressionZstd
)

// SampleEntry is one decoded row of a sample-table artifact body: a
// call stack observed `Count` times.
type SampleEntry struct {
	Stack CallStack
	Count uint64
}

// SampleTable is the in-memory form of a sample-table artifact (spec
// §4.5).
type SampleTable struct {
	MaxStackDepth uint32
	Timestamp     int64
	Entries       []SampleEntry
}

// sampleTableHeader is the packed 64-byte header of a sample-table
// artifact.
type sampleTableHeader struct {
	Magic         uint32
	Version       uint16
	Compression   uint8
	_             uint8
	EntryCount    uint64
	MaxStackDepth uint32
	_             uint32
	Timestamp     uint64
	_             [32]byte
}

// memoryMapHeader is the packed 64-byte header of a memory-map
// artifact.
type memoryMapHeader struct {
	Magic        uint32
	Version      uint16
	_            uint16
	ProcessID    uint32
	LibraryCount uint32
	Timestamp    uint64
	_            [40]byte
}

// WriteSampleTable serializes a CounterTable into a sample-table
// artifact at path, following the open-temp-write-rename discipline:
// the file is written completely before being made visible at path, so
// a reader never observes a partial artifact (spec §4.5 writer
// contract). timestamp is the unix-seconds value stored in the header.
func WriteSampleTable(path string, table *CounterTable, maxStackDepth uint32, timestamp int64, compress bool) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return newError(FileOpen, "WriteSampleTable", path, err)
	}
	defer os.Remove(tmp)

	if err := writeSampleTableBody(f, table, maxStackDepth, timestamp, compress); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return newError(FileWrite, "WriteSampleTable", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return newError(FileWrite, "WriteSampleTable", path, err)
	}
	return nil
}

func writeSampleTableBody(f *os.File, table *CounterTable, maxStackDepth uint32, timestamp int64, compress bool) error {
	compression := CompressionNone
	if compress {
		compression = CompressionZstd
	}

	header := sampleTableHeader{
		Magic:         sampleTableMagic,
		Version:       currentVersion,
		Compression:   uint8(compression),
		EntryCount:    table.Size(),
		MaxStackDepth: maxStackDepth,
		Timestamp:     uint64(timestamp),
	}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		return newError(FileWrite, "WriteSampleTable", f.Name(), err)
	}

	bodyWriter, finish, err := newCompressedWriter(f, compression)
	if err != nil {
		return err
	}

	var writeErr error
	table.ForEach(func(stack *CallStack, count uint64) {
		if writeErr != nil {
			return
		}
		writeErr = writeSampleEntry(bodyWriter, stack, count)
	})
	if writeErr != nil {
		return newError(FileWrite, "WriteSampleTable", f.Name(), writeErr)
	}
	if err := finish(); err != nil {
		return newError(FileWrite, "WriteSampleTable", f.Name(), err)
	}
	return nil
}

func writeSampleEntry(w io.Writer, stack *CallStack, count uint64) error {
	depth := uint32(stack.Depth())
	entryHeader := struct {
		StackDepth uint32
		_          uint32
		Count      uint64
	}{StackDepth: depth, Count: count}
	if err := binary.Write(w, binary.LittleEndian, entryHeader); err != nil {
		return err
	}
	for _, frame := range stack.Frames() {
		if err := binary.Write(w, binary.LittleEndian, uint64(frame)); err != nil {
			return err
		}
	}
	return nil
}

// ReadSampleTable reads and validates a sample-table artifact, applying
// the bounds and format checks required by spec §4.5's reader contract.
func ReadSampleTable(path string) (*SampleTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newError(FileOpen, "ReadSampleTable", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var header sampleTableHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, newError(FileRead, "ReadSampleTable", path, err)
	}
	if header.Magic != sampleTableMagic {
		return nil, newError(InvalidFormat, "ReadSampleTable", path, fmt.Errorf("bad magic %#x", header.Magic))
	}
	if header.Version > currentVersion {
		return nil, newError(VersionMismatch, "ReadSampleTable", path, fmt.Errorf("unknown version %d", header.Version))
	}

	bodyReader, err := newDecompressedReader(r, CompressionFormat(header.Compression))
	if err != nil {
		return nil, newError(Compression, "ReadSampleTable", path, err)
	}

	table := &SampleTable{
		MaxStackDepth: header.MaxStackDepth,
		Timestamp:     int64(header.Timestamp),
		Entries:       make([]SampleEntry, 0, header.EntryCount),
	}

	for i := uint64(0); i < header.EntryCount; i++ {
		entry, err := readSampleEntry(bodyReader, header.MaxStackDepth)
		if err != nil {
			if ae, ok := err.(*Error); ok {
				ae.Path = path
				return nil, ae
			}
			return nil, newError(FileRead, "ReadSampleTable", path, err)
		}
		table.Entries = append(table.Entries, entry)
	}

	return table, nil
}

func readSampleEntry(r io.Reader, maxStackDepth uint32) (SampleEntry, error) {
	var entryHeader struct {
		StackDepth uint32
		_          uint32
		Count      uint64
	}
	if err := binary.Read(r, binary.LittleEndian, &entryHeader); err != nil {
		return SampleEntry{}, err
	}
	if maxStackDepth > 0 && entryHeader.StackDepth > maxStackDepth {
		return SampleEntry{}, &Error{Kind: Integrity, Op: "ReadSampleTable", Err: fmt.Errorf("stack_depth %d exceeds max %d", entryHeader.StackDepth, maxStackDepth)}
	}
	if entryHeader.StackDepth > MaxStackDepth {
		return SampleEntry{}, &Error{Kind: Integrity, Op: "ReadSampleTable", Err: fmt.Errorf("stack_depth %d exceeds hard cap %d", entryHeader.StackDepth, MaxStackDepth)}
	}

	addrs := make([]uintptr, entryHeader.StackDepth)
	for i := range addrs {
		var v uint64
		if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
			return SampleEntry{}, err
		}
		addrs[i] = uintptr(v)
	}

	var stack CallStack
	stack.Set(addrs, len(addrs))

	return SampleEntry{Stack: stack, Count: entryHeader.Count}, nil
}

// LibraryEntry is one decoded row of a memory-map artifact body.
type LibraryEntry struct {
	Base       uintptr
	End        uintptr
	Executable bool
	Name       string
}

// WriteMemoryMap serializes a MemoryMap into a memory-map artifact at
// path, using the same temp-then-rename discipline as
// WriteSampleTable.
func WriteMemoryMap(path string, m *MemoryMap, processID int32, timestamp int64) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return newError(FileOpen, "WriteMemoryMap", path, err)
	}
	defer os.Remove(tmp)

	header := memoryMapHeader{
		Magic:        memoryMapMagic,
		Version:      currentVersion,
		ProcessID:    uint32(processID),
		LibraryCount: uint32(len(m.Regions())),
		Timestamp:    uint64(timestamp),
	}
	if err := binary.Write(f, binary.LittleEndian, header); err != nil {
		f.Close()
		return newError(FileWrite, "WriteMemoryMap", path, err)
	}

	for _, r := range m.Regions() {
		if err := writeLibraryEntry(f, r); err != nil {
			f.Close()
			return newError(FileWrite, "WriteMemoryMap", path, err)
		}
	}

	if err := f.Close(); err != nil {
		return newError(FileWrite, "WriteMemoryMap", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return newError(FileWrite, "WriteMemoryMap", path, err)
	}
	return nil
}

func writeLibraryEntry(w io.Writer, r MemoryRegion) error {
	exec := uint8(0)
	if r.Executable {
		exec = 1
	}
	entryHeader := struct {
		Base       uint64
		End        uint64
		Executable uint8
		_          [7]byte
		NameLength uint32
		_          uint32
	}{
		Base:       uint64(r.Base),
		End:        uint64(r.End),
		Executable: exec,
		NameLength: uint32(len(r.Name)),
	}
	if err := binary.Write(w, binary.LittleEndian, entryHeader); err != nil {
		return err
	}
	_, err := w.Write([]byte(r.Name))
	return err
}

// ReadMemoryMap reads and validates a memory-map artifact.
func ReadMemoryMap(path string) (*MemoryMap, int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, newError(FileOpen, "ReadMemoryMap", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var header memoryMapHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, 0, newError(FileRead, "ReadMemoryMap", path, err)
	}
	if header.Magic != memoryMapMagic {
		return nil, 0, newError(InvalidFormat, "ReadMemoryMap", path, fmt.Errorf("bad magic %#x", header.Magic))
	}
	if header.Version > currentVersion {
		return nil, 0, newError(VersionMismatch, "ReadMemoryMap", path, fmt.Errorf("unknown version %d", header.Version))
	}

	m := NewMemoryMap()
	for i := uint32(0); i < header.LibraryCount; i++ {
		entry, err := readLibraryEntry(r)
		if err != nil {
			return nil, 0, newError(FileRead, "ReadMemoryMap", path, err)
		}
		m.add(MemoryRegion{
			Name:       entry.Name,
			Base:       entry.Base,
			End:        entry.End,
			Executable: entry.Executable,
		})
	}

	return m, int32(header.ProcessID), nil
}

func readLibraryEntry(r io.Reader) (LibraryEntry, error) {
	var entryHeader struct {
		Base       uint64
		End        uint64
		Executable uint8
		_          [7]byte
		NameLength uint32
		_          uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &entryHeader); err != nil {
		return LibraryEntry{}, err
	}
	name := make([]byte, entryHeader.NameLength)
	if _, err := io.ReadFull(r, name); err != nil {
		return LibraryEntry{}, err
	}
	return LibraryEntry{
		Base:       uintptr(entryHeader.Base),
		End:        uintptr(entryHeader.End),
		Executable: entryHeader.Executable != 0,
		Name:       string(name),
	}, nil
}

// WriteSampleTableText writes the human-readable advisory sidecar
// described by spec §4.5/§4.6 (the ".txt" artifact). Its content is
// advisory only; nothing in this module parses it back.
func WriteSampleTableText(path string, table *CounterTable) error {
	f, err := os.Create(path)
	if err != nil {
		return newError(FileOpen, "WriteSampleTableText", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	table.ForEach(func(stack *CallStack, count uint64) {
		fmt.Fprintf(w, "count=%d depth=%d frames=", count, stack.Depth())
		for i, frame := range stack.Frames() {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, "%#x", frame)
		}
		fmt.Fprintln(w)
	})
	if err := w.Flush(); err != nil {
		return newError(FileWrite, "WriteSampleTableText", path, err)
	}
	return nil
}

// ArtifactPaths returns the three per-rank artifact paths for stem in
// dir, following the on-disk layout of spec §6.
func ArtifactPaths(dir, stem string, rank int64) (sample, libmap, text string) {
	base := fmt.Sprintf("%s_rank_%d", stem, rank)
	return filepath.Join(dir, base+".bin"),
		filepath.Join(dir, base+".libmap"),
		filepath.Join(dir, base+".txt")
}

func newCompressedWriter(w io.Writer, format CompressionFormat) (io.Writer, func() error, error) {
	switch format {
	case CompressionNone:
		return w, func() error { return nil }, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, newError(Compression, "newCompressedWriter", "", err)
		}
		return enc, enc.Close, nil
	default:
		return nil, nil, newError(Compression, "newCompressedWriter", "", fmt.Errorf("unknown compression format %d", format))
	}
}

func newDecompressedReader(r io.Reader, format CompressionFormat) (io.Reader, error) {
	switch format {
	case CompressionNone:
		return r, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unknown compression format %d", format)
	}
}
