// Package shmchan implements the shared-memory channel set that lets a
// subscriber process sample a recorder's argument slots without parsing
// text or talking to the emitting process. A channel-set is a single
// mmap'd file: a small header, a bump allocator, and one append-only
// linked list of channel blocks, each holding a name/description/unit
// and its own ring.Ring[Sample].
//
// Every access re-derives its pointer from the current mapping rather
// than caching one, because growing the file remaps it at a new address
// (see (*Set).growLocked): a pointer computed against yesterday's mapping is a
// dangling pointer today.
package shmchan

import (
	"fmt"
	"os"
	"os/signal"
	"regexp"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/unvariance/flightrecorder/pkg/recorder"
	"github.com/unvariance/flightrecorder/pkg/ring"
	"github.com/unvariance/flightrecorder/pkg/tweak"
)

// Type classifies a channel's samples, inferred from the conversion
// specifier used for the recorder argument slot it mirrors.
type Type int32

const (
	TypeUnset Type = iota
	TypeSigned
	TypeUnsigned
	TypeReal
)

func (t Type) String() string {
	switch t {
	case TypeSigned:
		return "signed"
	case TypeUnsigned:
		return "unsigned"
	case TypeReal:
		return "real"
	default:
		return "unset"
	}
}

// magic is the shared-memory file's sentinel, deliberately the same
// value as recorder.ExportMagic: a recorder set to that trace level
// produces no text, only channel samples.
const magic = uint64(recorder.ExportMagic)

const formatVersion = 1

// exportSize is the default sample capacity of a newly published
// channel's ring, rounded up to a power of two at creation time.
var exportSize = tweak.New("recorder_export_size", 1024, "default sample capacity of a published channel")

// Sample is one (timestamp, value) pair pushed to a channel.
type Sample struct {
	Timestamp uint64
	Value     uint64
}

// header is the fixed-size prologue of a channel-set file, overlaid
// directly on the mapped bytes. ChannelListHead is loaded and
// CAS-pushed atomically; Bump and FreeListHead are changed only while
// holding Set.mu's write lock.
type header struct {
	Magic           uint64
	Version         uint64
	Size            uint64 // total mapped length, including this header
	Bump            uint64 // next free byte offset; grows monotonically
	ChannelListHead uint64 // offset of the first channelBlock, 0 = none
	FreeListHead    uint64 // offset of the last deleted channelBlock, linked via Next; Publish never reuses it
}

var headerSize = align8(uint64(unsafe.Sizeof(header{})))

// channelBlock is one published channel's fixed-size metadata, followed
// immediately in the file by its ring.Counters and sample array.
type channelBlock struct {
	Type       int32
	_          int32 // padding
	Next       uint64 // offset of the next channelBlock, 0 = end
	NameOff    uint64
	DescOff    uint64
	UnitOff    uint64
	Min        float64
	Max        float64
	Capacity   uint64
	Counters   ring.Counters
}

var channelBlockSize = align8(uint64(unsafe.Sizeof(channelBlock{})))

func align8(n uint64) uint64 { return (n + 7) &^ 7 }

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	p := uint64(1)
	for p < n {
		p <<= 1
	}
	return p
}

// Set is an open, mmap'd channel-set file.
type Set struct {
	mu   sync.RWMutex // guards data/hdr against concurrent grow
	f    *os.File
	data []byte
	hdr  *header
	path string
}

// Create creates a new channel-set file at path with the given initial
// size (a size too small to hold the header is replaced by 4096) and maps
// it MAP_SHARED, so other processes opening the same path can see
// published channels and their samples.
func Create(path string, initialSize uint64) (*Set, error) {
	if initialSize < headerSize {
		initialSize = 4096
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("shmchan: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(initialSize)); err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(initialSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: mmap %s: %w", path, err)
	}

	s := &Set{f: f, data: data, path: path}
	s.hdr = (*header)(unsafe.Pointer(&data[0]))
	*s.hdr = header{Magic: magic, Version: formatVersion, Size: initialSize, Bump: headerSize}
	runtime.SetFinalizer(s, (*Set).Close)
	return s, nil
}

// Open maps an existing channel-set file for reading and publishing. It
// fails if the file's magic or format version does not match.
func Open(path string) (*Set, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("shmchan: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: stat %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("shmchan: mmap %s: %w", path, err)
	}

	hdr := (*header)(unsafe.Pointer(&data[0]))
	if hdr.Magic != magic {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("shmchan: %s is not a channel-set file", path)
	}
	if hdr.Version != formatVersion {
		unix.Munmap(data)
		f.Close()
		return nil, fmt.Errorf("shmchan: %s has format version %d, want %d", path, hdr.Version, formatVersion)
	}

	s := &Set{f: f, data: data, hdr: hdr, path: path}
	runtime.SetFinalizer(s, (*Set).Close)
	return s, nil
}

// Close unmaps and closes the underlying file; it's the subscriber-side
// teardown and never touches the file on disk. Callers that own the
// share (published into it) want Delete instead.
func (s *Set) Close() error {
	runtime.SetFinalizer(s, nil)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	err := unix.Munmap(s.data)
	s.data = nil
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Delete is the owner-side teardown, mirroring recorder_chans_delete in
// the original: every exported argument slot across every recorder is
// cleared, any recorder left at the "exported only" sentinel reverts to
// off, the mapping is released, and the backing file is removed from
// disk - unlike Close, which only unmaps so a subscriber can stop
// watching a share it doesn't own.
func (s *Set) Delete() error {
	for _, rec := range recorder.All() {
		for i := 0; i < recorder.NumArgs; i++ {
			if ch, ok := rec.Export(i).(*Channel); ok && ch != nil && ch.set == s {
				rec.SetExport(i, nil)
			}
		}
		if rec.Trace() == int64(recorder.ExportMagic) {
			rec.SetTrace(0)
		}
	}
	if err := s.Close(); err != nil {
		return err
	}
	return os.Remove(s.path)
}

// DeleteOnSignal installs a handler for sig that deletes the channel-set
// and then restores the signal's default disposition and re-raises it,
// the same pattern recorder.DumpOnSignal uses. Go has no portable
// atexit(3); a termination signal is the closest available equivalent
// to the exit hook the original installs to destroy the share at normal
// process exit.
func (s *Set) DeleteOnSignal(sig syscall.Signal) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sig)
	go func() {
		<-ch
		s.Delete()
		signal.Stop(ch)
		signal.Reset(sig)
		_ = syscall.Kill(os.Getpid(), sig)
	}()
}

// bump reserves n (8-byte aligned) bytes from the file, growing and
// remapping it first if the current mapping has no room.
func (s *Set) bump(n uint64) (uint64, error) {
	n = align8(n)

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.hdr.Bump
	need := offset + n
	if need > s.hdr.Size {
		if err := s.growLocked(need); err != nil {
			return 0, err
		}
	}
	s.hdr.Bump = need
	return offset, nil
}

// growLocked doubles the file (or grows to minSize, whichever is
// larger), remapping at whatever address the kernel hands back. Callers
// anywhere in the package must re-derive every pointer into s.data after
// this runs rather than reuse one computed earlier.
func (s *Set) growLocked(minSize uint64) error {
	newSize := s.hdr.Size * 2
	if newSize < minSize {
		newSize = minSize
	}
	if err := s.f.Truncate(int64(newSize)); err != nil {
		return fmt.Errorf("shmchan: grow %s: %w", s.path, err)
	}
	if err := unix.Munmap(s.data); err != nil {
		return fmt.Errorf("shmchan: unmap %s during grow: %w", s.path, err)
	}
	data, err := unix.Mmap(int(s.f.Fd()), 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("shmchan: remap %s during grow: %w", s.path, err)
	}
	s.data = data
	s.hdr = (*header)(unsafe.Pointer(&data[0]))
	s.hdr.Size = newSize
	return nil
}

// writeString bumps room for s plus a NUL terminator and copies it in,
// returning its offset.
func (s *Set) writeString(str string) (uint64, error) {
	offset, err := s.bump(uint64(len(str)) + 1)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	copy(s.data[offset:], str)
	s.data[offset+uint64(len(str))] = 0
	s.mu.RUnlock()
	return offset, nil
}

// readString reads a NUL-terminated string starting at offset.
func (s *Set) readString(offset uint64) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	end := offset
	for end < uint64(len(s.data)) && s.data[end] != 0 {
		end++
	}
	return string(s.data[offset:end])
}

func (s *Set) blockAt(offset uint64) *channelBlock {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return (*channelBlock)(unsafe.Pointer(&s.data[offset]))
}

// samplesAt returns the sample backing array for the channel block at
// offset, freshly derived from the current mapping.
func (s *Set) samplesAt(offset uint64, capacity uint64) []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	base := offset + channelBlockSize
	ptr := (*Sample)(unsafe.Pointer(&s.data[base]))
	return unsafe.Slice(ptr, capacity)
}

// Publish allocates and registers a new channel. typ may be TypeUnset if
// the caller wants a later InstallType call to infer it from the
// recorder's format string.
func (s *Set) Publish(name, description, unit string, typ Type, min, max float64) (*Channel, error) {
	nameOff, err := s.writeString(name)
	if err != nil {
		return nil, err
	}
	descOff, err := s.writeString(description)
	if err != nil {
		return nil, err
	}
	unitOff, err := s.writeString(unit)
	if err != nil {
		return nil, err
	}

	capacity := nextPow2(uint64(exportSize.Get()))
	blockSize := channelBlockSize + capacity*uint64(unsafe.Sizeof(Sample{}))
	offset, err := s.bump(blockSize)
	if err != nil {
		return nil, err
	}

	// The write must happen under the same read lock writeString uses:
	// blockAt's pointer is only valid while growLocked can't run
	// concurrently, and growLocked takes the write lock to remap s.data.
	s.mu.RLock()
	blk := (*channelBlock)(unsafe.Pointer(&s.data[offset]))
	*blk = channelBlock{
		Type:     int32(typ),
		NameOff:  nameOff,
		DescOff:  descOff,
		UnitOff:  unitOff,
		Min:      min,
		Max:      max,
		Capacity: capacity,
	}
	s.mu.RUnlock()

	s.pushChannel(offset)

	return &Channel{set: s, offset: offset}, nil
}

// pushChannel CAS-pushes offset onto the channel-set's directory list,
// the same lock-free pattern pkg/recorder and pkg/tweak use for their
// in-process registries, just operating on offsets in shared memory
// instead of pointers in the Go heap. Each retry re-derives hdr and blk
// under the read lock rather than reusing pointers from a prior
// iteration, since a concurrent grow can remap between iterations.
func (s *Set) pushChannel(offset uint64) {
	for {
		s.mu.RLock()
		headPtr := (*uint64)(unsafe.Pointer(&s.hdr.ChannelListHead))
		blk := (*channelBlock)(unsafe.Pointer(&s.data[offset]))
		old := atomic.LoadUint64(headPtr)
		atomic.StoreUint64((*uint64)(unsafe.Pointer(&blk.Next)), old)
		ok := atomic.CompareAndSwapUint64(headPtr, old, offset)
		s.mu.RUnlock()
		if ok {
			return
		}
	}
}

// deleteChannel unlinks offset from the channel-set's directory list and
// pushes it onto the free list, mirroring recorder_chan_delete's
// unlink-then-free-list-push in the original. It takes the full write
// lock rather than pushChannel's CAS-under-read-lock scheme: unlinking
// from the middle of a singly-linked list isn't expressible as a single
// CAS, and deletion is rare enough (owner-only, not on any hot path)
// that serializing it against every other structural mutation is the
// simplest correct option.
func (s *Set) deleteChannel(offset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := &s.hdr.ChannelListHead
	for cur := *prev; cur != 0; {
		blk := (*channelBlock)(unsafe.Pointer(&s.data[cur]))
		if cur == offset {
			*prev = blk.Next
			break
		}
		prev = &blk.Next
		cur = blk.Next
	}

	blk := (*channelBlock)(unsafe.Pointer(&s.data[offset]))
	blk.Next = s.hdr.FreeListHead
	s.hdr.FreeListHead = offset
}

func (s *Set) loadHead() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&s.hdr.ChannelListHead)))
}

// channelOffsets returns the offsets of every published channel, most
// recently published first.
func (s *Set) channelOffsets() []uint64 {
	var out []uint64
	for off := s.loadHead(); off != 0; {
		out = append(out, off)
		blk := s.blockAt(off)
		off = atomic.LoadUint64((*uint64)(unsafe.Pointer(&blk.Next)))
	}
	return out
}

// Find returns every published channel whose name fully matches pattern
// (a case-insensitive, anchored regular expression).
func (s *Set) Find(pattern string) ([]*Channel, error) {
	re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("shmchan: invalid pattern %q: %w", pattern, err)
	}
	var out []*Channel
	for _, off := range s.channelOffsets() {
		blk := s.blockAt(off)
		if re.MatchString(s.readString(blk.NameOff)) {
			out = append(out, &Channel{set: s, offset: off})
		}
	}
	return out, nil
}

// Channel is a handle to one published channel. It holds only an offset
// into its Set, never a pointer into the mapped bytes, so it survives
// the Set growing and remapping underneath it.
type Channel struct {
	set    *Set
	offset uint64
}

var _ recorder.ExportSink = (*Channel)(nil)

func (c *Channel) block() *channelBlock { return c.set.blockAt(c.offset) }

// Name, Description and Unit re-read their strings from the mapping on
// every call; they're published once and never change, but re-deriving
// keeps every access uniform with the mutable fields.
func (c *Channel) Name() string        { return c.set.readString(c.block().NameOff) }
func (c *Channel) Description() string { return c.set.readString(c.block().DescOff) }
func (c *Channel) Unit() string        { return c.set.readString(c.block().UnitOff) }

// Type returns the channel's current sample type, which starts as
// TypeUnset and is fixed by the first InstallType call that infers a type.
func (c *Channel) Type() Type {
	blk := c.block()
	return Type(atomic.LoadInt32((*int32)(unsafe.Pointer(&blk.Type))))
}

// Min and Max return the channel's declared value range.
func (c *Channel) Min() float64 { return c.block().Min }
func (c *Channel) Max() float64 { return c.block().Max }

// Size returns the channel's sample capacity.
func (c *Channel) Size() uint64 { return c.block().Capacity }

// ItemSize returns the size in bytes of one sample.
func (c *Channel) ItemSize() uint64 { return uint64(unsafe.Sizeof(Sample{})) }

// Reader returns the channel's own (default) reader cursor.
func (c *Channel) Reader() uint64 { return c.ring().Reader() }

// Writer returns the current writer counter.
func (c *Channel) Writer() uint64 { return c.ring().Writer() }

// Writable returns how many samples can still be written before the
// next write would overrun an unread reader.
func (c *Channel) Writable() uint64 {
	r := c.ring()
	size := r.Size()
	used := r.Writer() - r.Reader()
	if used > size {
		return 0
	}
	return size - used
}

// Delete unpublishes the channel: it's unlinked from the channel-set's
// directory, so Find and future traversals no longer see it, and its
// offset is pushed onto the free list. The handle must not be used
// after Delete returns.
func (c *Channel) Delete() {
	c.set.deleteChannel(c.offset)
}

// ring derives a fresh ring.Ring[Sample] over the channel's current
// backing storage; see the package doc for why this can't be cached.
func (c *Channel) ring() *ring.Ring[Sample] {
	blk := c.block()
	samples := c.set.samplesAt(c.offset, blk.Capacity)
	r, err := ring.Wrap(&blk.Counters, samples)
	if err != nil {
		// blk.Capacity was rounded to a power of two at Publish time and
		// never changes afterwards.
		panic(err)
	}
	return r
}

// Push implements recorder.ExportSink: it appends one sample to the
// channel's ring, overwriting the oldest unread sample on overrun.
func (c *Channel) Push(timestamp, value uint64) {
	c.ring().Write([]Sample{{Timestamp: timestamp, Value: value}})
}

// InstallType implements recorder.ExportSink: the first call whose
// format has a classifiable conversion at argIndex fixes the channel's
// type; a call that infers nothing leaves it TypeUnset, and calls after
// the type is fixed are no-ops.
func (c *Channel) InstallType(format string, argIndex int) {
	blk := c.block()
	typPtr := (*int32)(unsafe.Pointer(&blk.Type))
	if atomic.LoadInt32(typPtr) != int32(TypeUnset) {
		return
	}
	inferred := inferType(format, argIndex)
	if inferred == TypeUnset {
		return
	}
	atomic.CompareAndSwapInt32(typPtr, int32(TypeUnset), int32(inferred))
}

// Read consumes one sample from the channel under cursor (nil uses the
// channel's own reader cursor, same convention as pkg/ring).
func (c *Channel) Read(cursor *uint64) (Sample, error) {
	return c.ring().Read(cursor)
}

// Readable reports how many unread samples are available under cursor.
func (c *Channel) Readable(cursor *uint64) uint64 {
	return c.ring().Readable(cursor)
}
