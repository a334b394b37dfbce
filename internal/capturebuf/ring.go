// Package capturebuf implements the single-writer / multi-reader ring of
// fixed-size blocks that sits between the DMA reader thread and each data
// client's per-connection transform+send goroutine (spec §3, §4.7). The
// writer never blocks on a slow reader: instead a reader that falls behind
// far enough that the writer would lap its cursor is marked overrun and
// disconnected, by design (spec §5 Backpressure).
package capturebuf

import (
	"sync"
)

// Block is one fixed-capacity slot in the ring; Len is the number of valid
// bytes (a trailing short block at end-of-capture may be partially full).
type Block struct {
	Data []byte
	Len  int
}

// Buffer is the fixed block-size, fixed block-count ring.
type Buffer struct {
	blockSize int
	n         int
	blocks    []Block

	mu        sync.Mutex
	cond      *sync.Cond
	writeIdx  uint64 // absolute index of the next block to be written
	closed    bool
	readers   map[*Reader]struct{}
}

// New allocates a ring of n blocks, each blockSize bytes.
func New(blockSize, n int) *Buffer {
	b := &Buffer{
		blockSize: blockSize,
		n:         n,
		blocks:    make([]Block, n),
		readers:   make(map[*Reader]struct{}),
	}
	for i := range b.blocks {
		b.blocks[i].Data = make([]byte, blockSize)
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// BlockSize returns the fixed block capacity.
func (b *Buffer) BlockSize() int { return b.blockSize }

// WriteBlock copies one whole DMA block into the ring and advances the
// write cursor by one block, waking every waiting reader.
func (b *Buffer) WriteBlock(data []byte) {
	b.mu.Lock()
	slot := &b.blocks[int(b.writeIdx%uint64(b.n))]
	n := copy(slot.Data, data)
	slot.Len = n
	b.writeIdx++
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Close marks the buffer closed (end of capture session); waiting readers
// wake and observe no further blocks will arrive.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Reopen resets the ring for a new capture session (arm again).
func (b *Buffer) Reopen() {
	b.mu.Lock()
	b.closed = false
	b.writeIdx = 0
	b.mu.Unlock()
}

// NewReader attaches a new reader positioned at the current write cursor
// (it only sees blocks written from now on).
func (b *Buffer) NewReader() *Reader {
	b.mu.Lock()
	defer b.mu.Unlock()
	r := &Reader{buf: b, cursor: b.writeIdx}
	b.readers[r] = struct{}{}
	return r
}

// Reader owns one absolute block-index cursor into the shared ring.
type Reader struct {
	buf     *Buffer
	cursor  uint64
	overrun bool
}

// Close detaches the reader from the buffer.
func (r *Reader) Close() {
	r.buf.mu.Lock()
	delete(r.buf.readers, r)
	r.buf.mu.Unlock()
}

// Overrun reports whether this reader has ever been lapped by the writer.
func (r *Reader) Overrun() bool {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()
	return r.overrun
}

// Next blocks until a new block is available, the buffer closes, or the
// reader has been lapped. ok is false once the capture session has ended
// and every available block has been drained.
func (r *Reader) Next() (data []byte, overrun bool, ok bool) {
	r.buf.mu.Lock()
	defer r.buf.mu.Unlock()

	for r.cursor == r.buf.writeIdx && !r.buf.closed {
		r.buf.cond.Wait()
	}

	if r.cursor == r.buf.writeIdx && r.buf.closed {
		return nil, r.overrun, false
	}

	// Detect a lap: the writer has advanced far enough that our cursor's
	// slot has already been overwritten.
	if r.buf.writeIdx-r.cursor > uint64(r.buf.n) {
		r.overrun = true
		return nil, true, false
	}

	slot := r.buf.blocks[int(r.cursor%uint64(r.buf.n))]
	r.cursor++

	// Re-check for a lap that happened while we were copying out: if the
	// writer got far enough ahead that our just-read slot may have been
	// clobbered mid-read, flag overrun too.
	if r.buf.writeIdx-r.cursor >= uint64(r.buf.n) {
		r.overrun = true
		out := make([]byte, slot.Len)
		copy(out, slot.Data[:slot.Len])
		return out, true, false
	}

	out := make([]byte, slot.Len)
	copy(out, slot.Data[:slot.Len])
	return out, false, true
}
