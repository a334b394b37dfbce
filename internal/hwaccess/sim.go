package hwaccess

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// Sim is an in-process HardwareAccess double used by package tests and by
// the command/data server tests elsewhere in this module. It is not the
// external simulation server mentioned in spec §1 (a separate process
// speaking a loopback protocol) — it exists purely so this repo's own
// tests don't need a kernel driver present.
type Sim struct {
	mu   sync.Mutex
	regs map[uint32]uint32

	bitCurrent [128]bool
	bitChanged [128]bool
	posCurrent [32]uint32
	posChanged [32]bool

	streamBuf    *bytes.Buffer
	streamClosed bool
	armed        bool
	completion   CompletionCode

	shortTables map[string][]uint32
}

// NewSim returns a zeroed simulated hardware backend.
func NewSim() *Sim {
	return &Sim{
		regs:        make(map[uint32]uint32),
		streamBuf:   &bytes.Buffer{},
		shortTables: make(map[string][]uint32),
	}
}

func simKey(blockType, inst, reg uint32) uint32 {
	return (blockType&0x1F)<<10 | (inst&0xF)<<6 | (reg & 0x3F)
}

func (s *Sim) ReadReg(blockType, inst, reg uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[simKey(blockType, inst, reg)], nil
}

func (s *Sim) WriteReg(blockType, inst, reg uint32, value uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[simKey(blockType, inst, reg)] = value
	return nil
}

// SetBitBus lets tests inject the bit-bus state that the next ReadBits
// call will observe.
func (s *Sim) SetBitBus(idx int, value, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitCurrent[idx] = value
	s.bitChanged[idx] = changed
}

// SetPosBus lets tests inject the position-bus state for the next
// ReadPositions call.
func (s *Sim) SetPosBus(idx int, value uint32, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posCurrent[idx] = value
	s.posChanged[idx] = changed
}

func (s *Sim) ReadBits(current, changed *[128]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*current = s.bitCurrent
	*changed = s.bitChanged
	return nil
}

func (s *Sim) ReadPositions(current *[32]uint32, changed *[32]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	*current = s.posCurrent
	*changed = s.posChanged
	return nil
}

type simShortTable struct {
	sim    *Sim
	name   string
	maxLen int
}

func (s *Sim) OpenShortTable(blockType, inst uint32, count int, resetReg, fillReg, lengthReg uint32, maxLen int) (ShortTable, error) {
	return &simShortTable{sim: s, name: fmt.Sprintf("%d.%d", blockType, inst), maxLen: maxLen}, nil
}

func (t *simShortTable) MaxLen() int { return t.maxLen }

func (t *simShortTable) Write(words []uint32) error {
	if len(words) > t.maxLen {
		return fmt.Errorf("table write of %d words exceeds max length %d", len(words), t.maxLen)
	}
	t.sim.mu.Lock()
	defer t.sim.mu.Unlock()
	cp := make([]uint32, len(words))
	copy(cp, words)
	t.sim.shortTables[t.name] = cp
	return nil
}

type simLongTable struct {
	shadow []uint32
}

func (s *Sim) OpenLongTable(blockType, inst uint32, count int, order int, baseReg, lengthReg uint32) (LongTable, error) {
	return &simLongTable{}, nil
}

func (t *simLongTable) Send(buf BlockSendBuffer) error {
	t.shadow = append(t.shadow, buf.Data...)
	return nil
}

func (t *simLongTable) Mapped() []uint32 {
	out := make([]uint32, len(t.shadow))
	copy(out, t.shadow)
	return out
}

func (t *simLongTable) Close() error { return nil }

// PushStreamData lets a test hand the simulated DMA reader thread raw
// bytes as though they arrived from /dev/panda.stream.
func (s *Sim) PushStreamData(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamBuf.Write(b)
}

// CloseStream marks end-of-capture: the next Read returns io.EOF once the
// buffered data is drained.
func (s *Sim) CloseStream(completion CompletionCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamClosed = true
	s.completion = completion
}

func (s *Sim) StreamReader() (io.Reader, error) {
	return &simStreamReader{sim: s}, nil
}

type simStreamReader struct{ sim *Sim }

func (r *simStreamReader) Read(p []byte) (int, error) {
	r.sim.mu.Lock()
	defer r.sim.mu.Unlock()
	if r.sim.streamBuf.Len() == 0 {
		if r.sim.streamClosed {
			return 0, io.EOF
		}
		return 0, nil // driver-level timeout: zero bytes, no error
	}
	return r.sim.streamBuf.Read(p)
}

func (s *Sim) Arm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = true
	s.streamClosed = false
	s.streamBuf.Reset()
	return nil
}

func (s *Sim) Disarm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = false
	return nil
}

func (s *Sim) Completion() (CompletionCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completion, nil
}

func (s *Sim) WriteMAC(baseReg uint32, mac [6]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < 6; i++ {
		s.regs[baseReg+uint32(i)] = uint32(mac[i])
	}
	return nil
}

func (s *Sim) Close() error { return nil }

var _ HardwareAccess = (*Sim)(nil)
