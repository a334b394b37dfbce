// Package busstate holds the shared bit-bus (128 wires) and position-bus
// (32 slots) state, the name tables used by bit_mux/pos_mux fields, and the
// per-output capture selection that the capture pipeline freezes at arm
// time. It is the single place spec §5's state_mutex applies: the mutex is
// held only long enough to copy hardware-read values in, or to copy a
// snapshot out, never across socket I/O.
package busstate

import (
	"fmt"
	"sync"

	"github.com/panda-fpga/pandad/internal/hwaccess"
)

const (
	BitBusLen = 128
	PosBusLen = 32
)

// Snapshot is an immutable copy of the bus state taken under the mutex,
// safe to read without further locking.
type Snapshot struct {
	Bits    [BitBusLen]bool
	BitsChg [BitBusLen]bool
	Pos     [PosBusLen]uint32
	PosChg  [PosBusLen]bool
}

// State is the single shared bus-state object. Accessors take immutable
// snapshots rather than handing out references into the live arrays (spec
// §9 "global mutable bit/position state maps to a single shared bus-state
// object behind its mutex").
type State struct {
	mu  sync.Mutex
	cur Snapshot

	bitNames map[uint32]string
	bitIdx   map[string]uint32
	posNames map[uint32]string
	posIdx   map[string]uint32
}

func NewState() *State {
	return &State{
		bitNames: make(map[uint32]string),
		bitIdx:   make(map[string]uint32),
		posNames: make(map[uint32]string),
		posIdx:   make(map[string]uint32),
	}
}

// Refresh performs the atomic burst read of both buses under the mutex.
func (s *State) Refresh(hw hwaccess.HardwareAccess) error {
	var bits, bitsChg [BitBusLen]bool
	var pos [PosBusLen]uint32
	var posChg [PosBusLen]bool
	if err := hw.ReadBits(&bits, &bitsChg); err != nil {
		return fmt.Errorf("refresh bit bus: %w", err)
	}
	if err := hw.ReadPositions(&pos, &posChg); err != nil {
		return fmt.Errorf("refresh position bus: %w", err)
	}
	s.mu.Lock()
	s.cur.Bits = bits
	s.cur.BitsChg = bitsChg
	s.cur.Pos = pos
	s.cur.PosChg = posChg
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current bus state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// RegisterBitName assigns a bit_out field's name to its bus slot, making it
// resolvable by bit_in/bit_mux fields elsewhere in the config database.
func (s *State) RegisterBitName(idx uint32, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.bitNames[idx]; ok {
		return fmt.Errorf("bit bus slot %d already assigned to %s, cannot assign to %s", idx, existing, name)
	}
	s.bitNames[idx] = name
	s.bitIdx[name] = idx
	return nil
}

// RegisterPosName is the position-bus equivalent of RegisterBitName.
func (s *State) RegisterPosName(idx uint32, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.posNames[idx]; ok {
		return fmt.Errorf("position bus slot %d already assigned to %s, cannot assign to %s", idx, existing, name)
	}
	s.posNames[idx] = name
	s.posIdx[name] = idx
	return nil
}

// BitMuxResolver adapts State to fieldtype.MuxResolver for bit_in/bit_mux
// fields.
type BitMuxResolver struct{ S *State }

func (r BitMuxResolver) NameForIndex(idx uint32) (string, bool) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	n, ok := r.S.bitNames[idx]
	return n, ok
}

func (r BitMuxResolver) IndexForName(name string) (uint32, bool) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	i, ok := r.S.bitIdx[name]
	return i, ok
}

// PosMuxResolver adapts State to fieldtype.MuxResolver for pos_in/pos_mux
// fields.
type PosMuxResolver struct{ S *State }

func (r PosMuxResolver) NameForIndex(idx uint32) (string, bool) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	n, ok := r.S.posNames[idx]
	return n, ok
}

func (r PosMuxResolver) IndexForName(name string) (uint32, bool) {
	r.S.mu.Lock()
	defer r.S.mu.Unlock()
	i, ok := r.S.posIdx[name]
	return i, ok
}
