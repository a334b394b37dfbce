package busstate_test

import (
	"testing"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/hwaccess"
)

func TestRefreshAndSnapshot(t *testing.T) {
	sim := hwaccess.NewSim()
	sim.SetBitBus(3, true, true)
	sim.SetPosBus(7, 12345, true)

	s := busstate.NewState()
	if err := s.Refresh(sim); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	snap := s.Snapshot()
	if !snap.Bits[3] || !snap.BitsChg[3] {
		t.Fatalf("expected bit 3 set and changed")
	}
	if snap.Pos[7] != 12345 {
		t.Fatalf("expected pos 7 == 12345, got %d", snap.Pos[7])
	}
}

func TestMuxResolution(t *testing.T) {
	s := busstate.NewState()
	if err := s.RegisterBitName(4, "TTLIN1.VAL"); err != nil {
		t.Fatalf("register: %v", err)
	}
	r := busstate.BitMuxResolver{S: s}
	name, ok := r.NameForIndex(4)
	if !ok || name != "TTLIN1.VAL" {
		t.Fatalf("name lookup: %s %v", name, ok)
	}
	idx, ok := r.IndexForName("TTLIN1.VAL")
	if !ok || idx != 4 {
		t.Fatalf("index lookup: %d %v", idx, ok)
	}
	if err := s.RegisterBitName(4, "OTHER.VAL"); err == nil {
		t.Fatalf("expected overlap error")
	}
}

func TestCaptureRegistryOverlap(t *testing.T) {
	reg := busstate.NewRegistry(4)
	info := busstate.NewCaptureInfo(busstate.CaptureScaled32)
	if err := reg.Register(busstate.RegisteredOutput{Name: "A.OUT", BusSlot: 0, Info: info}); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if err := reg.Register(busstate.RegisteredOutput{Name: "B.OUT", BusSlot: 0, Info: info}); err == nil {
		t.Fatalf("expected overlap error for slot 0")
	}
	snap := reg.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("want 1 registered output, got %d", len(snap))
	}
}

func TestCaptureModeParsing(t *testing.T) {
	mode, err := busstate.ParseCaptureMode(busstate.KindADC, "Average")
	if err != nil || mode != busstate.CaptureAverage {
		t.Fatalf("parse average: %v %v", mode, err)
	}
	if _, err := busstate.ParseCaptureMode(busstate.KindEncoder, "Average"); err == nil {
		t.Fatalf("expected Average to be invalid for encoder outputs")
	}
}
