package hwaccess_test

import (
	"io"
	"testing"

	"github.com/panda-fpga/pandad/internal/hwaccess"
)

func TestSimRegRoundTrip(t *testing.T) {
	sim := hwaccess.NewSim()
	if err := sim.WriteReg(3, 1, 5, 0xABCD); err != nil {
		t.Fatalf("write: %v", err)
	}
	v, err := sim.ReadReg(3, 1, 5)
	if err != nil || v != 0xABCD {
		t.Fatalf("read: %d %v", v, err)
	}
}

func TestSimBitBus(t *testing.T) {
	sim := hwaccess.NewSim()
	sim.SetBitBus(5, true, true)
	var cur, chg [128]bool
	if err := sim.ReadBits(&cur, &chg); err != nil {
		t.Fatalf("readbits: %v", err)
	}
	if !cur[5] || !chg[5] {
		t.Fatalf("expected bit 5 set and changed")
	}
}

func TestSimStreamEOFAfterClose(t *testing.T) {
	sim := hwaccess.NewSim()
	sim.PushStreamData([]byte{1, 2, 3, 4})
	sim.CloseStream(hwaccess.CompletionOk)
	r, err := sim.StreamReader()
	if err != nil {
		t.Fatalf("stream reader: %v", err)
	}
	buf := make([]byte, 4)
	n, err := r.Read(buf)
	if err != nil || n != 4 {
		t.Fatalf("read: %d %v", n, err)
	}
	_, err = r.Read(buf)
	if err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestRegisterMapValidation(t *testing.T) {
	offsets := map[string]uint32{}
	for _, name := range hwaccess.RequiredNames {
		offsets[name] = 1
	}
	if _, err := hwaccess.NewRegisterMap(hwaccess.NamedRegisterBase, offsets); err != nil {
		t.Fatalf("expected valid register map: %v", err)
	}
	delete(offsets, "PCAP_ARM")
	if _, err := hwaccess.NewRegisterMap(hwaccess.NamedRegisterBase, offsets); err == nil {
		t.Fatalf("expected missing-name error")
	}
}
