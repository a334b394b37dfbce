package fieldtype_test

import (
	"testing"

	"github.com/panda-fpga/pandad/internal/fieldtype"
)

func TestScalarRoundTrip(t *testing.T) {
	tp := fieldtype.Scalar{Scale: 0.001, Offset: 0, Units: "ms"}
	raw, err := tp.Parse("12.5")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	s, err := tp.Format(raw)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if s != "12.5" {
		t.Fatalf("want 12.5, got %s", s)
	}
}

func TestEnumFormatParse(t *testing.T) {
	tp := fieldtype.Enum{Entries: []string{"High-Z", "50-Ohm"}}
	raw, err := tp.Parse("50-Ohm")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if raw != 1 {
		t.Fatalf("want 1, got %d", raw)
	}
	s, err := tp.Format(raw)
	if err != nil || s != "50-Ohm" {
		t.Fatalf("format: %s %v", s, err)
	}
	if _, err := tp.Parse("bogus"); err == nil {
		t.Fatalf("expected error for unknown enum value")
	}
}

func TestLutAndExpression(t *testing.T) {
	tp := fieldtype.Lut{}
	raw, err := tp.Parse("A&B")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// A&B is true only when bit0 and bit1 are both set: inputs 3, 7, 11, ...
	for i := 0; i < 32; i++ {
		want := i&0x3 == 0x3
		got := raw&(1<<uint(i)) != 0
		if got != want {
			t.Fatalf("bit %d: want %v got %v", i, want, got)
		}
	}
	s, err := tp.Format(raw)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	raw2, err := tp.Parse(s)
	if err != nil || raw2 != raw {
		t.Fatalf("round trip via hex failed: %v %x != %x", err, raw2, raw)
	}
}

func TestTableDescriptorPackExtract(t *testing.T) {
	d := fieldtype.TableDescriptor{Fields: []fieldtype.TableFieldDesc{
		{Name: "REPEATS", BitLow: 0, BitHigh: 15, Sub: fieldtype.Uint{Max: 0xFFFF}},
		{Name: "TRIGGER", BitLow: 16, BitHigh: 19, Sub: fieldtype.Uint{Max: 15}},
	}}
	var row uint32
	row, ok := d.Pack(row, "REPEATS", 100)
	if !ok {
		t.Fatalf("pack REPEATS failed")
	}
	row, ok = d.Pack(row, "TRIGGER", 5)
	if !ok {
		t.Fatalf("pack TRIGGER failed")
	}
	v, ok := d.Extract(row, "REPEATS")
	if !ok || v != 100 {
		t.Fatalf("extract REPEATS: %d %v", v, ok)
	}
	v, ok = d.Extract(row, "TRIGGER")
	if !ok || v != 5 {
		t.Fatalf("extract TRIGGER: %d %v", v, ok)
	}
}
