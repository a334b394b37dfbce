package capture_test

import (
	"testing"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/capture"
)

func TestBuildPlanEmpty(t *testing.T) {
	if _, err := capture.BuildPlan(nil, "Scaled"); err != capture.ErrEmptyCapture {
		t.Fatalf("want ErrEmptyCapture, got %v", err)
	}
}

func TestBuildPlanMixedCategories(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "COUNTER1.OUT", BusSlot: 0, Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
		{Name: "PCAP.TS", BusSlot: 1, Info: busstate.NewCaptureInfo(busstate.CaptureTSNormal)},
		{Name: "ADC1.VAL", BusSlot: 2, Info: busstate.NewCaptureInfo(busstate.CaptureAverage), Scale: 0.001, Offset: 0, Units: "V"},
	}
	p, err := capture.BuildPlan(outputs, "Scaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if !p.NeedsTimestamp {
		t.Fatalf("expected timestamp requirement from TSNormal field")
	}
	if !p.NeedsSampleCount {
		t.Fatalf("expected sample count requirement from Average field")
	}
	// 4 (unscaled) + 8 (adc mean) + 8 (timestamp) + 4 (hidden sample count) = 24
	if p.SampleBytes != 24 {
		t.Fatalf("want sample_bytes=24, got %d", p.SampleBytes)
	}
	if len(p.Fields) != 4 {
		t.Fatalf("want 4 fields (3 outputs + hidden sample count), got %d", len(p.Fields))
	}
	if len(p.OutputFields()) != 3 {
		t.Fatalf("want 3 output fields, got %d", len(p.OutputFields()))
	}
}

func TestBuildPlanStdDevAddsSumSquares(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "ADC1.VAL", BusSlot: 0, Info: busstate.NewCaptureInfo(busstate.CaptureStdDev)},
	}
	p, err := capture.BuildPlan(outputs, "Scaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if len(p.Fields) != 3 {
		t.Fatalf("want sum + sum-of-squares + hidden sample count fields, got %d", len(p.Fields))
	}
	if p.Fields[1].Category != capture.CatADCSumSq {
		t.Fatalf("want second field to be CatADCSumSq, got %v", p.Fields[1].Category)
	}
	if p.Fields[2].Category != capture.CatSampleCount {
		t.Fatalf("want third field to be the hidden CatSampleCount, got %v", p.Fields[2].Category)
	}
	// 8 (adc mean) + 8 (sum-of-squares) + 4 (hidden sample count) = 20
	if p.SampleBytes != 20 {
		t.Fatalf("want sample_bytes=20, got %d", p.SampleBytes)
	}
}

func TestBuildPlanSortsByName(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "B.OUT", BusSlot: 1, Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
		{Name: "A.OUT", BusSlot: 0, Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
	}
	p, err := capture.BuildPlan(outputs, "Raw")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	if p.Fields[0].Name != "A.OUT" || p.Fields[1].Name != "B.OUT" {
		t.Fatalf("fields not sorted: %+v", p.Fields)
	}
}
