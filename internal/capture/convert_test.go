package capture_test

import (
	"encoding/binary"
	"testing"

	"github.com/panda-fpga/pandad/internal/busstate"
	"github.com/panda-fpga/pandad/internal/capture"
)

func TestConvertRawPassesThrough(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "A.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureUnscaled)},
	}
	p, err := capture.BuildPlan(outputs, "Raw")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	record := make([]byte, p.SampleBytes)
	binary.LittleEndian.PutUint32(record, 0xdeadbeef)

	row, err := capture.Convert(p, record, capture.ProcessRaw)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if binary.LittleEndian.Uint32(row.Raw) != 0xdeadbeef {
		t.Fatalf("raw bytes not preserved")
	}
}

func TestConvertScaledAppliesScaleAndOffset(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "A.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureScaled32), Scale: 2.0, Offset: 10.0},
	}
	p, err := capture.BuildPlan(outputs, "Scaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	record := make([]byte, p.SampleBytes)
	binary.LittleEndian.PutUint32(record, uint32(int32(5)))

	row, err := capture.Convert(p, record, capture.ProcessScaled)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(row.Scaled) != 1 || row.Scaled[0] != 5*2.0+10.0 {
		t.Fatalf("want scaled value 20, got %v", row.Scaled)
	}
}

func TestConvertUnscaledSkipsScale(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "A.OUT", Info: busstate.NewCaptureInfo(busstate.CaptureScaled32), Scale: 2.0, Offset: 10.0},
	}
	p, err := capture.BuildPlan(outputs, "Unscaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}
	record := make([]byte, p.SampleBytes)
	binary.LittleEndian.PutUint32(record, uint32(int32(-5)))

	row, err := capture.Convert(p, record, capture.ProcessUnscaled)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if row.Scaled[0] != -5 {
		t.Fatalf("want raw -5 unscaled, got %v", row.Scaled)
	}
}

// TestConvertUnscaledADCAppliesSampleCountAndShift guards testable
// property #4: UNSCALED ADC output equals floor((Σ × 256) / count).
func TestConvertUnscaledADCAppliesSampleCountAndShift(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "ADC1.VAL", Info: busstate.NewCaptureInfo(busstate.CaptureAverage), Scale: 0.001, Offset: 0, Units: "V"},
	}
	p, err := capture.BuildPlan(outputs, "Unscaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	const sum, count = 1000.0, 8
	record := make([]byte, p.SampleBytes)
	binary.LittleEndian.PutUint64(record[0:], uint64(int64(sum)))
	binary.LittleEndian.PutUint32(record[len(record)-4:], uint32(count))

	row, err := capture.Convert(p, record, capture.ProcessUnscaled)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(row.Scaled) != 1 {
		t.Fatalf("want 1 output value (hidden sample count excluded), got %d", len(row.Scaled))
	}
	want := float64(int64(sum*256) / count)
	if row.Scaled[0] != want {
		t.Fatalf("want floor((sum*256)/count) = %v, got %v", want, row.Scaled[0])
	}
}

// TestConvertScaledADCDividesByRealSampleCount guards the SCALED path's use
// of the same real sample count (no <<8 shift there, just v*scale+offset).
func TestConvertScaledADCDividesByRealSampleCount(t *testing.T) {
	outputs := []busstate.RegisteredOutput{
		{Name: "ADC1.VAL", Info: busstate.NewCaptureInfo(busstate.CaptureAverage), Scale: 2.0, Offset: 1.0},
	}
	p, err := capture.BuildPlan(outputs, "Scaled")
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	const sum, count = 40.0, 4 // mean = 10
	record := make([]byte, p.SampleBytes)
	binary.LittleEndian.PutUint64(record[0:], uint64(int64(sum)))
	binary.LittleEndian.PutUint32(record[len(record)-4:], uint32(count))

	row, err := capture.Convert(p, record, capture.ProcessScaled)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if len(row.Scaled) != 1 || row.Scaled[0] != 10*2.0+1.0 {
		t.Fatalf("want scaled mean 21, got %v", row.Scaled)
	}
}

func TestStdDevKnownValues(t *testing.T) {
	// Samples {2, 4, 4, 4, 5, 5, 7, 9}: population stddev is 2.
	sum, sumSq := 0.0, 0.0
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		sum += v
		sumSq += v * v
	}
	got := capture.StdDev(sum, sumSq, 8)
	if got < 1.999 || got > 2.001 {
		t.Fatalf("want stddev ~2.0, got %v", got)
	}
}

func TestStdDevZeroSamples(t *testing.T) {
	if got := capture.StdDev(0, 0, 0); got != 0 {
		t.Fatalf("want 0 for empty sample, got %v", got)
	}
}
