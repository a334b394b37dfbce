// Package capture implements the capture-preparation and sample
// transformation pipeline: plan building at arm time, the scaled/unscaled
// conversions, block framing, and header emission (spec §4.7).
package capture

import (
	"fmt"
	"sort"

	"github.com/panda-fpga/pandad/internal/busstate"
)

// Category partitions a captured field by its storage shape in the raw
// sample record. All but CatADCSumSq match spec §3's capture-plan
// partitioning; CatADCSumSq is an extension this implementation adds so the
// STDDEV capture mode (§4.4) has a sum-of-squares accumulator to derive a
// variance from, since §4.7's raw layout only names a single adc_sum slot.
type Category int

const (
	CatUnscaled32 Category = iota
	CatScaled32
	CatScaled64
	CatADCMean
	CatADCSumSq
	CatTimestamp
	CatTimestampOffset
	CatSampleCount
	CatBitsGroup
)

// CapturedField is one output bound into the plan: its name, storage
// category, and the scale/offset/units needed to convert it.
type CapturedField struct {
	Name       string
	Category   Category
	Scale      float64
	Offset     float64
	Units      string
	CaptureStr string
}

// Plan is the frozen, arm-time capture layout.
type Plan struct {
	Fields []CapturedField

	NeedsTimestamp       bool
	NeedsTimestampOffset bool
	NeedsSampleCount     bool

	SampleBytes int
	Process     string // "Scaled", "Unscaled", or "Raw" — reported in the header
}

// ErrEmptyCapture is returned by BuildPlan when no output has an enabled
// CAPTURE selection.
var ErrEmptyCapture = fmt.Errorf("no fields selected for capture")

// BuildPlan derives the arm-time sample layout from the frozen set of
// registered outputs, resolving the open question in spec §9 about framing
// as "one length prefix per block" — that policy lives in internal/dataserver,
// not here; this only decides the per-sample byte layout.
func BuildPlan(outputs []busstate.RegisteredOutput, process string) (*Plan, error) {
	if len(outputs) == 0 {
		return nil, ErrEmptyCapture
	}

	sorted := make([]busstate.RegisteredOutput, len(outputs))
	copy(sorted, outputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	p := &Plan{Process: process}

	for _, out := range sorted {
		cf := CapturedField{Name: out.Name, CaptureStr: out.Info.Mode.String()}
		switch out.Info.Mode {
		case busstate.CaptureUnscaled:
			cf.Category = CatUnscaled32
			p.SampleBytes += 4
		case busstate.CaptureScaled32:
			cf.Category = CatScaled32
			p.SampleBytes += 4
		case busstate.CaptureScaled64:
			cf.Category = CatScaled64
			p.SampleBytes += 8
		case busstate.CaptureAverage:
			cf.Category = CatADCMean
			p.SampleBytes += 8
			p.NeedsSampleCount = true
		case busstate.CaptureStdDev:
			cf.Category = CatADCMean
			cf.Scale, cf.Offset, cf.Units = out.Scale, out.Offset, out.Units
			if cf.Scale == 0 {
				cf.Scale = 1
			}
			p.SampleBytes += 8
			p.NeedsSampleCount = true
			p.Fields = append(p.Fields, cf)
			sumSq := CapturedField{Name: out.Name + ".SUMSQ", Category: CatADCSumSq, CaptureStr: out.Info.Mode.String()}
			p.SampleBytes += 8
			p.Fields = append(p.Fields, sumSq)
			continue
		case busstate.CaptureTSNormal:
			cf.Category = CatTimestamp
			p.NeedsTimestamp = true
		case busstate.CaptureTSOffset:
			cf.Category = CatTimestampOffset
			p.NeedsTimestamp = true
			p.NeedsTimestampOffset = true
		default:
			continue
		}
		cf.Scale, cf.Offset, cf.Units = out.Scale, out.Offset, out.Units
		if cf.Scale == 0 {
			cf.Scale = 1
		}
		p.Fields = append(p.Fields, cf)
	}

	if p.NeedsTimestamp {
		p.SampleBytes += 8
	}

	if p.NeedsSampleCount {
		// The hidden per-record sample-count accumulator (spec §4.7's ADC
		// averaging): always the last 4 bytes of the raw record. It backs
		// CatADCMean/CatADCSumSq division in decode but is never itself a
		// capture output, so OutputFields excludes it from the header's
		// fields: list and from the converted value/wire arrays.
		p.Fields = append(p.Fields, CapturedField{Category: CatSampleCount})
		p.SampleBytes += 4
	}

	if len(p.Fields) == 0 {
		return nil, ErrEmptyCapture
	}
	return p, nil
}

// OutputFields returns the fields that actually appear in a converted
// sample and in the header's fields: list — everything except the hidden
// sample-count accumulator, which decode consumes internally.
func (p *Plan) OutputFields() []CapturedField {
	out := make([]CapturedField, 0, len(p.Fields))
	for _, f := range p.Fields {
		if f.Category == CatSampleCount {
			continue
		}
		out = append(out, f)
	}
	return out
}
