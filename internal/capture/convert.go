package capture

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/aclements/go-moremath/vec"
)

// Process selects the output representation of Convert (spec §4.7's
// RAW/UNSCALED/SCALED data-protocol options).
type Process int

const (
	ProcessRaw Process = iota
	ProcessUnscaled
	ProcessScaled
)

func (p Process) String() string {
	switch p {
	case ProcessUnscaled:
		return "Unscaled"
	case ProcessScaled:
		return "Scaled"
	default:
		return "Raw"
	}
}

// Row is one converted sample: either the untouched raw bytes (RAW) or one
// float64 value per output field in plan order (UNSCALED and SCALED).
type Row struct {
	Raw    []byte
	Scaled []float64
}

// Convert decodes one fixed-size sample record according to plan. Raw
// returns a copy of the record bytes. Unscaled returns the decoded integers
// (as float64, so callers have a uniform numeric type to format) without
// scale/offset, with ADC mean and sum-of-squares values shifted left by 8
// bits and floored. Scaled applies each field's scale/offset.
func Convert(p *Plan, record []byte, proc Process) (Row, error) {
	if proc == ProcessRaw {
		raw := make([]byte, len(record))
		copy(raw, record)
		return Row{Raw: raw}, nil
	}

	outFields := p.OutputFields()
	values, err := decode(p, record)
	if err != nil {
		return Row{}, err
	}
	if proc == ProcessUnscaled {
		// spec §4.7: ADC sums are divided by sample count and shifted left
		// by 8 bits in the UNSCALED representation (decode already divides
		// by the real sample count; only the <<8 fixed-point shift and the
		// floor happen here, and only for the ADC mean/sum-of-squares
		// categories — every other field passes through unshifted).
		out := make([]float64, len(values))
		for i, f := range outFields {
			if f.Category == CatADCMean || f.Category == CatADCSumSq {
				out[i] = math.Floor(values[i] * 256)
			} else {
				out[i] = values[i]
			}
		}
		return Row{Scaled: out}, nil
	}

	scales := make([]float64, len(outFields))
	offsets := make([]float64, len(outFields))
	for i, f := range outFields {
		scales[i], offsets[i] = f.Scale, f.Offset
	}
	scaled := make([]float64, len(values))
	for i := range values {
		scale, offset := scales[i], offsets[i]
		scaled[i] = vec.Map(func(v float64) float64 { return v*scale + offset }, values[i:i+1])[0]
	}
	return Row{Scaled: scaled}, nil
}

// decode walks the fixed record layout in field order, producing one raw
// numeric value per captured field (ADC mean/sum-of-squares are already
// divided through by sample count here, per spec §4.4's "reports an
// average", so SCALED conversion downstream only needs v*scale+offset).
func decode(p *Plan, record []byte) ([]float64, error) {
	off := 0
	values := make([]float64, 0, len(p.Fields))

	// The hidden sample-count field is always appended last by BuildPlan,
	// so its bytes are the record's final 4 — read it before the per-field
	// loop so CatADCMean/CatADCSumSq can divide by the real count instead
	// of always assuming 1.
	sampleCount := int64(1)
	if p.NeedsSampleCount {
		if len(record) < 4 {
			return nil, fmt.Errorf("capture record too short for sample count")
		}
		sampleCount = int64(binary.LittleEndian.Uint32(record[len(record)-4:]))
	}

	for _, f := range p.Fields {
		switch f.Category {
		case CatSampleCount:
			off += 4
		case CatUnscaled32, CatScaled32:
			v := int32(binary.LittleEndian.Uint32(record[off:]))
			values = append(values, float64(v))
			off += 4
		case CatScaled64:
			v := int64(binary.LittleEndian.Uint64(record[off:]))
			values = append(values, float64(v))
			off += 8
		case CatADCMean, CatADCSumSq:
			v := int64(binary.LittleEndian.Uint64(record[off:]))
			mean := float64(v)
			if sampleCount > 0 {
				mean /= float64(sampleCount)
			}
			values = append(values, mean)
			off += 8
		case CatTimestamp, CatTimestampOffset:
			v := binary.LittleEndian.Uint64(record[off:])
			values = append(values, float64(v))
			off += 8
		case CatBitsGroup:
			v := binary.LittleEndian.Uint32(record[off:])
			values = append(values, float64(v))
			off += 4
		}
	}
	return values, nil
}

// StdDev computes the population standard deviation of a block of ADC
// samples from its running sum and sum-of-squares accumulators — plain
// closed-form arithmetic (spec §4.4), since no streaming-stats call site is
// grounded in the retrieved corpus (see SPEC_FULL.md §B).
func StdDev(sum, sumSq float64, n int64) float64 {
	if n <= 0 {
		return 0
	}
	mean := sum / float64(n)
	variance := sumSq/float64(n) - mean*mean
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}
