package busstate

import "fmt"

// CaptureMode is the derivation a pos_out/ext_out field's CAPTURE
// attribute selects, taken from spec §4.4's taxonomy.
type CaptureMode int

const (
	CaptureNone CaptureMode = iota
	CaptureUnscaled
	CaptureScaled32
	CaptureScaled64
	CaptureAverage
	CaptureStdDev
	CaptureTSNormal
	CaptureTSOffset
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureNone:
		return "No"
	case CaptureUnscaled:
		return "Unscaled"
	case CaptureScaled32:
		return "Scaled32"
	case CaptureScaled64:
		return "Scaled64"
	case CaptureAverage:
		return "Average"
	case CaptureStdDev:
		return "StdDev"
	case CaptureTSNormal:
		return "TSNormal"
	case CaptureTSOffset:
		return "TSOffset"
	default:
		return "?"
	}
}

// SubField is a sub-component index requested from a position-bus slot
// when computing a derivation such as AVERAGE or STDDEV, which need the
// hardware's running sum/sum-of-squares accumulators rather than the plain
// instantaneous value.
type SubField int

const (
	SubValue SubField = iota
	SubDiff
	SubSumLow
	SubSumHigh
	SubMin
	SubMax
	SubSum2Low
	SubSum2High
)

func (s SubField) String() string {
	switch s {
	case SubValue:
		return "VALUE"
	case SubDiff:
		return "DIFF"
	case SubSumLow:
		return "SUM_LOW"
	case SubSumHigh:
		return "SUM_HIGH"
	case SubMin:
		return "MIN"
	case SubMax:
		return "MAX"
	case SubSum2Low:
		return "SUM2_LOW"
	case SubSum2High:
		return "SUM2_HIGH"
	default:
		return "?"
	}
}

// CaptureInfo is one field's CAPTURE attribute selection: a mode plus the
// (up to two) hardware sub-fields it needs pulled from the position bus.
type CaptureInfo struct {
	Mode    CaptureMode
	Indices [2]SubField
	NIndex  int
}

// EnumForKind returns the CAPTURE enum values valid for a given output
// kind (plain position, ADC, encoder, or extension), since the set of
// legal selections depends on what the underlying field physically is
// (spec §4.4).
type OutputKind int

const (
	KindPosition OutputKind = iota
	KindADC
	KindEncoder
	KindExtension
)

func EnumForKind(kind OutputKind) []string {
	switch kind {
	case KindADC:
		return []string{"No", "Unscaled", "Scaled32", "Scaled64", "Average", "StdDev"}
	case KindEncoder:
		return []string{"No", "Unscaled", "Scaled32", "Scaled64"}
	case KindExtension:
		return []string{"No", "TSNormal", "TSOffset", "Unscaled"}
	default:
		return []string{"No", "Unscaled", "Scaled32", "Scaled64"}
	}
}

// ParseCaptureMode resolves one of the enum strings returned by
// EnumForKind back to a CaptureMode, validating it is legal for kind.
func ParseCaptureMode(kind OutputKind, s string) (CaptureMode, error) {
	for _, name := range EnumForKind(kind) {
		if name == s {
			for m := CaptureNone; m <= CaptureTSOffset; m++ {
				if m.String() == name {
					return m, nil
				}
			}
		}
	}
	switch s {
	case "TSNormal":
		if kind == KindExtension {
			return CaptureTSNormal, nil
		}
	case "TSOffset":
		if kind == KindExtension {
			return CaptureTSOffset, nil
		}
	}
	return CaptureNone, fmt.Errorf("capture mode %q is not valid for this output", s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// subFieldsForMode returns the sub-fields that must be requested from
// hardware to compute the given mode.
func subFieldsForMode(mode CaptureMode) ([2]SubField, int) {
	switch mode {
	case CaptureAverage:
		return [2]SubField{SubSumLow, SubSumHigh}, 2
	case CaptureStdDev:
		return [2]SubField{SubSum2Low, SubSum2High}, 2
	default:
		return [2]SubField{SubValue, 0}, 1
	}
}

// NewCaptureInfo builds a CaptureInfo from a validated mode.
func NewCaptureInfo(mode CaptureMode) CaptureInfo {
	idx, n := subFieldsForMode(mode)
	return CaptureInfo{Mode: mode, Indices: idx, NIndex: n}
}

// RegisteredOutput is one entry in the arm-time capture snapshot: the
// canonical field name, its bus slot, and its frozen capture selection.
type RegisteredOutput struct {
	Name   string
	BusSlot int
	Info    CaptureInfo
	Kind    OutputKind

	// Scale, Offset and Units carry the field's scalar conversion
	// (raw = (scaled - Offset) / Scale) so the capture plan builder can
	// convert without reaching back into the entity model.
	Scale  float64
	Offset float64
	Units  string
}

// Registry collects every enabled CAPTURE selection across all pos_out and
// ext_out fields, bounded by the capture-bus length, and
// detects overlapping bus assignments at registration time (spec §4.4).
type Registry struct {
	maxEntries int
	entries    []RegisteredOutput
	slots      map[int]string
}

func NewRegistry(maxEntries int) *Registry {
	return &Registry{maxEntries: maxEntries, slots: make(map[int]string)}
}

// Register adds or replaces one output's capture selection, or removes it
// when the mode is CaptureNone. It returns an error when another output
// already claims the same bus slot with a capturing mode, or when the
// capture bus is full.
func (r *Registry) Register(out RegisteredOutput) error {
	if out.Info.Mode == CaptureNone {
		delete(r.slots, out.BusSlot)
		r.removeByName(out.Name)
		return nil
	}
	if existing, ok := r.slots[out.BusSlot]; ok && existing != out.Name {
		return fmt.Errorf("bus slot %d already registered to %s, cannot also register %s", out.BusSlot, existing, out.Name)
	}
	if len(r.entries) >= r.maxEntries {
		return fmt.Errorf("capture bus is full (max %d registered outputs)", r.maxEntries)
	}
	r.slots[out.BusSlot] = out.Name
	r.removeByName(out.Name)
	r.entries = append(r.entries, out)
	return nil
}

func (r *Registry) removeByName(name string) {
	out := r.entries[:0]
	for _, e := range r.entries {
		if e.Name != name {
			out = append(out, e)
		}
	}
	r.entries = out
}

// Snapshot returns the frozen list of currently-registered outputs, used
// both by *CAPTURE? and by the arm-time plan builder.
func (r *Registry) Snapshot() []RegisteredOutput {
	out := make([]RegisteredOutput, len(r.entries))
	copy(out, r.entries)
	return out
}

// Reset clears every registration (*CAPTURE=).
func (r *Registry) Reset() {
	r.entries = nil
	r.slots = make(map[int]string)
}
