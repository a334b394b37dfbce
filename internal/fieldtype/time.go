package fieldtype

import (
	"strconv"

	"github.com/panda-fpga/pandad/internal/perr"
)

// Time fields store a hardware tick count and present it scaled by Prescale
// (ticks per Unit) into a human time value, e.g. Prescale=125000000 and
// Unit="s" for a 125MHz clock expressed in seconds.
type Time struct {
	Prescale float64
	Unit     string
}

func (Time) Name() string { return "time" }

func (t Time) Format(raw uint32) (string, error) {
	if t.Prescale == 0 {
		return "", perr.New(perr.KindValidation, "time type has zero prescale")
	}
	seconds := float64(raw) / t.Prescale
	return strconv.FormatFloat(seconds, 'g', -1, 64), nil
}

func (t Time) Parse(s string) (uint32, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &ErrInvalidValue{Type: "time", Value: s}
	}
	if v < 0 {
		return 0, &ErrInvalidValue{Type: "time", Value: s}
	}
	raw := v * t.Prescale
	if raw > float64(^uint32(0)) {
		return 0, &ErrInvalidValue{Type: "time", Value: s}
	}
	return uint32(raw + 0.5), nil
}
