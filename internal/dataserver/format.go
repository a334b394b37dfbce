package dataserver

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/panda-fpga/pandad/internal/capture"
)

// encodeBinaryRow renders one converted sample as fixed-width binary: raw
// bytes verbatim for RAW, little-endian IEEE-754 float64 per field for
// SCALED, little-endian int64 per field for UNSCALED.
func encodeBinaryRow(row capture.Row, proc capture.Process) []byte {
	if proc == capture.ProcessRaw {
		return row.Raw
	}
	buf := make([]byte, 8*len(row.Scaled))
	for i, v := range row.Scaled {
		var bits uint64
		if proc == capture.ProcessScaled {
			bits = math.Float64bits(v)
		} else {
			bits = uint64(int64(v))
		}
		binary.LittleEndian.PutUint64(buf[i*8:], bits)
	}
	return buf
}

// encodeASCIIRow renders one converted sample as a space-separated text
// row (spec §4.7 ASCII format), terminated by LF.
func encodeASCIIRow(plan *capture.Plan, row capture.Row, proc capture.Process) string {
	var sb strings.Builder
	if proc == capture.ProcessRaw {
		fmt.Fprintf(&sb, "%x", row.Raw)
	} else {
		for i, v := range row.Scaled {
			if i > 0 {
				sb.WriteByte(' ')
			}
			if proc == capture.ProcessScaled {
				fmt.Fprintf(&sb, "%g", v)
			} else {
				fmt.Fprintf(&sb, "%d", int64(v))
			}
		}
	}
	sb.WriteByte('\n')
	return sb.String()
}

// encodeChunk splits one coalesced ring block into fixed-size raw sample
// records, converts each, and concatenates the wire-format bytes for the
// whole chunk — the unit that gets one length prefix under FRAMED (the
// framing-policy decision SPEC_FULL.md records).
func encodeChunk(plan *capture.Plan, raw []byte, opts Options) ([]byte, error) {
	recordLen := plan.SampleBytes
	if recordLen == 0 {
		return nil, fmt.Errorf("zero-length sample record")
	}
	var out []byte
	for off := 0; off+recordLen <= len(raw); off += recordLen {
		row, err := capture.Convert(plan, raw[off:off+recordLen], opts.Process)
		if err != nil {
			return nil, err
		}
		if opts.ASCII {
			out = append(out, encodeASCIIRow(plan, row, opts.Process)...)
		} else {
			out = append(out, encodeBinaryRow(row, opts.Process)...)
		}
	}
	if opts.Base64 {
		return []byte(base64.StdEncoding.EncodeToString(out)), nil
	}
	return out, nil
}
