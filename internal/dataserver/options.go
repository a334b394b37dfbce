// Package dataserver implements the data protocol (spec §4.7, §6): option
// negotiation, per-session header emission, and streaming of captured
// samples to each concurrently connected client in its negotiated format.
package dataserver

import (
	"fmt"
	"strings"

	"github.com/panda-fpga/pandad/internal/capture"
)

// Options is one connection's negotiated session behaviour (spec §4.7's
// option table).
type Options struct {
	Framed   bool
	Base64   bool
	ASCII    bool
	Process  capture.Process
	NoHeader bool
	NoStatus bool
	OneShot  bool
	XML      bool
}

// ParseOptions parses the data protocol's first line: a space-separated
// option list, left to right, later tokens overriding earlier ones except
// where a preset (BARE, DEFAULT) expands to several at once.
func ParseOptions(line string) (Options, error) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return Options{}, fmt.Errorf("empty option list")
	}
	opts := Options{Process: capture.ProcessRaw}
	for _, tok := range tokens {
		switch tok {
		case "UNFRAMED":
			opts.Framed = false
		case "FRAMED":
			opts.Framed = true
		case "BASE64":
			opts.Base64 = true
			opts.Framed = true
		case "ASCII":
			opts.ASCII = true
		case "RAW":
			opts.Process = capture.ProcessRaw
		case "UNSCALED":
			opts.Process = capture.ProcessUnscaled
		case "SCALED":
			opts.Process = capture.ProcessScaled
		case "NO_HEADER":
			opts.NoHeader = true
		case "NO_STATUS":
			opts.NoStatus = true
		case "ONE_SHOT":
			opts.OneShot = true
		case "XML":
			opts.XML = true
		case "BARE":
			opts.Framed = false
			opts.Process = capture.ProcessUnscaled
			opts.NoHeader = true
			opts.NoStatus = true
			opts.OneShot = true
		case "DEFAULT":
			opts.ASCII = true
			opts.Process = capture.ProcessScaled
		default:
			return Options{}, fmt.Errorf("unrecognised data option %q", tok)
		}
	}
	return opts, nil
}

// headerFormat reports the string spec §4.7's header `format:` line uses
// for this option set.
func (o Options) headerFormat() string {
	if o.ASCII {
		return "ASCII"
	}
	if o.Base64 {
		return "BASE64"
	}
	return "RAW"
}
