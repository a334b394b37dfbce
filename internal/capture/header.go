package capture

import (
	"fmt"
	"io"
	"strings"
)

// HeaderOpts controls one session's header emission (spec §4.7).
type HeaderOpts struct {
	Format  string // "ASCII" or "" for the binary formats
	Process Process
	XML     bool
	Missed  uint64
}

// sampleBytesOut is the per-sample byte width a session with opts.Process
// actually emits on the wire (spec §8 Testable Property 3: the header's
// sample-bytes: line must equal the real per-sample emission size). RAW
// passes the hardware record size through unchanged; UNSCALED and SCALED
// both emit one 8-byte slot per output field (the hidden sample-count
// field never reaches the wire).
func sampleBytesOut(p *Plan, proc Process) int {
	if proc == ProcessRaw {
		return p.SampleBytes
	}
	return 8 * len(p.OutputFields())
}

// WriteHeader emits the plain or XML header block described by spec §4.7:
// `missed:`, `process:`, `format:`, `sample-bytes:` (binary formats only),
// and a `fields:` block listing each captured field's name, capture string,
// and scale/offset/units when the field carries a scaling.
func WriteHeader(w io.Writer, p *Plan, opts HeaderOpts) error {
	if opts.XML {
		return writeXMLHeader(w, p, opts)
	}
	return writePlainHeader(w, p, opts)
}

func writePlainHeader(w io.Writer, p *Plan, opts HeaderOpts) error {
	format := opts.Format
	if format == "" {
		format = "RAW"
	}
	if _, err := fmt.Fprintf(w, "missed: %d\n", opts.Missed); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "process: %s\n", p.Process); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "format: %s\n", format); err != nil {
		return err
	}
	if format != "ASCII" {
		if _, err := fmt.Fprintf(w, "sample-bytes: %d\n", sampleBytesOut(p, opts.Process)); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "fields:\n"); err != nil {
		return err
	}
	for _, f := range p.OutputFields() {
		line := fmt.Sprintf("%s %s", f.Name, f.CaptureStr)
		if f.Scale != 1 || f.Offset != 0 || f.Units != "" {
			line += fmt.Sprintf(" Scaled: %g %g Units: %s", f.Scale, f.Offset, f.Units)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func writeXMLHeader(w io.Writer, p *Plan, opts HeaderOpts) error {
	format := opts.Format
	if format == "" {
		format = "RAW"
	}
	if _, err := fmt.Fprintf(w, "<header>\n"); err != nil {
		return err
	}
	attrs := fmt.Sprintf(`missed="%d" process="%s" format="%s"`, opts.Missed, xmlEscape(p.Process), xmlEscape(format))
	if format != "ASCII" {
		attrs += fmt.Sprintf(` sample_bytes="%d"`, sampleBytesOut(p, opts.Process))
	}
	if _, err := fmt.Fprintf(w, "<data %s/>\n<fields>\n", attrs); err != nil {
		return err
	}
	for _, f := range p.OutputFields() {
		attr := fmt.Sprintf(`name="%s" type="%s"`, xmlEscape(f.Name), xmlEscape(f.CaptureStr))
		if f.Scale != 1 || f.Offset != 0 || f.Units != "" {
			attr += fmt.Sprintf(` scale="%g" offset="%g" units="%s"`, f.Scale, f.Offset, xmlEscape(f.Units))
		}
		if _, err := fmt.Fprintf(w, "<field %s/>\n", attr); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "</fields>\n</header>\n")
	return err
}

// xmlEscape escapes the five XML special characters, as spec §4.7 requires
// of the XML header form.
func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return r.Replace(s)
}
