// Package perr provides small helpers for attaching location context to
// errors as they propagate, mirroring the short-circuit error chaining the
// original C server performs on every failing syscall or parse step.
package perr

import "fmt"

// Kind classifies an error for top-level dispatch: startup errors abort the
// process, command errors are localised to one connection line, and so on.
type Kind int

const (
	KindParse Kind = iota
	KindValidation
	KindNotFound
	KindInvalidValue
	KindBusy
	KindOverrun
	KindHardware
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "parse error"
	case KindValidation:
		return "validation error"
	case KindNotFound:
		return "not found"
	case KindInvalidValue:
		return "invalid value"
	case KindBusy:
		return "busy"
	case KindOverrun:
		return "overrun"
	case KindHardware:
		return "hardware error"
	case KindIO:
		return "I/O error"
	default:
		return "error"
	}
}

// Error is a kinded, displayable error that can carry file/line context.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a kinded error with a message.
func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and a message to an existing error, preserving it for
// errors.Is / errors.As.
func Wrap(kind Kind, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Location is position context for a parse error: file, 1-based line number,
// and byte offset within that line.
type Location struct {
	File   string
	Line   int
	Offset int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Offset)
}

// AtLocation prepends file/line/offset context to an error, the way the
// original parser tags every failure with its source position.
func AtLocation(loc Location, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", loc, err)
}
