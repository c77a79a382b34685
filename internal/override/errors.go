package override

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedOverride marks a path set without a KEY=VALUE separator.
	// It aborts the whole batch before anything is mutated.
	ErrMalformedOverride = errors.New("malformed override")
	// ErrPathNotApplicable marks a path set that could not be written to
	// the graph or its envelope. It is reported, never returned.
	ErrPathNotApplicable = errors.New("path not applicable")
	// ErrUnresolvedTextTarget marks a text prompt with no encoder to land in.
	ErrUnresolvedTextTarget = errors.New("unresolved text target")
)

// Error ties one of the sentinel kinds to the override item it concerns.
type Error struct {
	Kind error
	Item string
	Msg  string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	s := e.Kind.Error()
	if e.Item != "" {
		s = fmt.Sprintf("%s %q", s, e.Item)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Kind }

func malformed(item string) error {
	return &Error{Kind: ErrMalformedOverride, Item: item, Msg: "expected KEY=VALUE"}
}

func notApplicable(item, format string, args ...any) error {
	return &Error{Kind: ErrPathNotApplicable, Item: item, Msg: fmt.Sprintf(format, args...)}
}
