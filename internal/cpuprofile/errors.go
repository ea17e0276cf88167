// Package cpuprofile models a parsed gperftools CPU profile and
// implements the reparse -> resolve -> emit-raw-text transform.
package cpuprofile

import "fmt"

type Kind string

const (
	KindEmptyStack         Kind = "empty_stack"
	KindSearchSymbolFailed Kind = "search_symbol_failed"
	KindNoProgramPath      Kind = "no_program_path"
	KindGenProfileFailed   Kind = "gen_profile_failed"
	KindEmptyMapsText      Kind = "empty_maps_text"
	KindReadError          Kind = "read_error"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cpuprofile: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("cpuprofile: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return te.Kind == e.Kind
}

func ErrKind(k Kind) *Error { return &Error{Kind: k} }
