package srcpkg

import "fmt"

// Kind classifies a fatal error so that command dispatch and tests can
// distinguish failure categories without string matching. See spec §7.
type Kind int

const (
	KindUnknown Kind = iota
	KindRecipe
	KindSource
	KindBuild
	KindConflict
	KindTransaction
	KindCycle
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindRecipe:
		return "recipe"
	case KindSource:
		return "source"
	case KindBuild:
		return "build"
	case KindConflict:
		return "conflict"
	case KindTransaction:
		return "transaction"
	case KindCycle:
		return "cycle"
	case KindNotFound:
		return "not-found"
	default:
		return "unknown"
	}
}

// Error is the one error type every fatal condition in srcpkg is expressed
// as. Wrap an underlying cause with Wrap; the Kind lets callers (tests, the
// CLI's exit-code logic) branch on failure category.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap constructs a *Error of the given kind.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// New constructs a *Error of the given kind with no underlying cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
