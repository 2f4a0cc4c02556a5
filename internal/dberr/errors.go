// Package dberr defines the closed set of error kinds shared by every
// coredb component. Errors are values, never used for control flow inside
// hot loops (buffer pool fetch/unpin, B+Tree descent, slotted-page scans).
package dberr

import "fmt"

// Kind identifies which of the closed set of failure categories an Error
// belongs to. New kinds are not meant to be added by callers outside this
// package.
type Kind int

const (
	IoError Kind = iota
	InvalidParam
	NotFound
	BufferFull
	PermissionDenied
	ParseError
	SemanticError
	ExpressionError
	ConstraintViolation
	UnsupportedFeature
)

func (k Kind) String() string {
	switch k {
	case IoError:
		return "IoError"
	case InvalidParam:
		return "InvalidParam"
	case NotFound:
		return "NotFound"
	case BufferFull:
		return "BufferFull"
	case PermissionDenied:
		return "PermissionDenied"
	case ParseError:
		return "ParseError"
	case SemanticError:
		return "SemanticError"
	case ExpressionError:
		return "ExpressionError"
	case ConstraintViolation:
		return "ConstraintViolation"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Pos locates an error in source text, populated by the SQL front-end's
// parser through WithPos. Zero value means "no position".
type Pos struct {
	Line int
	Col  int
}

// Error is the single error type surfaced by every public coredb method.
type Error struct {
	Kind    Kind
	Message string
	Pos     *Pos
	Cause   error
}

func (e *Error) Error() string {
	if e.Pos != nil {
		return fmt.Sprintf("%s: %s (line %d, col %d)", e.Kind, e.Message, e.Pos.Line, e.Pos.Col)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, dberr.ErrNotFound) style checks: it reports
// true whenever the target is a *Error of the same kind, whatever its
// message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind that wraps a lower-level cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithPos attaches a source position to an existing Error and returns it.
func (e *Error) WithPos(line, col int) *Error {
	e.Pos = &Pos{Line: line, Col: col}
	return e
}

// sentinel values usable with errors.Is(err, dberr.ErrNotFound) etc.
var (
	ErrIO                  = &Error{Kind: IoError}
	ErrInvalidParam        = &Error{Kind: InvalidParam}
	ErrNotFound            = &Error{Kind: NotFound}
	ErrBufferFull          = &Error{Kind: BufferFull}
	ErrPermissionDenied    = &Error{Kind: PermissionDenied}
	ErrParse               = &Error{Kind: ParseError}
	ErrSemantic            = &Error{Kind: SemanticError}
	ErrExpression          = &Error{Kind: ExpressionError}
	ErrConstraintViolation = &Error{Kind: ConstraintViolation}
	ErrUnsupportedFeature  = &Error{Kind: UnsupportedFeature}
)
