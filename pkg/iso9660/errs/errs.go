// Package errs defines the error kinds returned across the iso9660kit packages so that
// callers can classify failures with errors.Is instead of parsing message text.
package errs

import "errors"

// Kind classifies an Error.
type Kind int

const (
	// KindUnknown is the zero value and should never be returned deliberately.
	KindUnknown Kind = iota
	// KindIOFailed wraps a failure reading from or writing to a sink.
	KindIOFailed
	// KindInvalidCharacter signals a string contains characters outside the allowed a-/d-/file-char set.
	KindInvalidCharacter
	// KindIdentifierTooLong signals a string exceeds the fixed field width it is being packed into.
	KindIdentifierTooLong
	// KindBootImageNotFound signals a requested El Torito boot image could not be located in the tree.
	KindBootImageNotFound
	// KindSinkTooSmall signals the output sink is too small to hold the system area and the
	// volume descriptor set; a later write the sink refuses is classified as KindIOFailed.
	KindSinkTooSmall
	// KindCorruptImage signals a parsed structure failed a sanity or checksum check.
	KindCorruptImage
	// KindNotFound signals a path lookup inside an image found no matching entry.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindIOFailed:
		return "io failed"
	case KindInvalidCharacter:
		return "invalid character"
	case KindIdentifierTooLong:
		return "identifier too long"
	case KindBootImageNotFound:
		return "boot image not found"
	case KindSinkTooSmall:
		return "sink too small"
	case KindCorruptImage:
		return "corrupt image"
	case KindNotFound:
		return "not found"
	default:
		return "unknown"
	}
}

// Error is the error type returned by iso9660kit. Op names the operation that failed
// (e.g. "format.WriteDirectory"), Kind classifies the failure, and Err, if present,
// is the underlying cause.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is(err, errs.KindNotFound) style checks by comparing Kind against
// a sentinel Error carrying only that Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// New constructs an *Error for the given operation and kind, optionally wrapping cause.
func New(op string, kind Kind, cause error) *Error {
	return &Error{Op: op, Kind: kind, Err: cause}
}

// sentinel returns a comparable *Error carrying only a Kind, suitable as the target
// of errors.Is(err, errs.NotFound).
func sentinel(k Kind) *Error { return &Error{Kind: k} }

var (
	IOFailed          = sentinel(KindIOFailed)
	InvalidCharacter  = sentinel(KindInvalidCharacter)
	IdentifierTooLong = sentinel(KindIdentifierTooLong)
	BootImageNotFound = sentinel(KindBootImageNotFound)
	SinkTooSmall      = sentinel(KindSinkTooSmall)
	CorruptImage      = sentinel(KindCorruptImage)
	NotFound          = sentinel(KindNotFound)
)
