package assembler

import (
	"errors"
	"fmt"
)

// Kind classifies assembly failures.
type Kind int

const (
	KindUnknown Kind = iota
	// LoadFailed: document or image bytes are unreadable.
	LoadFailed
	// InvalidRange: the selection resolved to no pages, or names pages the document lacks.
	InvalidRange
	// UnsupportedProtection: output password protection was requested. Reported
	// as a warning on a successful artifact, never as a returned error.
	UnsupportedProtection
	// ArchiveError: packaging several outputs into one archive failed.
	ArchiveError
	// WriteFailed: the document library could not serialise the output.
	WriteFailed
	// UnsupportedInput: the input is of a kind the operation cannot take.
	UnsupportedInput
)

func (k Kind) String() string {
	switch k {
	case LoadFailed:
		return "load_failed"
	case InvalidRange:
		return "invalid_range"
	case UnsupportedProtection:
		return "unsupported_protection"
	case ArchiveError:
		return "archive_error"
	case WriteFailed:
		return "write_failed"
	case UnsupportedInput:
		return "unsupported_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by assembler operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrLoadFailed            = &Error{Kind: LoadFailed}
	ErrInvalidRange          = &Error{Kind: InvalidRange}
	ErrUnsupportedProtection = &Error{Kind: UnsupportedProtection}
	ErrArchive               = &Error{Kind: ArchiveError}
	ErrWriteFailed           = &Error{Kind: WriteFailed}
	ErrUnsupportedInput      = &Error{Kind: UnsupportedInput}
)

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// UserMessage is a message fit to show the person who submitted the input.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case LoadFailed:
		return "Could not process file. It may be corrupted or protected."
	case InvalidRange:
		return "The page ranges do not match any page in the document."
	case UnsupportedProtection:
		return "Password protection is not supported; the file was saved without a password."
	case ArchiveError:
		return "An error occurred while packaging the pages."
	case WriteFailed:
		return "An error occurred while writing the document."
	case UnsupportedInput:
		if e.Err != nil {
			return e.Err.Error()
		}
		return "This file type is not supported."
	default:
		return "An unexpected error occurred."
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
