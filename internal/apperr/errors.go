// Package apperr defines the error taxonomy shared by the memo store and its
// transports.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrIO              = errors.New("i/o error")
	ErrEncoding        = errors.New("encoding error")
	ErrConflict        = errors.New("conflict")
	ErrIndexCorruption = errors.New("index corruption")
	ErrScopeNotFound   = errors.New("scope not found")
)

// Error carries the failing operation and the memo id or input field that
// caused it.
type Error struct {
	Kind  error
	Op    string
	ID    string
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.ID != "":
		fmt.Fprintf(&b, "memo %s: ", e.ID)
	case e.Field != "":
		fmt.Fprintf(&b, "%s: ", e.Field)
	}
	switch {
	case e.Msg != "":
		b.WriteString(e.Msg)
	case e.Kind != nil:
		b.WriteString(e.Kind.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NotFound reports an unknown memo id.
func NotFound(op, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, ID: id, Msg: "not found"}
}

// Validation reports an invalid input field.
func Validation(field, msg string) error {
	return &Error{Kind: ErrValidation, Field: field, Msg: msg}
}

// IO wraps a file-system failure.
func IO(op, id string, err error) error {
	return &Error{Kind: ErrIO, Op: op, ID: id, Err: err}
}

// Encoding reports memo content that is not valid UTF-8.
func Encoding(op, id string) error {
	return &Error{Kind: ErrEncoding, Op: op, ID: id, Msg: "content is not valid UTF-8"}
}

// Conflict reports a file name collision.
func Conflict(op, id, msg string) error {
	return &Error{Kind: ErrConflict, Op: op, ID: id, Msg: msg}
}

// IndexCorruption reports a violated search index invariant.
func IndexCorruption(id, msg string) error {
	return &Error{Kind: ErrIndexCorruption, Op: "search", ID: id, Msg: msg}
}

// ScopeNotFound reports that no repository root encloses dir.
func ScopeNotFound(dir string) error {
	return &Error{Kind: ErrScopeNotFound, Op: "discover scope", Msg: "no repository root above " + dir}
}

// Kind returns the taxonomy sentinel matched by err, or nil.
func Kind(err error) error {
	for _, k := range []error{ErrNotFound, ErrValidation, ErrEncoding, ErrConflict, ErrIndexCorruption, ErrScopeNotFound, ErrIO} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
