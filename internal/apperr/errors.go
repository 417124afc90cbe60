// Package apperr defines the error kinds surfaced to the UI shell.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrCancelled     = errors.New("cancelled")
	ErrNoDocument    = errors.New("no document open")
)

// Kind classifies a failure at the registry boundary. A Kind is itself an
// error so callers can match with errors.Is(err, apperr.FileSaveFailed).
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	UnsupportedFileType    Kind = "UnsupportedFileType"
	FileOpenFailed         Kind = "FileOpenFailed"
	FileSaveFailed         Kind = "FileSaveFailed"
	FileRenameFailed       Kind = "FileRenameFailed"
	CreateTempFileFailed   Kind = "CreateTempFileFailed"
	RefreshContentFailed   Kind = "RefreshContentFailed"
	LineEndingUpdateFailed Kind = "LineEndingUpdateFailed"
	SwitchFileFailed       Kind = "SwitchFileFailed"
)

// Error wraps an underlying failure with its kind and the path involved.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the Kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// Wrap returns err classified as kind. A nil err yields nil.
func Wrap(kind Kind, path string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Path: path, Err: err}
}

// KindOf returns the kind carried by err, or "" when err is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
