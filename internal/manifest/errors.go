package manifest

import (
	"errors"
	"fmt"
)

var (
	ErrMissingEntryListMarker = errors.New("entry list marker not found")
	ErrUnterminatedEntryList  = errors.New("entry list is not terminated")
	ErrMalformedEntry         = errors.New("malformed entry block")
	ErrUnsafeText             = errors.New("unsafe text")
)

// ParseError reports a structural problem in manifest text
type ParseError struct {
	Offset int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("manifest parse error at offset %d: %v", e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError reports a field that would break the generated syntax
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("manifest validation error: field %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// DriftWarning reports a removal where only one half of the import/entry pair existed
type DriftWarning struct {
	ID            string
	ImageImported bool
	EntryListed   bool
}

func (w *DriftWarning) Error() string {
	switch {
	case w.ImageImported && !w.EntryListed:
		return fmt.Sprintf("manifest drift: %s had an import but no entry", w.ID)
	case w.EntryListed && !w.ImageImported:
		return fmt.Sprintf("manifest drift: %s had an entry but no import", w.ID)
	default:
		return fmt.Sprintf("manifest drift: %s", w.ID)
	}
}
