package vrd

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrMalformedSource is returned when a raw annotation source cannot be decoded at all.
	ErrMalformedSource = errors.New("malformed annotation source")
	// ErrMissingImageID is returned for a raw record without an image identifier.
	ErrMissingImageID = errors.New("missing image id")
	// ErrUnknownCategory is returned when a frozen vocabulary is asked for a name it does not hold.
	ErrUnknownCategory = errors.New("unknown category")
	// ErrUnassignedImage is returned when a split policy has no split for an image.
	ErrUnassignedImage = errors.New("unassigned image")
)

// UnknownCategoryError names the vocabulary and the category that could not be resolved.
type UnknownCategoryError struct {
	Kind string
	Name string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("%s: %s %q", ErrUnknownCategory, e.Kind, e.Name)
}

func (e *UnknownCategoryError) Unwrap() error {
	return ErrUnknownCategory
}
