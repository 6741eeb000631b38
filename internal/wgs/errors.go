package wgs

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatViolation matches every *FormatViolation via errors.Is.
	ErrFormatViolation = errors.New("format violation")

	// ErrMissingResource matches every *MissingResource via errors.Is.
	ErrMissingResource = errors.New("missing resource")

	// ErrCloudFlagMismatch matches the violation raised when a container's
	// cloud id and flag disagree.
	ErrCloudFlagMismatch = errors.New("cloud id and flag disagree")
)

// FormatViolation reports a structural or constant mismatch in a container,
// manifest or save file: wrong magic, unknown version, a non-zero reserved
// field, a failed consistency rule or a size mismatch. Decoders return it at
// the first violated condition and never hand back a partial structure.
type FormatViolation struct {
	What string

	// Kind optionally narrows the violation for errors.Is.
	Kind error
}

func (e *FormatViolation) Error() string {
	return "unsupported format: " + e.What
}

func (e *FormatViolation) Is(target error) bool {
	return target == ErrFormatViolation || (e.Kind != nil && target == e.Kind)
}

// Violationf builds a *FormatViolation from a format string.
func Violationf(format string, args ...any) error {
	return &FormatViolation{What: fmt.Sprintf(format, args...)}
}

// MissingResource reports a referenced file that does not exist, such as a
// blob named by a manifest entry.
type MissingResource struct {
	Kind string
	Name string
}

func (e *MissingResource) Error() string {
	return fmt.Sprintf("%s does not exist: %s", e.Kind, e.Name)
}

func (e *MissingResource) Is(target error) bool {
	return target == ErrMissingResource
}
