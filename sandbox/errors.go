package sandbox

import (
	"errors"
	"fmt"
)

// ProvisionError reports that a sandbox could not be created.
type ProvisionError struct {
	Template string
	Err      error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision sandbox from %q: %v", e.Template, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// NotFoundError reports a missing sandbox or a missing file inside one.
type NotFoundError struct {
	Resource string // "sandbox" or "file"
	Name     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Name)
}

// Resource kinds of NotFoundError.
const (
	ResourceSandbox = "sandbox"
	ResourceFile    = "file"
)

// IsGone reports whether err means the sandbox itself no longer exists.
func IsGone(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Resource == ResourceSandbox
}

// IsFileNotFound reports whether err means a file path does not exist.
func IsFileNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf) && nf.Resource == ResourceFile
}

// IsLifecycle reports whether err is a sandbox lifecycle failure that a
// run cannot recover from in place.
func IsLifecycle(err error) bool {
	var pe *ProvisionError
	return errors.As(err, &pe) || IsGone(err)
}
