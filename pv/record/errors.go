package record

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by lookups of names the server does not host.
var ErrNotFound = errors.New("record not found")

// DuplicateNameError is returned when a record name is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("record %q already exists", e.Name)
}
