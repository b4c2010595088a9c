package server

import "fmt"

// UnresolvedReferenceError is returned when a mirror or offset-chain row names a
// record that does not exist in the graph when the row is processed.
type UnresolvedReferenceError struct {
	Name     string // missing record
	Referrer string // record whose row referenced it
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("%s references %s, which does not exist within virtac", e.Referrer, e.Name)
}
