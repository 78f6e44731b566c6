// Package ids centralizes fresh identifier generation so call sites never
// import google/uuid directly.
package ids

import "github.com/google/uuid"

// New returns a fresh 128-bit random identifier rendered as its canonical
// string form.
func New() string {
	return uuid.New().String()
}
