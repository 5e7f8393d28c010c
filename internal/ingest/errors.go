package ingest

import (
	"fmt"
)

// VerificationError reports that a post-write sanity read found zero
// stored rows when rows were expected. It is surfaced distinctly from a
// chunk write failure so operators can tell "write rejected" apart from
// "write silently lost".
type VerificationError struct {
	UserID   string
	Expected int
}

// Error implements the error interface.
func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed: expected %d stored events for user %s, found none", e.Expected, e.UserID)
}
