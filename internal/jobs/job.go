// Package jobs tracks the status of background ingestion runs.
//
// Job records live in a swappable keyed store, created when ingestion
// starts, mutated only by the pipeline stage currently executing, polled
// by the status endpoint and pruned after a retention window on each
// creation call. When a record has been lost (for example after a process
// restart) the tracker reconstructs a best-effort status from the
// creation time embedded in the job id and a durable completion marker.
package jobs

import (
	"errors"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is an upload job lifecycle state.
type Status string

// Job states, in forward order. No state is skipped and no backward
// transition occurs; failed is reachable from any non-terminal state.
const (
	StatusPending    Status = "pending"
	StatusExtracting Status = "extracting"
	StatusProcessing Status = "processing"
	StatusStoring    Status = "storing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// stageRank orders the non-failed states for transition checks.
var stageRank = map[Status]int{
	StatusPending:    0,
	StatusExtracting: 1,
	StatusProcessing: 2,
	StatusStoring:    3,
	StatusCompleted:  4,
}

// Terminal reports whether s is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Result is the success payload set on entry to the completed state.
type Result struct {
	ImportedCount  int       `json:"importedCount"`
	SkippedCount   int       `json:"skippedCount"`
	DateRangeStart time.Time `json:"dateRangeStart"`
	DateRangeEnd   time.Time `json:"dateRangeEnd"`
}

// Job is one ingestion run's status record.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Status    Status    `json:"status"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Reconstructed marks a best-effort status derived from the job id
	// after the tracker entry was lost.
	Reconstructed bool `json:"reconstructed,omitempty"`
}

// ErrMalformedID is returned for job ids that do not carry an embedded
// creation time.
var ErrMalformedID = errors.New("malformed job id")

// NewID derives a job id from the owning user and the creation time:
// <user-hash>.<unix-ms>.<suffix>. The embedded time lets the tracker
// estimate a lost job's age; the uuid suffix disambiguates jobs created
// within the same millisecond.
func NewID(userID string, createdAt time.Time) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s.%d.%s", userHash(userID), createdAt.UnixMilli(), suffix)
}

// ParseID extracts the user hash and creation time embedded in a job id.
func ParseID(id string) (hash string, createdAt time.Time, err error) {
	parts := strings.Split(id, ".")
	if len(parts) != 3 || parts[0] == "" {
		return "", time.Time{}, ErrMalformedID
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || ms <= 0 {
		return "", time.Time{}, ErrMalformedID
	}
	return parts[0], time.UnixMilli(ms), nil
}

// userHash is a short opaque digest of the user id, safe to expose in
// job ids.
func userHash(userID string) string {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return fmt.Sprintf("%08x", h.Sum32())
}
