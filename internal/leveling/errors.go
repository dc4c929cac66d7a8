package leveling

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoOutliersFound is returned by BuildClarification when the snapshot has
// no qualifying outlier groups. No request is produced in that case.
var ErrNoOutliersFound = eris.New("leveling: no outliers found")

// ValidationError rejects a single raw line item. The run continues with the
// remaining items and the rejection is counted in the snapshot summary.
type ValidationError struct {
	SubmissionID string
	LineNumber   int
	Reason       string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("leveling: invalid line item %s#%d: %s", e.SubmissionID, e.LineNumber, e.Reason)
}

// InsufficientDataError marks a group with fewer than two base entries.
// It is informational: outlier detection is skipped for the group.
type InsufficientDataError struct {
	GroupKey  string
	BaseCount int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("leveling: group %q has %d base entries, need 2 for outlier detection", e.GroupKey, e.BaseCount)
}
