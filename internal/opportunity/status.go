// Package opportunity ingests government contracting notices: CSV download,
// normalization, segment embedding, and persistence.
package opportunity

import (
	"time"

	"github.com/govmatch-ai/govmatch/internal/storage"
)

// DeriveStatus is the single source of truth for opportunity lifecycle state.
// An archive date at or before now archives the notice regardless of anything
// else; a passed response deadline expires it; otherwise the source feed's
// active flag is preserved.
func DeriveStatus(archiveDate, responseDeadline *time.Time, sourceActive bool, now time.Time) (bool, storage.OpportunityStatus) {
	now = now.UTC()

	if archiveDate != nil && !archiveDate.After(now) {
		return false, storage.OpportunityStatusArchived
	}
	if responseDeadline != nil && responseDeadline.Before(now) {
		return false, storage.OpportunityStatusExpired
	}
	return sourceActive, storage.OpportunityStatusActive
}

// ApplyStatus re-derives Active and Status on a record in place. Calling it
// on a stored record yields the same values it was stored with, given the
// same clock.
func ApplyStatus(opp *storage.Opportunity, now time.Time) {
	opp.Active, opp.Status = DeriveStatus(opp.ArchiveDate, opp.ResponseDeadline, opp.Active, now)
}
