package mutation

import (
	"context"
	"errors"

	"releasegrid/api/internal/store"
)

// checkLock is the optimistic-concurrency precondition. A nil expected
// value proceeds unconditionally (trusted automation); a mismatch aborts
// before any write.
func checkLock(issue store.Issue, expected *int) error {
	if expected == nil {
		return nil
	}
	if *expected != issue.LockVersion {
		return &ConflictError{
			ResourceID:       issue.ID,
			CurrentVersion:   issue.LockVersion,
			AttemptedVersion: *expected,
		}
	}
	return nil
}

// asConflict converts a stale conditional write into a ConflictError
// carrying the authoritative current lock value. The row race window is
// between our read and the conditional UPDATE; exactly one writer wins.
func (e *Engine) asConflict(ctx context.Context, err error, issueID int64, attempted int) error {
	if !errors.Is(err, store.ErrStaleRow) {
		return err
	}
	current, readErr := e.store.GetIssue(ctx, issueID)
	if readErr != nil {
		// Row vanished under us: deleted concurrently.
		return readErr
	}
	return &ConflictError{
		ResourceID:       issueID,
		CurrentVersion:   current.LockVersion,
		AttemptedVersion: attempted,
	}
}
