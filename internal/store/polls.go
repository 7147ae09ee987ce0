// internal/store/polls.go
package store

import (
	"context"
	"fmt"
	"time"

	"funding-engine/internal/models"

	"github.com/lib/pq"
)

// ClaimDuePolls pushes next_poll_at of up to limit due, non-terminal rows to
// leaseUntil and returns their ids. SKIP LOCKED keeps concurrent sweepers from
// claiming the same row.
func (s *Store) ClaimDuePolls(ctx context.Context, now, leaseUntil time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		UPDATE lender_applications
		SET next_poll_at = $2
		WHERE id IN (
			SELECT id FROM lender_applications
			WHERE next_poll_at IS NOT NULL
			  AND next_poll_at <= $1
			  AND status <> ALL($3)
			ORDER BY next_poll_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`,
		now.UTC(), leaseUntil.UTC(), pq.Array(models.TerminalStatusStrings()), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: claim due polls: %v", ErrQueryFailed, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: scan due poll: %v", ErrQueryFailed, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate due polls: %v", ErrQueryFailed, err)
	}
	return ids, nil
}

// SetNextPoll sets next_poll_at on a non-terminal row; nil stops polling.
func (s *Store) SetNextPoll(ctx context.Context, lenderApplicationID string, next *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE lender_applications
		SET next_poll_at = $2
		WHERE id = $1 AND status <> ALL($3)`,
		lenderApplicationID, nullableTime(next), pq.Array(models.TerminalStatusStrings()))
	if err != nil {
		return fmt.Errorf("%w: set next poll: %v", ErrQueryFailed, err)
	}
	return nil
}
