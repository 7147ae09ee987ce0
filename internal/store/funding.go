// internal/store/funding.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"funding-engine/internal/common/database"
	"funding-engine/internal/models"
)

// MarkFundingApplicationSubmitted flips the funding application to submitted
// unless it is already submitted or disbursed. It returns whether the write applied.
func (s *Store) MarkFundingApplicationSubmitted(ctx context.Context, fundingApplicationID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE funding_applications
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ($2, $3)`,
		fundingApplicationID, models.FundingStatusSubmitted, models.FundingStatusDisbursed)
	if err != nil {
		return false, fmt.Errorf("%w: mark funding application submitted: %v", ErrQueryFailed, err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		return true, nil
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM funding_applications WHERE id = $1)`,
		fundingApplicationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: funding application existence check: %v", ErrQueryFailed, err)
	}
	if !exists {
		return false, fmt.Errorf("%w: %s", ErrFundingApplicationNotFound, fundingApplicationID)
	}
	return false, nil
}

// RecordDisbursement moves the lender application to disbursed and, only when
// that guarded update applied, flips the funding application in the same
// transaction. Redelivery against a disbursed row writes nothing.
func (s *Store) RecordDisbursement(ctx context.Context, lenderReference string) (UpdateResult, bool, error) {
	var (
		result    UpdateResult
		disbursed bool
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		result, err = s.updateStatus(ctx, tx, lenderReference, models.StatusDisbursed, nil)
		if err != nil {
			return err
		}
		if result.Outcome != UpdateApplied {
			return nil
		}
		disbursed, err = markDisbursed(ctx, tx, result.FundingApplicationID)
		return err
	})
	if err != nil {
		return UpdateResult{}, false, err
	}

	if disbursed {
		s.logger.Info("funding application disbursed", map[string]interface{}{
			"fundingApplicationId": result.FundingApplicationID,
			"lenderApplicationId":  result.LenderApplicationID,
		})
	}
	return result, disbursed, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func markDisbursed(ctx context.Context, db execer, fundingApplicationID string) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE funding_applications
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status <> $2`,
		fundingApplicationID, models.FundingStatusDisbursed)
	if err != nil {
		return false, fmt.Errorf("%w: mark funding application disbursed: %v", ErrQueryFailed, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
