// internal/store/offers.go
package store

import (
	"context"
	"database/sql"
	"fmt"

	"funding-engine/internal/common/database"
	"funding-engine/internal/models"

	"github.com/google/uuid"
)

// HasOffers reports whether any offer exists for the lender application.
func (s *Store) HasOffers(ctx context.Context, lenderApplicationID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM offers WHERE lender_application_id = $1
		)`, lenderApplicationID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: offer existence check: %v", ErrQueryFailed, err)
	}
	return exists, nil
}

// InsertOffers stores offers in one transaction, skipping any whose external
// reference is already stored for the lender application. It returns the
// number of rows actually inserted.
func (s *Store) InsertOffers(ctx context.Context, lenderApplicationID string, offers []models.Offer) (int, error) {
	if len(offers) == 0 {
		return 0, nil
	}

	inserted := 0
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, offer := range offers {
			status := offer.Status
			if status == "" {
				status = models.OfferStatusAvailable
			}

			res, err := tx.ExecContext(ctx, `
				INSERT INTO offers (
					id, lender_application_id, external_reference, product,
					term_months, amount, fee, status, created_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
				ON CONFLICT (lender_application_id, external_reference) DO NOTHING`,
				uuid.New().String(),
				lenderApplicationID,
				offer.ExternalReference,
				offer.Product,
				offer.TermMonths,
				offer.Amount.StringFixed(2),
				offer.Fee.StringFixed(2),
				status,
			)
			if err != nil {
				return fmt.Errorf("insert offer %s: %v", offer.ExternalReference, err)
			}
			if n, err := res.RowsAffected(); err == nil {
				inserted += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	s.logger.Info("offers stored", map[string]interface{}{
		"lenderApplicationId": lenderApplicationID,
		"received":            len(offers),
		"inserted":            inserted,
	})
	return inserted, nil
}

// RecordDocumentUpload upserts the upload state of one document for a lender application.
func (s *Store) RecordDocumentUpload(ctx context.Context, lenderApplicationID, documentID, status, externalReference, uploadErr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lender_application_documents (
			lender_application_id, document_id, upload_status, external_reference, error, updated_at
		) VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (lender_application_id, document_id) DO UPDATE
		SET upload_status = EXCLUDED.upload_status,
		    external_reference = EXCLUDED.external_reference,
		    error = EXCLUDED.error,
		    updated_at = now()`,
		lenderApplicationID, documentID, status, nullableString(externalReference), nullableString(uploadErr))
	if err != nil {
		return fmt.Errorf("%w: record document upload: %v", ErrQueryFailed, err)
	}
	return nil
}
