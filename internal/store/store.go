// internal/store/store.go
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrQueryFailed                = errors.New("QUERY_EXECUTION_FAILED")
	ErrInsertFailed               = errors.New("DATABASE_INSERT_FAILED")
	ErrNotFound                   = errors.New("LENDER_APPLICATION_NOT_FOUND")
	ErrFundingApplicationNotFound = errors.New("FUNDING_APPLICATION_NOT_FOUND")
)

// UpdateOutcome reports what a guarded status update did.
type UpdateOutcome int

const (
	UpdateApplied UpdateOutcome = iota
	UpdateSkippedTerminal
	UpdateNotFound
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateApplied:
		return "applied"
	case UpdateSkippedTerminal:
		return "skipped_terminal"
	case UpdateNotFound:
		return "not_found"
	}
	return "unknown"
}

// StatusUpdate carries optional column changes applied with a status change.
type StatusUpdate struct {
	ErrorDetails *models.ErrorDetails
	NextPollAt   *time.Time
	ClearError   bool
}

// UpdateResult identifies the row an update touched.
type UpdateResult struct {
	Outcome              UpdateOutcome
	LenderApplicationID  string
	FundingApplicationID string
}

// CreateParams describes a new lender application row.
type CreateParams struct {
	FundingApplicationID string
	LenderID             string
	LenderType           models.LenderType
	LenderReference      string
	Status               models.LenderApplicationStatus
	NextPollAt           *time.Time
	ErrorDetails         *models.ErrorDetails
}

// Store persists lender applications, offers and the funding application
// status fields the engine owns. Every write is a single guarded statement.
type Store struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "lender-application-store"}),
	}
}

const selectLenderApplication = `
	SELECT la.id, la.funding_application_id, la.lender_id, l.type,
	       COALESCE(la.lender_reference, ''), la.status, la.next_poll_at,
	       la.error_details, la.created_at, la.updated_at
	FROM lender_applications la
	JOIN lenders l ON l.id = la.lender_id`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// queryRower is satisfied by *sql.DB and *sql.Tx.
type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func scanLenderApplication(row rowScanner) (*models.LenderApplication, error) {
	var (
		la         models.LenderApplication
		lenderType string
		status     string
		nextPoll   sql.NullTime
		errDetails []byte
	)

	if err := row.Scan(
		&la.ID, &la.FundingApplicationID, &la.LenderID, &lenderType,
		&la.LenderReference, &status, &nextPoll,
		&errDetails, &la.CreatedAt, &la.UpdatedAt,
	); err != nil {
		return nil, err
	}

	la.LenderType = models.LenderType(lenderType)
	la.Status = models.LenderApplicationStatus(status)
	if nextPoll.Valid {
		t := nextPoll.Time
		la.NextPollAt = &t
	}
	if len(errDetails) > 0 {
		var details models.ErrorDetails
		if err := json.Unmarshal(errDetails, &details); err == nil {
			la.ErrorDetails = &details
		}
	}
	return &la, nil
}

func marshalErrorDetails(details *models.ErrorDetails) (interface{}, error) {
	if details == nil {
		return nil, nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}
	// lib/pq sends []byte as bytea, jsonb needs text
	return string(raw), nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// FindExisting returns the most recent lender application for the pair, or nil.
func (s *Store) FindExisting(ctx context.Context, fundingApplicationID, lenderID string) (*models.LenderApplication, error) {
	row := s.db.QueryRowContext(ctx, selectLenderApplication+`
		WHERE la.funding_application_id = $1 AND la.lender_id = $2
		ORDER BY la.created_at DESC
		LIMIT 1`, fundingApplicationID, lenderID)

	la, err := scanLenderApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: find existing lender application: %v", ErrQueryFailed, err)
	}
	return la, nil
}

// Create inserts a new lender application row.
func (s *Store) Create(ctx context.Context, p CreateParams) (*models.LenderApplication, error) {
	if p.Status == "" {
		p.Status = models.StatusPending
	}

	errDetails, err := marshalErrorDetails(p.ErrorDetails)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal error details: %v", ErrInsertFailed, err)
	}

	la := &models.LenderApplication{
		ID:                   uuid.New().String(),
		FundingApplicationID: p.FundingApplicationID,
		LenderID:             p.LenderID,
		LenderType:           p.LenderType,
		LenderReference:      p.LenderReference,
		Status:               p.Status,
		NextPollAt:           p.NextPollAt,
		ErrorDetails:         p.ErrorDetails,
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO lender_applications (
			id, funding_application_id, lender_id, lender_reference,
			status, next_poll_at, error_details, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING created_at, updated_at`,
		la.ID,
		la.FundingApplicationID,
		la.LenderID,
		nullableString(la.LenderReference),
		string(la.Status),
		nullableTime(la.NextPollAt),
		errDetails,
	).Scan(&la.CreatedAt, &la.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: insert lender application: %v", ErrInsertFailed, err)
	}

	s.logger.Info("lender application created", map[string]interface{}{
		"lenderApplicationId":  la.ID,
		"fundingApplicationId": la.FundingApplicationID,
		"lenderId":             la.LenderID,
		"status":               la.Status,
	})
	return la, nil
}

// MarkResubmitted moves a pending row to submitted with the reference from a
// successful resubmission. It returns false when the row is no longer pending.
func (s *Store) MarkResubmitted(ctx context.Context, id, lenderReference string, nextPollAt *time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE lender_applications
		SET lender_reference = $2, status = $3, next_poll_at = $4,
		    error_details = NULL, updated_at = now()
		WHERE id = $1 AND status = $5`,
		id, lenderReference, string(models.StatusSubmitted), nullableTime(nextPollAt), string(models.StatusPending))
	if err != nil {
		return false, fmt.Errorf("%w: mark resubmitted: %v", ErrQueryFailed, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// RecordFailedAttempt stores the error from a failed submission on a pending row.
func (s *Store) RecordFailedAttempt(ctx context.Context, id string, details *models.ErrorDetails) error {
	errDetails, err := marshalErrorDetails(details)
	if err != nil {
		return fmt.Errorf("%w: marshal error details: %v", ErrQueryFailed, err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE lender_applications
		SET error_details = $2, updated_at = now()
		WHERE id = $1 AND status = $3`,
		id, errDetails, string(models.StatusPending))
	if err != nil {
		return fmt.Errorf("%w: record failed attempt: %v", ErrQueryFailed, err)
	}
	return nil
}

// UpdateStatus applies a status change keyed by lender reference. Terminal rows
// are never overwritten and terminal targets clear next_poll_at. An unknown
// reference is logged and reported as UpdateNotFound, not as an error.
func (s *Store) UpdateStatus(ctx context.Context, lenderReference string, status models.LenderApplicationStatus, extra *StatusUpdate) (UpdateResult, error) {
	return s.updateStatus(ctx, s.db, lenderReference, status, extra)
}

func (s *Store) updateStatus(ctx context.Context, q queryRower, lenderReference string, status models.LenderApplicationStatus, extra *StatusUpdate) (UpdateResult, error) {
	if extra == nil {
		extra = &StatusUpdate{}
	}

	errDetails, err := marshalErrorDetails(extra.ErrorDetails)
	if err != nil {
		return UpdateResult{}, fmt.Errorf("%w: marshal error details: %v", ErrQueryFailed, err)
	}

	var (
		laID string
		faID string
	)
	err = q.QueryRowContext(ctx, `
		UPDATE lender_applications
		SET status = $2,
		    next_poll_at = CASE WHEN $3 THEN NULL ELSE COALESCE($4, next_poll_at) END,
		    error_details = CASE WHEN $5 THEN NULL ELSE COALESCE($6, error_details) END,
		    updated_at = now()
		WHERE lender_reference = $1 AND status <> ALL($7)
		RETURNING id, funding_application_id`,
		lenderReference,
		string(status),
		status.IsTerminal(),
		nullableTime(extra.NextPollAt),
		extra.ClearError,
		errDetails,
		pq.Array(models.TerminalStatusStrings()),
	).Scan(&laID, &faID)

	if err == nil {
		return UpdateResult{Outcome: UpdateApplied, LenderApplicationID: laID, FundingApplicationID: faID}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return UpdateResult{}, fmt.Errorf("%w: update status: %v", ErrQueryFailed, err)
	}

	var current string
	err = q.QueryRowContext(ctx, `
		SELECT id, funding_application_id, status FROM lender_applications WHERE lender_reference = $1`,
		lenderReference,
	).Scan(&laID, &faID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("status update for unknown lender reference", map[string]interface{}{
			"lenderReference": lenderReference,
			"status":          status,
		})
		return UpdateResult{Outcome: UpdateNotFound}, nil
	}
	if err != nil {
		return UpdateResult{}, fmt.Errorf("%w: lookup after guarded update: %v", ErrQueryFailed, err)
	}

	s.logger.Info("status update skipped for terminal lender application", map[string]interface{}{
		"lenderApplicationId": laID,
		"currentStatus":       current,
		"requestedStatus":     status,
	})
	return UpdateResult{Outcome: UpdateSkippedTerminal, LenderApplicationID: laID, FundingApplicationID: faID}, nil
}

// GetByReference loads a lender application by lender reference.
func (s *Store) GetByReference(ctx context.Context, lenderReference string) (*models.LenderApplication, error) {
	row := s.db.QueryRowContext(ctx, selectLenderApplication+`
		WHERE la.lender_reference = $1`, lenderReference)

	la, err := scanLenderApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: reference %s", ErrNotFound, lenderReference)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get by reference: %v", ErrQueryFailed, err)
	}
	return la, nil
}

// GetByID loads a lender application by id.
func (s *Store) GetByID(ctx context.Context, id string) (*models.LenderApplication, error) {
	row := s.db.QueryRowContext(ctx, selectLenderApplication+`
		WHERE la.id = $1`, id)

	la, err := scanLenderApplication(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get by id: %v", ErrQueryFailed, err)
	}
	return la, nil
}
