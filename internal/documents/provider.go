// internal/documents/provider.go
package documents

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"funding-engine/internal/common/logger"
	"funding-engine/internal/models"
)

var ErrDocumentQueryFailed = errors.New("DOCUMENT_FETCH_FAILED")

// Provider returns a capped, newest-first list of documents for a company.
type Provider interface {
	ListForCompany(ctx context.Context, companyID string, limit int) ([]models.Document, error)
}

// PostgresProvider reads documents from the shared documents table.
type PostgresProvider struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresProvider(db *sql.DB, log logger.Logger) *PostgresProvider {
	return &PostgresProvider{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "document-provider"}),
	}
}

func (p *PostgresProvider) ListForCompany(ctx context.Context, companyID string, limit int) ([]models.Document, error) {
	if limit <= 0 {
		return []models.Document{}, nil
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, company_id, name, content_type, content, created_at
		FROM documents
		WHERE company_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list documents: %v", ErrDocumentQueryFailed, err)
	}
	defer rows.Close()

	docs := make([]models.Document, 0, limit)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.CompanyID, &d.Name, &d.ContentType, &d.Content, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan document: %v", ErrDocumentQueryFailed, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate documents: %v", ErrDocumentQueryFailed, err)
	}

	p.logger.Debug("documents loaded", map[string]interface{}{
		"companyId": companyID,
		"count":     len(docs),
	})
	return docs, nil
}
