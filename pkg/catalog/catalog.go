// pkg/catalog/catalog.go
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"funding-engine/internal/models"

	"github.com/lib/pq"
)

func Load(path string) (*LenderCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c LenderCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// LoadOrNew returns an empty catalog when path does not exist yet.
func LoadOrNew(path string) (*LenderCatalog, error) {
	c, err := Load(path)
	if os.IsNotExist(err) {
		return &LenderCatalog{Version: "1.0.0", Lenders: []Entry{}}, nil
	}
	return c, err
}

func (c *LenderCatalog) Save(path string) error {
	c.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}
	return nil
}

func (c *LenderCatalog) Find(id string) (*Entry, bool) {
	for i := range c.Lenders {
		if c.Lenders[i].ID == id {
			return &c.Lenders[i], true
		}
	}
	return nil, false
}

// Add appends e after validating it against the rest of the catalog.
func (c *LenderCatalog) Add(e Entry) error {
	if _, exists := c.Find(e.ID); exists {
		return fmt.Errorf("lender with ID %s already exists", e.ID)
	}
	if err := validateEntry(e); err != nil {
		return err
	}
	c.Lenders = append(c.Lenders, e)
	return nil
}

// SetActive toggles a lender on or off.
func (c *LenderCatalog) SetActive(id string, active bool) error {
	e, ok := c.Find(id)
	if !ok {
		return fmt.Errorf("lender with ID %s not found", id)
	}
	e.IsActive = active
	return nil
}

// Validate checks every entry and rejects duplicate ids.
func (c *LenderCatalog) Validate() error {
	if len(c.Lenders) == 0 {
		return fmt.Errorf("catalog contains no lenders")
	}
	ids := make(map[string]bool, len(c.Lenders))
	for _, e := range c.Lenders {
		if ids[e.ID] {
			return fmt.Errorf("duplicate lender ID: %s", e.ID)
		}
		ids[e.ID] = true
		if err := validateEntry(e); err != nil {
			return err
		}
	}
	return nil
}

func validateEntry(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("lender missing required field: id")
	}
	if e.Name == "" {
		return fmt.Errorf("lender %s missing required field: name", e.ID)
	}
	if !models.LenderType(e.Type).Valid() {
		return fmt.Errorf("lender %s has unsupported type %q", e.ID, e.Type)
	}
	if len(e.FundingCategories) == 0 {
		return fmt.Errorf("lender %s has no funding categories", e.ID)
	}
	return nil
}

// FundingTypes lists every category in the catalog, sorted.
func (c *LenderCatalog) FundingTypes() []string {
	seen := map[string]bool{}
	for _, e := range c.Lenders {
		for _, ft := range e.FundingCategories {
			seen[ft] = true
		}
	}
	out := make([]string, 0, len(seen))
	for ft := range seen {
		out = append(out, ft)
	}
	sort.Strings(out)
	return out
}

// Seed upserts every catalog entry into the lenders table in one transaction.
func Seed(ctx context.Context, db *sql.DB, c *LenderCatalog) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, e := range c.Lenders {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lenders (id, name, type, is_active, funding_categories, priority)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				type = EXCLUDED.type,
				is_active = EXCLUDED.is_active,
				funding_categories = EXCLUDED.funding_categories,
				priority = EXCLUDED.priority,
				updated_at = now()`,
			e.ID, e.Name, e.Type, e.IsActive, pq.Array(e.FundingCategories), e.Priority)
		if err != nil {
			return 0, fmt.Errorf("seed lender %s: %w", e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit seed: %w", err)
	}
	return len(c.Lenders), nil
}
