// pkg/catalog/schema.go
package catalog

// LenderCatalog is the checked-in list of lenders seeded into postgres.
type LenderCatalog struct {
	Version     string  `json:"version"`
	LastUpdated string  `json:"lastUpdated"`
	Lenders     []Entry `json:"lenders"`
}

type Entry struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Type              string   `json:"type"`
	IsActive          bool     `json:"isActive"`
	FundingCategories []string `json:"fundingCategories"`
	Priority          int      `json:"priority"`
}
