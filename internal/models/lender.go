// internal/models/lender.go
package models

// LenderType selects the client implementation for a lender.
type LenderType string

const (
	LenderTypeDirectLine   LenderType = "direct-line"
	LenderTypeStagedCredit LenderType = "staged-credit"
	LenderTypeSandbox      LenderType = "sandbox"
)

// KnownLenderTypes lists every type with a client implementation.
var KnownLenderTypes = []LenderType{
	LenderTypeDirectLine,
	LenderTypeStagedCredit,
	LenderTypeSandbox,
}

func (t LenderType) Valid() bool {
	for _, known := range KnownLenderTypes {
		if t == known {
			return true
		}
	}
	return false
}

type Lender struct {
	ID                string     `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Type              LenderType `json:"type" db:"type"`
	IsActive          bool       `json:"isActive" db:"is_active"`
	FundingCategories []string   `json:"fundingCategories" db:"funding_categories"`
	Priority          int        `json:"priority" db:"priority"`
}

// Supports reports whether the lender is active and accepts fundingType.
func (l Lender) Supports(fundingType string) bool {
	if !l.IsActive {
		return false
	}
	for _, category := range l.FundingCategories {
		if category == fundingType {
			return true
		}
	}
	return false
}
