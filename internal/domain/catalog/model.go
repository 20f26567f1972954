package catalog

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Vaccine maps to the vaccine table.
type Vaccine struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Name       string          `db:"name" json:"name"`
	TotalDoses int             `db:"total_doses" json:"total_doses"`
	Price      decimal.Decimal `db:"price" json:"price"`
}

// ComboItem is one vaccine inside a combo. DoseCount overrides the vaccine's
// standalone dose count for enrollments bought through the combo.
type ComboItem struct {
	VaccineID uuid.UUID `db:"vaccine_id" json:"vaccine_id"`
	DoseCount int       `db:"dose_count" json:"dose_count"`
}

// Combo maps to the vaccine_combo table with its items.
type Combo struct {
	ID    uuid.UUID       `db:"id" json:"id"`
	Name  string          `db:"name" json:"name"`
	Price decimal.Decimal `db:"price" json:"price"`
	Items []ComboItem     `json:"items"`
}
