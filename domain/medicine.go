package domain

import "github.com/shopspring/decimal"

// MedicineCategories is the fixed set of dosage-form codes a medicine may carry.
var MedicineCategories = []string{
	"TAB", "SYP", "OINT", "CAP", "SUPPO", "INJ", "VAIL", "AMP", "POWD", "GEL",
	"SPRAY", "LOTION", "LIQ", "DRP", "CREAM", "OIL", "FACEWASH", "RESP",
	"ROTACAP", "SYRINGE", "SOAP", "BOLUS",
}

// IsValidCategory reports whether code is a known dosage-form code.
func IsValidCategory(code string) bool {
	for _, c := range MedicineCategories {
		if c == code {
			return true
		}
	}
	return false
}

// Medicine is a sellable catalog item. ManufacturerName is denormalized from
// the referenced manufacturer and refreshed on every write.
type Medicine struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	ManufacturerID   string          `json:"manufacturerId"`
	ManufacturerName string          `json:"manufacturerName,omitempty"`
	Price            decimal.Decimal `json:"price"`
	BatchNo          string          `json:"batchNo"`
	Expiry           string          `json:"expiry"` // MM/YY
	Stock            int64           `json:"stock"`
	CreatedAt        int64           `json:"createdAt"`
}

// InsertMedicine is the payload accepted when creating or updating a medicine.
// Price positivity and stock bounds are checked by the billing service since
// decimal fields are outside validator's numeric tag support.
type InsertMedicine struct {
	Name           string          `json:"name" validate:"required"`
	Category       string          `json:"category" validate:"required,dosageform"`
	ManufacturerID string          `json:"manufacturerId" validate:"required"`
	Price          decimal.Decimal `json:"price"`
	BatchNo        string          `json:"batchNo" validate:"required"`
	Expiry         string          `json:"expiry" validate:"required,expiry"`
	Stock          int64           `json:"stock"`
}
