package billing

import (
	"context"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"medibill/m/domain"
)

// expiryPattern is the MM/YY shape an expiry must have after normalization.
var expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)

var nonDigits = regexp.MustCompile(`\D`)

// NormalizeExpiry applies the MM/YY input mask: digits only, a slash after
// the first two, everything past four digits dropped.
func NormalizeExpiry(s string) string {
	digits := nonDigits.ReplaceAllString(s, "")
	if len(digits) > 4 {
		digits = digits[:4]
	}
	if len(digits) >= 2 {
		return digits[:2] + "/" + digits[2:]
	}
	return digits
}

// ComposeItem turns a selection into a validated invoice line. The medicine's
// current price and manufacturer name are snapshotted onto the item.
func (s *Service) ComposeItem(ctx context.Context, medicineID string, quantity int64, batchNo, expiry string) (domain.InvoiceItem, error) {
	if quantity < 1 {
		return domain.InvoiceItem{}, validationErrorf("quantity must be at least 1")
	}
	batchNo = strings.TrimSpace(batchNo)
	if batchNo == "" {
		return domain.InvoiceItem{}, validationErrorf("batch number is required")
	}
	expiry = NormalizeExpiry(expiry)
	if !expiryPattern.MatchString(expiry) {
		return domain.InvoiceItem{}, validationErrorf("expiry must be in MM/YY format")
	}

	med, err := s.getMedicine(ctx, medicineID)
	if err != nil {
		return domain.InvoiceItem{}, err
	}

	qty := decimal.NewFromInt(quantity)
	return domain.InvoiceItem{
		MedicineID:   med.ID,
		MedicineName: med.Name,
		Category:     med.Category,
		Manufacturer: med.ManufacturerName,
		BatchNo:      batchNo,
		Expiry:       expiry,
		Quantity:     quantity,
		Price:        med.Price,
		Total:        med.Price.Mul(qty).Round(2),
	}, nil
}

// Draft is the pending line-item list of an invoice under composition. It is
// plain client-side state; nothing is persisted until SubmitInvoice.
type Draft struct {
	items []domain.InvoiceItem
}

// Add appends an item to the draft.
func (d *Draft) Add(item domain.InvoiceItem) {
	d.items = append(d.items, item)
}

// Remove drops the item at index.
func (d *Draft) Remove(index int) error {
	if index < 0 || index >= len(d.items) {
		return validationErrorf("no pending item at index %d", index)
	}
	d.items = append(d.items[:index], d.items[index+1:]...)
	return nil
}

// Items returns a copy of the pending list.
func (d *Draft) Items() []domain.InvoiceItem {
	return append([]domain.InvoiceItem(nil), d.items...)
}

// Len reports the number of pending items.
func (d *Draft) Len() int {
	return len(d.items)
}

// RunningTotal sums the pending item totals for display before submission.
func (d *Draft) RunningTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range d.items {
		total = total.Add(item.Total)
	}
	return total
}
