package domain

import "github.com/shopspring/decimal"

// InvoiceItem is one priced line on an invoice. Name, category, manufacturer
// and price are frozen snapshots of the medicine at composition time.
type InvoiceItem struct {
	MedicineID   string          `json:"medicineId"`
	MedicineName string          `json:"medicineName"`
	Category     string          `json:"category"`
	Manufacturer string          `json:"manufacturer"`
	BatchNo      string          `json:"batchNo"`
	Expiry       string          `json:"expiry"` // MM/YY
	Quantity     int64           `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	Total        decimal.Decimal `json:"total"`
}

// Invoice is an immutable billing record. Client and doctor fields are
// snapshots taken when the invoice was created; later catalog edits do not
// reach back into it.
type Invoice struct {
	ID                   string          `json:"id"`
	InvoiceNumber        string          `json:"invoiceNumber"`
	Date                 int64           `json:"date"`
	ClientID             string          `json:"clientId"`
	ClientName           string          `json:"clientName,omitempty"`
	ClientContact        string          `json:"clientContact,omitempty"`
	ClientAddress        string          `json:"clientAddress,omitempty"`
	ClientMobile         string          `json:"clientMobile,omitempty"`
	DoctorID             string          `json:"doctorId"`
	DoctorName           string          `json:"doctorName,omitempty"`
	DoctorSpecialization string          `json:"doctorSpecialization,omitempty"`
	Items                []InvoiceItem   `json:"items"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Total                decimal.Decimal `json:"total"`
	CreatedAt            int64           `json:"createdAt"`
}

// InsertInvoice is the submission payload for a new invoice. Date is an
// optional Unix-millisecond timestamp; zero means "use the transaction time".
type InsertInvoice struct {
	ClientID string        `json:"clientId" validate:"required"`
	DoctorID string        `json:"doctorId" validate:"required"`
	Date     int64         `json:"date"`
	Items    []InvoiceItem `json:"items" validate:"required,min=1"`
}
