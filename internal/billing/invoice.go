package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/store"
)

const invoiceNumberPrefix = "BAF-"

// FormatInvoiceNumber renders an allocated sequence number. The width is a
// minimum: number 1000000 renders as BAF-1000000, not truncated.
func FormatInvoiceNumber(n int64) string {
	return fmt.Sprintf("%s%06d", invoiceNumberPrefix, n)
}

func counterRef() store.Ref {
	return store.Ref{Collection: colCounters, ID: invoiceCounterID}
}

// SubmitInvoice allocates the next invoice number and persists the invoice in
// one atomic transaction against the counter document. Reference integrity is
// checked before the transaction begins, so a bad client or doctor id leaves
// the counter untouched.
func (s *Service) SubmitInvoice(ctx context.Context, in domain.InsertInvoice) (domain.Invoice, error) {
	if err := s.check(in); err != nil {
		return domain.Invoice{}, err
	}
	for i, item := range in.Items {
		if item.MedicineID == "" {
			return domain.Invoice{}, validationErrorf("item %d is missing its medicine reference", i)
		}
		if item.Quantity < 1 {
			return domain.Invoice{}, validationErrorf("item %d quantity must be at least 1", i)
		}
		if item.Price.IsNegative() {
			return domain.Invoice{}, validationErrorf("item %d price must not be negative", i)
		}
	}

	client, err := s.getClient(ctx, in.ClientID)
	if err != nil {
		return domain.Invoice{}, err
	}
	doctor, err := s.getDoctor(ctx, in.DoctorID)
	if err != nil {
		return domain.Invoice{}, err
	}

	var invoice domain.Invoice
	err = s.store.RunTransaction(ctx, func(tx *store.Tx) error {
		next := int64(1)
		counterDoc, err := tx.Get(counterRef())
		switch {
		case err == nil:
			var counter domain.Counter
			if err := counterDoc.Decode(&counter); err != nil {
				return err
			}
			next = counter.LastNumber + 1
		case errors.Is(err, store.ErrNotFound):
			// first invoice ever, counter is created below
		default:
			return err
		}
		if err := tx.Set(counterRef(), domain.Counter{LastNumber: next}); err != nil {
			return err
		}

		now := tx.Now().UnixMilli()
		date := in.Date
		if date <= 0 {
			date = now
		}

		// Totals are recomputed here rather than trusted from the
		// composer; a stale running total must not reach storage.
		items := make([]domain.InvoiceItem, len(in.Items))
		subtotal := decimal.Zero
		for i, item := range in.Items {
			item.Total = item.Price.Mul(decimal.NewFromInt(item.Quantity)).Round(2)
			items[i] = item
			subtotal = subtotal.Add(item.Total)
		}

		invoice = domain.Invoice{
			ID:                   store.NewID(),
			InvoiceNumber:        FormatInvoiceNumber(next),
			Date:                 date,
			ClientID:             client.ID,
			ClientName:           client.PatientName,
			ClientContact:        client.Contact,
			ClientAddress:        client.Address,
			ClientMobile:         client.MobileNo,
			DoctorID:             doctor.ID,
			DoctorName:           doctor.Name,
			DoctorSpecialization: doctor.Specialization,
			Items:                items,
			Subtotal:             subtotal,
			Total:                subtotal,
			CreatedAt:            now,
		}
		return tx.Set(store.Ref{Collection: ColInvoices, ID: invoice.ID}, invoice)
	})
	if err != nil {
		return domain.Invoice{}, s.storeErr(err)
	}

	s.log.WithFields(logrus.Fields{
		"invoice": invoice.InvoiceNumber,
		"client":  invoice.ClientID,
		"total":   invoice.Total.String(),
	}).Info("invoice created")
	return invoice, nil
}

// GetInvoice fetches one invoice.
func (s *Service) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	doc, err := s.store.Get(ctx, ColInvoices, id)
	if err != nil {
		return domain.Invoice{}, s.storeErr(err)
	}
	return decodeInvoice(doc)
}

// ListInvoices returns all invoices, newest first.
func (s *Service) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	docs, err := s.store.List(ctx, ColInvoices)
	if err != nil {
		return nil, err
	}
	return DecodeInvoices(docs)
}

// DeleteInvoice removes an invoice record.
func (s *Service) DeleteInvoice(ctx context.Context, id string) error {
	return s.storeErr(s.store.Delete(ctx, ColInvoices, id))
}

// ResetInvoiceCounter overwrites the counter so the next invoice is numbered
// BAF-000001 again. Destructive and irreversible; the HTTP layer restricts it
// to administrators.
func (s *Service) ResetInvoiceCounter(ctx context.Context) error {
	err := s.store.RunTransaction(ctx, func(tx *store.Tx) error {
		return tx.Set(counterRef(), domain.Counter{LastNumber: 0})
	})
	if err != nil {
		return s.storeErr(err)
	}
	s.log.Warn("invoice counter reset to zero")
	return nil
}
