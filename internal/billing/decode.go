package billing

import (
	"medibill/m/domain"
	"medibill/m/internal/store"
)

// Document bodies carry neither id nor creation time; those live in store
// columns and are stamped back onto the decoded value here.

func decodeClient(doc store.Document) (domain.Client, error) {
	var c domain.Client
	if err := doc.Decode(&c); err != nil {
		return domain.Client{}, err
	}
	c.ID = doc.ID
	c.CreatedAt = doc.CreatedAt
	return c, nil
}

func decodeDoctor(doc store.Document) (domain.Doctor, error) {
	var d domain.Doctor
	if err := doc.Decode(&d); err != nil {
		return domain.Doctor{}, err
	}
	d.ID = doc.ID
	d.CreatedAt = doc.CreatedAt
	return d, nil
}

func decodeManufacturer(doc store.Document) (domain.Manufacturer, error) {
	var m domain.Manufacturer
	if err := doc.Decode(&m); err != nil {
		return domain.Manufacturer{}, err
	}
	m.ID = doc.ID
	m.CreatedAt = doc.CreatedAt
	return m, nil
}

func decodeMedicine(doc store.Document) (domain.Medicine, error) {
	var m domain.Medicine
	if err := doc.Decode(&m); err != nil {
		return domain.Medicine{}, err
	}
	m.ID = doc.ID
	m.CreatedAt = doc.CreatedAt
	return m, nil
}

func decodeInvoice(doc store.Document) (domain.Invoice, error) {
	var inv domain.Invoice
	if err := doc.Decode(&inv); err != nil {
		return domain.Invoice{}, err
	}
	inv.ID = doc.ID
	inv.CreatedAt = doc.CreatedAt
	return inv, nil
}

// DecodeClients converts a collection snapshot into typed records.
func DecodeClients(docs []store.Document) ([]domain.Client, error) {
	out := make([]domain.Client, 0, len(docs))
	for _, doc := range docs {
		c, err := decodeClient(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeDoctors converts a collection snapshot into typed records.
func DecodeDoctors(docs []store.Document) ([]domain.Doctor, error) {
	out := make([]domain.Doctor, 0, len(docs))
	for _, doc := range docs {
		d, err := decodeDoctor(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DecodeManufacturers converts a collection snapshot into typed records.
func DecodeManufacturers(docs []store.Document) ([]domain.Manufacturer, error) {
	out := make([]domain.Manufacturer, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeManufacturer(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeMedicines converts a collection snapshot into typed records.
func DecodeMedicines(docs []store.Document) ([]domain.Medicine, error) {
	out := make([]domain.Medicine, 0, len(docs))
	for _, doc := range docs {
		m, err := decodeMedicine(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DecodeInvoices converts a collection snapshot into typed records.
func DecodeInvoices(docs []store.Document) ([]domain.Invoice, error) {
	out := make([]domain.Invoice, 0, len(docs))
	for _, doc := range docs {
		inv, err := decodeInvoice(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}
