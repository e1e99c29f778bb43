// Package billing implements the invoicing core: catalog maintenance with
// denormalized manufacturer names, line-item composition, and the sequential
// invoice numbering allocator.
package billing

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/store"
)

// Collection names in the document store.
const (
	ColClients       = "clients"
	ColDoctors       = "doctors"
	ColMedicines     = "medicines"
	ColManufacturers = "manufacturers"
	ColInvoices      = "invoices"

	colCounters      = "counters"
	invoiceCounterID = "invoices"
)

// Service exposes the billing operations to the HTTP layer.
type Service struct {
	store    *store.Store
	validate *validator.Validate
	log      *logrus.Logger
}

// NewService constructs a Service over the document store.
func NewService(st *store.Store, log *logrus.Logger) *Service {
	v := validator.New()
	_ = v.RegisterValidation("dosageform", func(fl validator.FieldLevel) bool {
		return domain.IsValidCategory(fl.Field().String())
	})
	_ = v.RegisterValidation("expiry", func(fl validator.FieldLevel) bool {
		return expiryPattern.MatchString(fl.Field().String())
	})
	return &Service{store: st, validate: v, log: log}
}

func (s *Service) check(in any) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return validationErrorf("field %s failed %q validation", fe.Field(), fe.Tag())
	}
	return &ValidationError{Msg: err.Error()}
}

// toPartial flattens an insert payload into the merge map a document update
// expects.
func toPartial(in any) (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	partial := make(map[string]any)
	if err := json.Unmarshal(raw, &partial); err != nil {
		return nil, err
	}
	return partial, nil
}

// Clients

// AddClient validates and stores a new client.
func (s *Service) AddClient(ctx context.Context, in domain.InsertClient) (domain.Client, error) {
	if err := s.check(in); err != nil {
		return domain.Client{}, err
	}
	doc, err := s.store.Create(ctx, ColClients, in)
	if err != nil {
		return domain.Client{}, s.storeErr(err)
	}
	return decodeClient(doc)
}

// UpdateClient replaces the editable fields of an existing client.
func (s *Service) UpdateClient(ctx context.Context, id string, in domain.InsertClient) error {
	if err := s.check(in); err != nil {
		return err
	}
	partial, err := toPartial(in)
	if err != nil {
		return err
	}
	return s.storeErr(s.store.Update(ctx, ColClients, id, partial))
}

// DeleteClient removes a client record.
func (s *Service) DeleteClient(ctx context.Context, id string) error {
	return s.storeErr(s.store.Delete(ctx, ColClients, id))
}

// ListClients returns all clients, newest first.
func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	docs, err := s.store.List(ctx, ColClients)
	if err != nil {
		return nil, err
	}
	return DecodeClients(docs)
}

// Doctors

// AddDoctor validates and stores a new doctor.
func (s *Service) AddDoctor(ctx context.Context, in domain.InsertDoctor) (domain.Doctor, error) {
	if err := s.check(in); err != nil {
		return domain.Doctor{}, err
	}
	doc, err := s.store.Create(ctx, ColDoctors, in)
	if err != nil {
		return domain.Doctor{}, s.storeErr(err)
	}
	return decodeDoctor(doc)
}

// UpdateDoctor replaces the editable fields of an existing doctor.
func (s *Service) UpdateDoctor(ctx context.Context, id string, in domain.InsertDoctor) error {
	if err := s.check(in); err != nil {
		return err
	}
	partial, err := toPartial(in)
	if err != nil {
		return err
	}
	return s.storeErr(s.store.Update(ctx, ColDoctors, id, partial))
}

// DeleteDoctor removes a doctor record.
func (s *Service) DeleteDoctor(ctx context.Context, id string) error {
	return s.storeErr(s.store.Delete(ctx, ColDoctors, id))
}

// ListDoctors returns all doctors, newest first.
func (s *Service) ListDoctors(ctx context.Context) ([]domain.Doctor, error) {
	docs, err := s.store.List(ctx, ColDoctors)
	if err != nil {
		return nil, err
	}
	return DecodeDoctors(docs)
}

// Manufacturers

// AddManufacturer validates and stores a new manufacturer.
func (s *Service) AddManufacturer(ctx context.Context, in domain.InsertManufacturer) (domain.Manufacturer, error) {
	if err := s.check(in); err != nil {
		return domain.Manufacturer{}, err
	}
	doc, err := s.store.Create(ctx, ColManufacturers, in)
	if err != nil {
		return domain.Manufacturer{}, s.storeErr(err)
	}
	return decodeManufacturer(doc)
}

// UpdateManufacturer replaces the name of an existing manufacturer.
func (s *Service) UpdateManufacturer(ctx context.Context, id string, in domain.InsertManufacturer) error {
	if err := s.check(in); err != nil {
		return err
	}
	partial, err := toPartial(in)
	if err != nil {
		return err
	}
	return s.storeErr(s.store.Update(ctx, ColManufacturers, id, partial))
}

// DeleteManufacturer removes a manufacturer record.
func (s *Service) DeleteManufacturer(ctx context.Context, id string) error {
	return s.storeErr(s.store.Delete(ctx, ColManufacturers, id))
}

// ListManufacturers returns all manufacturers, newest first.
func (s *Service) ListManufacturers(ctx context.Context) ([]domain.Manufacturer, error) {
	docs, err := s.store.List(ctx, ColManufacturers)
	if err != nil {
		return nil, err
	}
	return DecodeManufacturers(docs)
}

// Medicines

// AddMedicine validates the payload, resolves the manufacturer, and stores
// the medicine with the manufacturer name denormalized onto it.
func (s *Service) AddMedicine(ctx context.Context, in domain.InsertMedicine) (domain.Medicine, error) {
	if err := s.checkMedicine(in); err != nil {
		return domain.Medicine{}, err
	}
	maker, err := s.getManufacturer(ctx, in.ManufacturerID)
	if err != nil {
		return domain.Medicine{}, err
	}
	payload := struct {
		domain.InsertMedicine
		ManufacturerName string `json:"manufacturerName"`
	}{in, maker.Name}
	doc, err := s.store.Create(ctx, ColMedicines, payload)
	if err != nil {
		return domain.Medicine{}, s.storeErr(err)
	}
	return decodeMedicine(doc)
}

// UpdateMedicine replaces the editable fields of a medicine, refreshing the
// denormalized manufacturer name.
func (s *Service) UpdateMedicine(ctx context.Context, id string, in domain.InsertMedicine) error {
	if err := s.checkMedicine(in); err != nil {
		return err
	}
	maker, err := s.getManufacturer(ctx, in.ManufacturerID)
	if err != nil {
		return err
	}
	partial, err := toPartial(in)
	if err != nil {
		return err
	}
	partial["manufacturerName"] = maker.Name
	return s.storeErr(s.store.Update(ctx, ColMedicines, id, partial))
}

// DeleteMedicine removes a medicine record.
func (s *Service) DeleteMedicine(ctx context.Context, id string) error {
	return s.storeErr(s.store.Delete(ctx, ColMedicines, id))
}

// ListMedicines returns all medicines, newest first.
func (s *Service) ListMedicines(ctx context.Context) ([]domain.Medicine, error) {
	docs, err := s.store.List(ctx, ColMedicines)
	if err != nil {
		return nil, err
	}
	return DecodeMedicines(docs)
}

func (s *Service) checkMedicine(in domain.InsertMedicine) error {
	if err := s.check(in); err != nil {
		return err
	}
	if !in.Price.IsPositive() {
		return validationErrorf("price must be greater than 0")
	}
	if in.Stock < 0 {
		return validationErrorf("stock must be 0 or greater")
	}
	return nil
}

// Lookups used by the composer and the allocator.

func (s *Service) getClient(ctx context.Context, id string) (domain.Client, error) {
	doc, err := s.store.Get(ctx, ColClients, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Client{}, &ReferenceError{Entity: "client", ID: id}
	}
	if err != nil {
		return domain.Client{}, err
	}
	return decodeClient(doc)
}

func (s *Service) getDoctor(ctx context.Context, id string) (domain.Doctor, error) {
	doc, err := s.store.Get(ctx, ColDoctors, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Doctor{}, &ReferenceError{Entity: "doctor", ID: id}
	}
	if err != nil {
		return domain.Doctor{}, err
	}
	return decodeDoctor(doc)
}

func (s *Service) getMedicine(ctx context.Context, id string) (domain.Medicine, error) {
	doc, err := s.store.Get(ctx, ColMedicines, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Medicine{}, &ReferenceError{Entity: "medicine", ID: id}
	}
	if err != nil {
		return domain.Medicine{}, err
	}
	return decodeMedicine(doc)
}

func (s *Service) getManufacturer(ctx context.Context, id string) (domain.Manufacturer, error) {
	doc, err := s.store.Get(ctx, ColManufacturers, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Manufacturer{}, &ReferenceError{Entity: "manufacturer", ID: id}
	}
	if err != nil {
		return domain.Manufacturer{}, err
	}
	return decodeManufacturer(doc)
}

func (s *Service) storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrPermission) {
		return &PermissionError{Err: err}
	}
	return err
}
