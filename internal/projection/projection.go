// Package projection mirrors the five catalog collections into typed
// in-memory snapshots. The mirrors live only while a session is
// authenticated; sign-out releases every subscription.
package projection

import (
	"sync"

	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/billing"
	"medibill/m/internal/session"
	"medibill/m/internal/store"
)

// Stats is the dashboard summary.
type Stats struct {
	Invoices  int `json:"invoices"`
	Clients   int `json:"clients"`
	Doctors   int `json:"doctors"`
	Medicines int `json:"medicines"`
}

// Manager holds the projected snapshots.
type Manager struct {
	store *store.Store
	log   *logrus.Logger

	mu            sync.RWMutex
	started       bool
	unsubs        []func()
	clients       []domain.Client
	doctors       []domain.Doctor
	manufacturers []domain.Manufacturer
	medicines     []domain.Medicine
	invoices      []domain.Invoice
}

// New constructs a stopped Manager.
func New(st *store.Store, log *logrus.Logger) *Manager {
	return &Manager{store: st, log: log}
}

// Bind ties the projection lifetime to the session: subscriptions start on
// authentication and are torn down on sign-out. The returned function
// detaches from the session and stops the projection.
func (m *Manager) Bind(sess *session.Manager) func() {
	unsub := sess.OnStateChange(func(state session.State, _ *domain.User) {
		switch state {
		case session.StateAuthenticated:
			m.Start()
		case session.StateAnonymous:
			m.Stop()
		}
	})
	return func() {
		unsub()
		m.Stop()
	}
}

// Start subscribes to all five collections. Idempotent.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	// Subscribe outside the lock: each subscription delivers its initial
	// snapshot synchronously through the on* callbacks, which lock again.
	unsubs := []func(){
		m.store.Subscribe(billing.ColClients, m.onClients),
		m.store.Subscribe(billing.ColDoctors, m.onDoctors),
		m.store.Subscribe(billing.ColManufacturers, m.onManufacturers),
		m.store.Subscribe(billing.ColMedicines, m.onMedicines),
		m.store.Subscribe(billing.ColInvoices, m.onInvoices),
	}

	m.mu.Lock()
	stopped := !m.started
	if !stopped {
		m.unsubs = unsubs
	}
	m.mu.Unlock()

	// A Stop that ran while we were subscribing found no unsubs to release,
	// so the fresh subscriptions must be released here instead of stored.
	if stopped {
		for _, unsub := range unsubs {
			unsub()
		}
		m.mu.Lock()
		if !m.started {
			m.clients = nil
			m.doctors = nil
			m.manufacturers = nil
			m.medicines = nil
			m.invoices = nil
		}
		m.mu.Unlock()
	}
}

// Stop releases every subscription and clears the snapshots. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	unsubs := m.unsubs
	m.unsubs = nil
	m.clients = nil
	m.doctors = nil
	m.manufacturers = nil
	m.medicines = nil
	m.invoices = nil
	m.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (m *Manager) onClients(docs []store.Document) {
	clients, err := billing.DecodeClients(docs)
	if err != nil {
		m.log.WithError(err).Warn("client snapshot decode failed")
		return
	}
	m.mu.Lock()
	m.clients = clients
	m.mu.Unlock()
}

func (m *Manager) onDoctors(docs []store.Document) {
	doctors, err := billing.DecodeDoctors(docs)
	if err != nil {
		m.log.WithError(err).Warn("doctor snapshot decode failed")
		return
	}
	m.mu.Lock()
	m.doctors = doctors
	m.mu.Unlock()
}

func (m *Manager) onManufacturers(docs []store.Document) {
	manufacturers, err := billing.DecodeManufacturers(docs)
	if err != nil {
		m.log.WithError(err).Warn("manufacturer snapshot decode failed")
		return
	}
	m.mu.Lock()
	m.manufacturers = manufacturers
	m.mu.Unlock()
}

func (m *Manager) onMedicines(docs []store.Document) {
	medicines, err := billing.DecodeMedicines(docs)
	if err != nil {
		m.log.WithError(err).Warn("medicine snapshot decode failed")
		return
	}
	m.mu.Lock()
	m.medicines = medicines
	m.mu.Unlock()
}

func (m *Manager) onInvoices(docs []store.Document) {
	invoices, err := billing.DecodeInvoices(docs)
	if err != nil {
		m.log.WithError(err).Warn("invoice snapshot decode failed")
		return
	}
	m.mu.Lock()
	m.invoices = invoices
	m.mu.Unlock()
}

// Clients returns the projected client snapshot, newest first.
func (m *Manager) Clients() []domain.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Client(nil), m.clients...)
}

// Doctors returns the projected doctor snapshot, newest first.
func (m *Manager) Doctors() []domain.Doctor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Doctor(nil), m.doctors...)
}

// Manufacturers returns the projected manufacturer snapshot, newest first.
func (m *Manager) Manufacturers() []domain.Manufacturer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Manufacturer(nil), m.manufacturers...)
}

// Medicines returns the projected medicine snapshot, newest first.
func (m *Manager) Medicines() []domain.Medicine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Medicine(nil), m.medicines...)
}

// Invoices returns the projected invoice snapshot, newest first.
func (m *Manager) Invoices() []domain.Invoice {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Invoice(nil), m.invoices...)
}

// Stats summarizes the projected collections for the dashboard.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Invoices:  len(m.invoices),
		Clients:   len(m.clients),
		Doctors:   len(m.doctors),
		Medicines: len(m.medicines),
	}
}
