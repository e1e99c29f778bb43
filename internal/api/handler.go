package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"medibill/m/domain"
	"medibill/m/internal/billing"
	"medibill/m/internal/projection"
	"medibill/m/internal/session"
	"medibill/m/internal/store"
)

type ctxKey string

const ctxClaims ctxKey = "claims"

// Handler bundles dependencies for HTTP handlers.
type Handler struct {
	billing    *billing.Service
	session    *session.Manager
	projection *projection.Manager
	store      *store.Store
	log        *logrus.Logger
}

// New constructs a Handler.
func New(svc *billing.Service, sess *session.Manager, proj *projection.Manager, st *store.Store, log *logrus.Logger) *Handler {
	return &Handler{billing: svc, session: sess, projection: proj, store: st, log: log}
}

// Router wires up the HTTP API.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.requestLogger)

	r.Get("/health", h.health)

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.register)
		r.Post("/login", h.login)
		r.Get("/redirect", h.redirect)
		r.Get("/callback", h.callback)
		r.Group(func(protected chi.Router) {
			protected.Use(h.authMiddleware)
			protected.Post("/logout", h.logout)
		})
	})

	r.Group(func(pr chi.Router) {
		pr.Use(h.authMiddleware)

		pr.Route("/clients", func(r chi.Router) {
			r.Post("/", h.createClient)
			r.Get("/", h.listClients)
			r.Get("/stream", h.stream(billing.ColClients))
			r.Put("/{id}", h.updateClient)
			r.Delete("/{id}", h.deleteClient)
		})

		pr.Route("/doctors", func(r chi.Router) {
			r.Post("/", h.createDoctor)
			r.Get("/", h.listDoctors)
			r.Get("/stream", h.stream(billing.ColDoctors))
			r.Put("/{id}", h.updateDoctor)
			r.Delete("/{id}", h.deleteDoctor)
		})

		pr.Route("/manufacturers", func(r chi.Router) {
			r.Post("/", h.createManufacturer)
			r.Get("/", h.listManufacturers)
			r.Get("/stream", h.stream(billing.ColManufacturers))
			r.Put("/{id}", h.updateManufacturer)
			r.Delete("/{id}", h.deleteManufacturer)
		})

		pr.Route("/medicines", func(r chi.Router) {
			r.Post("/", h.createMedicine)
			r.Get("/", h.listMedicines)
			r.Get("/stream", h.stream(billing.ColMedicines))
			r.Put("/{id}", h.updateMedicine)
			r.Delete("/{id}", h.deleteMedicine)
		})

		pr.Route("/invoices", func(r chi.Router) {
			r.Post("/", h.createInvoice)
			r.Get("/", h.listInvoices)
			r.Get("/stream", h.stream(billing.ColInvoices))
			r.Post("/compose", h.composeItem)
			r.Post("/counter/reset", h.resetCounter)
			r.Get("/{id}", h.getInvoice)
			r.Delete("/{id}", h.deleteInvoice)
		})

		pr.Get("/stats", h.stats)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

// Authentication

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		tokenString := strings.TrimSpace(header[len("Bearer "):])
		claims, err := h.session.VerifyToken(tokenString)
		if err != nil {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		ctx := context.WithValue(r.Context(), ctxClaims, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, ok := r.Context().Value(ctxClaims).(*session.Claims)
	if !ok {
		respondError(w, http.StatusUnauthorized, "missing session")
		return false
	}
	if claims.Role != "admin" {
		respondError(w, http.StatusForbidden, "administrator role required")
		return false
	}
	return true
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.session.SignUp(r.Context(), req.Email, req.Password, req.DisplayName, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrEmailTaken):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, session.ErrInvalidEmail), errors.Is(err, session.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "unable to complete registration")
		}
		return
	}
	respondJSON(w, http.StatusCreated, authResponse{Token: token, User: user})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	user, token, err := h.session.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "unable to sign in")
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request) {
	url, err := h.session.RedirectURL(uuid.NewString())
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, http.StatusBadRequest, "missing authorization code")
		return
	}
	user, token, err := h.session.CompleteRedirect(r.Context(), code)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	h.session.SignOut()
	respondJSON(w, http.StatusOK, map[string]string{"status": "signed out"})
}

// Client handlers

func (h *Handler) createClient(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertClient
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	client, err := h.billing.AddClient(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, client)
}

func (h *Handler) listClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.billing.ListClients(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, clients)
}

func (h *Handler) updateClient(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertClient
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.billing.UpdateClient(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteClient(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.DeleteClient(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Doctor handlers

func (h *Handler) createDoctor(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertDoctor
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	doctor, err := h.billing.AddDoctor(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, doctor)
}

func (h *Handler) listDoctors(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.billing.ListDoctors(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, doctors)
}

func (h *Handler) updateDoctor(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertDoctor
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.billing.UpdateDoctor(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteDoctor(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.DeleteDoctor(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Manufacturer handlers

func (h *Handler) createManufacturer(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertManufacturer
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	maker, err := h.billing.AddManufacturer(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, maker)
}

func (h *Handler) listManufacturers(w http.ResponseWriter, r *http.Request) {
	makers, err := h.billing.ListManufacturers(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, makers)
}

func (h *Handler) updateManufacturer(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertManufacturer
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.billing.UpdateManufacturer(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteManufacturer(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.DeleteManufacturer(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Medicine handlers

func (h *Handler) createMedicine(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertMedicine
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	med, err := h.billing.AddMedicine(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, med)
}

func (h *Handler) listMedicines(w http.ResponseWriter, r *http.Request) {
	meds, err := h.billing.ListMedicines(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, meds)
}

func (h *Handler) updateMedicine(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertMedicine
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.billing.UpdateMedicine(r.Context(), chi.URLParam(r, "id"), in); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) deleteMedicine(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.DeleteMedicine(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Invoice handlers

type composeRequest struct {
	MedicineID string `json:"medicineId"`
	Quantity   int64  `json:"quantity"`
	BatchNo    string `json:"batchNo"`
	Expiry     string `json:"expiry"`
}

func (h *Handler) composeItem(w http.ResponseWriter, r *http.Request) {
	var req composeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.billing.ComposeItem(r.Context(), req.MedicineID, req.Quantity, req.BatchNo, req.Expiry)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var in domain.InsertInvoice
	if err := decodeJSON(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	invoice, err := h.billing.SubmitInvoice(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	invoices, err := h.billing.ListInvoices(r.Context())
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, invoices)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	invoice, err := h.billing.GetInvoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, invoice)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := h.billing.DeleteInvoice(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) resetCounter(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.billing.ResetInvoiceCounter(r.Context()); err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "counter reset",
		"next":   billing.FormatInvoiceNumber(1),
	})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.projection.Stats())
}

// Streaming

type streamRecord struct {
	ID        string          `json:"id"`
	CreatedAt int64           `json:"createdAt"`
	Data      json.RawMessage `json:"data"`
}

// stream serves a collection over server-sent events: one event per committed
// change, each carrying the full ordered snapshot. The subscription is
// released when the request context ends.
func (h *Handler) stream(collection string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		// Latest-wins buffer: a slow or gone client never blocks the
		// store's notification path, it just skips intermediate
		// snapshots. The send must stay non-blocking even when two
		// commits notify concurrently and nobody is reading anymore,
		// so on a full buffer we drop the buffered snapshot and retry.
		snapshots := make(chan []store.Document, 1)
		unsub := h.store.Subscribe(collection, func(docs []store.Document) {
			for {
				select {
				case snapshots <- docs:
					return
				default:
				}
				select {
				case <-snapshots:
				default:
				}
			}
		})
		defer unsub()

		for {
			select {
			case <-r.Context().Done():
				return
			case docs := <-snapshots:
				records := make([]streamRecord, len(docs))
				for i, d := range docs {
					records[i] = streamRecord{ID: d.ID, CreatedAt: d.CreatedAt, Data: d.Data}
				}
				payload, err := json.Marshal(records)
				if err != nil {
					h.log.WithError(err).Warn("stream encode failed")
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		}
	}
}

// Helpers

func decodeJSON(r *http.Request, dest interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	_ = encoder.Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	var verr *billing.ValidationError
	var rerr *billing.ReferenceError
	var perr *billing.PermissionError
	switch {
	case errors.As(err, &verr):
		respondError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &rerr):
		respondError(w, http.StatusBadRequest, rerr.Error())
	case errors.As(err, &perr):
		respondError(w, http.StatusForbidden, perr.Error())
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "record not found")
	default:
		h.log.WithError(err).Error("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
