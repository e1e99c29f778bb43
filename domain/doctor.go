package domain

// Doctor is a prescribing doctor in the catalog.
type Doctor struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Contact        string `json:"contact"`
	Specialization string `json:"specialization"`
	Address        string `json:"address"`
	Email          string `json:"email"`
	CreatedAt      int64  `json:"createdAt"`
}

// InsertDoctor is the payload accepted when creating or updating a doctor.
type InsertDoctor struct {
	Name           string `json:"name" validate:"required"`
	Contact        string `json:"contact" validate:"required"`
	Specialization string `json:"specialization" validate:"required"`
	Address        string `json:"address" validate:"required"`
	Email          string `json:"email" validate:"required,email"`
}
