package domain

// Manufacturer is a medicine manufacturer in the catalog.
type Manufacturer struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
}

// InsertManufacturer is the payload accepted when creating or updating a manufacturer.
type InsertManufacturer struct {
	Name string `json:"name" validate:"required"`
}
