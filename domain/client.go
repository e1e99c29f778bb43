package domain

// Client is a patient record in the catalog.
type Client struct {
	ID          string `json:"id"`
	PatientName string `json:"patientName"`
	Contact     string `json:"contact,omitempty"`
	Address     string `json:"address"`
	MobileNo    string `json:"mobileNo,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// InsertClient is the payload accepted when creating or updating a client.
type InsertClient struct {
	PatientName string `json:"patientName" validate:"required"`
	Contact     string `json:"contact"`
	Address     string `json:"address" validate:"required"`
	MobileNo    string `json:"mobileNo"`
}
