package domain

// Counter is the singleton record holding the last allocated invoice sequence
// number. It is only ever written inside the allocator transaction, or by the
// explicit administrative reset.
type Counter struct {
	LastNumber int64 `json:"lastNumber"`
}
