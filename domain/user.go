package domain

// User is an authenticated account. Password holds the bcrypt hash and is
// blanked before a user leaves the session layer.
type User struct {
	ID          int64  `json:"id" db:"id"`
	Email       string `json:"email" db:"email"`
	DisplayName string `json:"displayName,omitempty" db:"display_name"`
	Password    string `json:"password,omitempty" db:"password"`
	Provider    string `json:"provider" db:"provider"`
	Role        string `json:"role" db:"role"`
	CreatedAt   string `json:"createdAt,omitempty" db:"created_at"`
}
