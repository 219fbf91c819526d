package domain

// User is an account able to sign in and submit books.
type User struct {
	Record
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash,omitempty"` // argon2id encoded; never sent to clients
}
