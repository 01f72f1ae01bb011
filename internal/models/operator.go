package models

import "time"

// Operator is an account allowed to use the HTTP console.
type Operator struct {
	ID           int       `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Identity is the authenticated operator behind a console request.
type Identity struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
}
