package model

import "time"

// Identity is an authenticated user of the system. Credentials live with the
// auth collaborator; only the fields the core needs are modelled here.
type Identity struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
