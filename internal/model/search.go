package model

import "time"

// Search is a user-initiated place query and the set of businesses it
// surfaced. ResultsCount is the size of that set as of UpdatedAt.
type Search struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Query        string    `json:"query"`
	ResultsCount int       `json:"results_count"`
	SharedWith   []string  `json:"shared_with,omitempty"`
	CreatedAt    time.Time `json:"timestamp"`
	UpdatedAt    time.Time `json:"last_updated"`
}

// OwnedBy reports whether identityID owns the search.
func (s *Search) OwnedBy(identityID string) bool {
	return s.OwnerID == identityID
}
