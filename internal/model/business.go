package model

import (
	"strings"
	"time"
)

// SocialLinks holds at most one classified social profile for a business.
type SocialLinks struct {
	Instagram string `json:"instagram,omitempty"`
	YouTube   string `json:"youtube,omitempty"`
	Twitter   string `json:"twitter,omitempty"`
	Facebook  string `json:"facebook,omitempty"`
}

// Empty reports whether no social link is set.
func (l SocialLinks) Empty() bool {
	return l == SocialLinks{}
}

// EnrichedContact is the best-effort contact data scraped from a website.
type EnrichedContact struct {
	Email  string      `json:"email,omitempty"`
	Social SocialLinks `json:"social"`
}

// RawPlace is a place record as returned by the place provider.
type RawPlace struct {
	PlaceID      string   `json:"place_id"`
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Phone        string   `json:"phone"`
	Website      string   `json:"website"`
	Rating       *float64 `json:"rating,omitempty"`
	ReviewsCount int      `json:"reviews_count"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
	Category     string   `json:"category,omitempty"`
}

// Business is a stored place, shared by every search that surfaced it.
// PlaceID is globally unique.
type Business struct {
	ID            string      `json:"id"`
	PlaceID       string      `json:"business_id"`
	Name          string      `json:"name"`
	Email         *string     `json:"email"`
	Website       string      `json:"website,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	Address       string      `json:"address,omitempty"`
	Category      string      `json:"category,omitempty"`
	Rating        *float64    `json:"rating"`
	ReviewsCount  int         `json:"reviews_count"`
	Latitude      *float64    `json:"latitude"`
	Longitude     *float64    `json:"longitude"`
	Social        SocialLinks `json:"social"`
	FirstSearchID string      `json:"first_search_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// NewBusiness merges a provider record with its enrichment into an unsaved
// Business. ID and timestamps are assigned by the store.
func NewBusiness(p RawPlace, c EnrichedContact) Business {
	b := Business{
		PlaceID:      p.PlaceID,
		Name:         p.Name,
		Website:      p.Website,
		Phone:        p.Phone,
		Address:      p.Address,
		Category:     p.Category,
		Rating:       p.Rating,
		ReviewsCount: p.ReviewsCount,
		Latitude:     p.Latitude,
		Longitude:    p.Longitude,
		Social:       c.Social,
	}
	if email := strings.TrimSpace(c.Email); email != "" {
		b.Email = &email
	}
	return b
}
