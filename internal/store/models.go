package store

import "time"

type User struct {
	ID                string
	Email             string
	DisplayName       string
	PasswordHash      string
	Tier              string
	IsAdmin           bool
	IsEmailVerified   bool
	VerificationToken string
	CreatedAt         time.Time
}

type Site struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	URL        string    `json:"url"`
	Name       string    `json:"name"`
	Pricing    string    `json:"pricing"`
	IsFavorite bool      `json:"isFavorite"`
	IsPinned   bool      `json:"isPinned"`
	CreatedAt  time.Time `json:"createdAt"`
	// Populated by relation loads, not by every query.
	CategoryIDs []string `json:"categoryIds,omitempty"`
	TagIDs      []string `json:"tagIds,omitempty"`
}

type Category struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"createdAt"`
}

// SiteFilter narrows ListSites.
type SiteFilter struct {
	CategoryID string
	TagID      string
	Pricing    string
	Favorite   *bool
	Pinned     *bool
}

// SiteUpdate carries the mutable site fields for PATCH semantics; nil fields
// are left untouched.
type SiteUpdate struct {
	Name       *string
	Pricing    *string
	IsFavorite *bool
	IsPinned   *bool
}
