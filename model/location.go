package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	LocationTypePlace = "place"
	LocationTypeEvent = "event"
)

// Location is an entry of the location directory: a venue or a dated event
// a quest can send users to.
type Location struct {
	ID         string         `gorm:"primaryKey;size:64" json:"id"`
	OriginalID string         `gorm:"size:128" json:"original_id,omitempty"`
	Source     string         `gorm:"size:32" json:"source,omitempty"` // yelp | ticketmaster | manual
	Type       string         `gorm:"index:idx_location_type;size:16;not null" json:"type"`
	Name       string         `gorm:"size:128;not null" json:"name"`
	Categories datatypes.JSON `json:"categories"` // ["coffee","bakery"]
	ImageURL   string         `gorm:"size:512" json:"image_url,omitempty"`
	URL        string         `gorm:"size:512" json:"url,omitempty"`
	Latitude   float64        `json:"latitude"`
	Longitude  float64        `json:"longitude"`
	Street     string         `gorm:"size:128" json:"street,omitempty"`
	City       string         `gorm:"size:64" json:"city,omitempty"`
	State      string         `gorm:"size:32" json:"state,omitempty"`
	ZipCode    string         `gorm:"size:16" json:"zip_code,omitempty"`
	Borough    string         `gorm:"index:idx_location_borough;size:32" json:"borough,omitempty"`
	StartsAt   *time.Time     `json:"starts_at,omitempty"` // events only
	Rating     float64        `json:"rating,omitempty"`    // places only
	PriceLevel string         `gorm:"size:8" json:"price_level,omitempty"`
	CreatedAt  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}
