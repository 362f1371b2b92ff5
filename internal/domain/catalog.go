package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// EntryStatus represents the lifecycle status of a catalog entry.
// Values include EntryStatusDraft, EntryStatusActive, and EntryStatusUnavailable.
type EntryStatus string

const (
	EntryStatusDraft       EntryStatus = "draft"
	EntryStatusActive      EntryStatus = "active"
	EntryStatusUnavailable EntryStatus = "unavailable"
)

// JSONMap is a custom type for storing loosely-structured JSON in the database.
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for database serialization.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan JSONMap")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, m)
}

// CatalogEntry represents one tracked product, keyed by (item_id, marketplace).
// Pricing and rating fields are pointers: the upstream payload is loosely
// structured and any of them may be absent for a given item.
type CatalogEntry struct {
	ID              string      `gorm:"type:text;primaryKey" json:"id"`
	ItemID          string      `gorm:"type:text;not null;index:idx_catalog_item,unique" json:"item_id"`
	Marketplace     string      `gorm:"type:text;not null;index:idx_catalog_item,unique" json:"marketplace"`
	Title           string      `gorm:"type:text" json:"title"`
	Status          EntryStatus `gorm:"type:text;index:idx_catalog_status;default:draft" json:"status"`
	Price           *float64    `json:"price,omitempty"`
	OriginalPrice   *float64    `json:"original_price,omitempty"`
	Currency        string      `gorm:"type:text" json:"currency,omitempty"`
	SavingsAmount   *float64    `json:"savings_amount,omitempty"`
	SavingsPercent  *float64    `json:"savings_percent,omitempty"`
	Availability    string      `gorm:"type:text" json:"availability,omitempty"`
	Rating          *float64    `json:"rating,omitempty"`
	ReviewCount     *int        `json:"review_count,omitempty"`
	Payload         JSONMap     `gorm:"type:text" json:"payload,omitempty"`
	LastRefreshAt   *time.Time  `gorm:"index:idx_catalog_refresh" json:"last_refresh_at,omitempty"`
	LastAvailableAt *time.Time  `json:"last_available_at,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// TableName returns the database table name for CatalogEntry.
func (CatalogEntry) TableName() string {
	return "catalog_entries"
}
