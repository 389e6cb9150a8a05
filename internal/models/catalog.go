package models

import "time"

// CatalogRecord represents a food item in the catalog
// The store owns it; the manifest only renders it
type CatalogRecord struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Price       float64   `json:"price"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	ImageRef    string    `json:"image_ref"`
	CreatedAt   time.Time `json:"created_at"`
}
