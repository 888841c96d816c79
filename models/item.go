// Package models defines data structures shared by the tracker.
package models

import "sort"

// Listing is a single item card as it appears under one region.
type Listing struct {
	ID          uint64
	Title       string
	Description string
	ImageURL    string
	ImageKey    string
	Price       uint64
}

// Item is a canonical shop item merged across regions.
type Item struct {
	ID          uint64            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"image_url"`
	ImageKey    string            `json:"image_key,omitempty"`
	Prices      map[Region]uint64 `json:"prices"`
}

// Equal reports whether two items carry the same content. ImageKey is
// extraction metadata and is not compared.
func (it Item) Equal(other Item) bool {
	if it.ID != other.ID ||
		it.Title != other.Title ||
		it.Description != other.Description ||
		it.ImageURL != other.ImageURL {
		return false
	}
	return PricesEqual(it.Prices, other.Prices)
}

// Clone returns a copy with its own price map.
func (it Item) Clone() Item {
	out := it
	out.Prices = make(map[Region]uint64, len(it.Prices))
	for r, p := range it.Prices {
		out.Prices[r] = p
	}
	return out
}

// PricesEqual compares two price maps key by key.
func PricesEqual(a, b map[Region]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for r, p := range a {
		if q, ok := b[r]; !ok || q != p {
			return false
		}
	}
	return true
}

// SortItems orders items by id in place.
func SortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}
