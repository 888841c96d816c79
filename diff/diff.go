// Package diff compares two item sets by id.
package diff

import "github.com/aluiziolira/go-shop-tracker/models"

// Change pairs an item's previous and current content.
type Change struct {
	Old models.Item
	New models.Item
}

// Diff is the comparison result. Each list is ordered by id.
type Diff struct {
	Added   []models.Item
	Removed []models.Item
	Changed []Change
}

// IsEmpty reports whether nothing was added, removed or changed.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Len returns the total number of entries.
func (d Diff) Len() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Compute returns what changed going from old to new. Items are matched by
// id; a matched pair is a change when any field except the image key differs.
func Compute(old, new []models.Item) Diff {
	before := index(old)
	after := index(new)

	var d Diff
	for _, item := range sorted(new) {
		prev, ok := before[item.ID]
		if !ok {
			d.Added = append(d.Added, item)
			continue
		}
		if !prev.Equal(item) {
			d.Changed = append(d.Changed, Change{Old: prev, New: item})
		}
	}
	for _, item := range sorted(old) {
		if _, ok := after[item.ID]; !ok {
			d.Removed = append(d.Removed, item)
		}
	}
	return d
}

func index(items []models.Item) map[uint64]models.Item {
	out := make(map[uint64]models.Item, len(items))
	for _, it := range items {
		out[it.ID] = it
	}
	return out
}

func sorted(items []models.Item) []models.Item {
	out := make([]models.Item, len(items))
	copy(out, items)
	models.SortItems(out)
	return out
}
