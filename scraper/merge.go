package scraper

import (
	"context"
	"fmt"

	"github.com/aluiziolira/go-shop-tracker/models"
)

// RegionFunc returns the listings shown under one region.
type RegionFunc func(ctx context.Context, region models.Region) ([]models.Listing, error)

// Merge folds per-region listings into canonical items. Regions are visited
// in the given order; the first region to show an id supplies its title,
// description and image, and every region that shows it contributes a price.
// Any region failure aborts the merge. Items are returned sorted by id.
func Merge(ctx context.Context, regions []models.Region, scrape RegionFunc) ([]models.Item, error) {
	byID := make(map[uint64]*models.Item)
	for _, region := range regions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		listings, err := scrape(ctx, region)
		if err != nil {
			return nil, fmt.Errorf("region %s: %w", region.Code(), err)
		}
		for _, listing := range listings {
			item, ok := byID[listing.ID]
			if !ok {
				item = &models.Item{
					ID:          listing.ID,
					Title:       listing.Title,
					Description: listing.Description,
					ImageURL:    listing.ImageURL,
					ImageKey:    listing.ImageKey,
					Prices:      make(map[models.Region]uint64, len(regions)),
				}
				byID[listing.ID] = item
			}
			item.Prices[region] = listing.Price
		}
	}

	items := make([]models.Item, 0, len(byID))
	for _, item := range byID {
		items = append(items, *item)
	}
	models.SortItems(items)
	return items, nil
}
