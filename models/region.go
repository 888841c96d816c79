package models

import "fmt"

// Region is one of the storefront's fixed pricing regions.
type Region uint8

const (
	UnitedStates Region = iota
	Europe
	UnitedKingdom
	India
	Canada
	Australia
	RestOfWorld
)

var allRegions = []Region{
	UnitedStates,
	Europe,
	UnitedKingdom,
	India,
	Canada,
	Australia,
	RestOfWorld,
}

// Regions returns every region in enumeration order. The order decides which
// region's listing supplies an item's non-price fields during a merge.
func Regions() []Region {
	out := make([]Region, len(allRegions))
	copy(out, allRegions)
	return out
}

// Code returns the short code the storefront API expects.
func (r Region) Code() string {
	switch r {
	case UnitedStates:
		return "US"
	case Europe:
		return "EU"
	case UnitedKingdom:
		return "UK"
	case India:
		return "IN"
	case Canada:
		return "CA"
	case Australia:
		return "AU"
	case RestOfWorld:
		return "XX"
	default:
		return fmt.Sprintf("Region(%d)", uint8(r))
	}
}

// String returns the label shown in the storefront's region selector.
func (r Region) String() string {
	switch r {
	case UnitedStates:
		return "United States"
	case Europe:
		return "EU"
	case UnitedKingdom:
		return "United Kingdom"
	case India:
		return "India"
	case Canada:
		return "Canada"
	case Australia:
		return "Australia"
	case RestOfWorld:
		return "Rest of World"
	default:
		return fmt.Sprintf("Region(%d)", uint8(r))
	}
}

// ParseRegion maps an API code back to its region.
func ParseRegion(code string) (Region, error) {
	for _, r := range allRegions {
		if r.Code() == code {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unknown region code %q", code)
}

// MarshalText encodes the region as its API code.
func (r Region) MarshalText() ([]byte, error) {
	if int(r) >= len(allRegions) {
		return nil, fmt.Errorf("invalid region %d", uint8(r))
	}
	return []byte(r.Code()), nil
}

// UnmarshalText decodes an API code.
func (r *Region) UnmarshalText(text []byte) error {
	parsed, err := ParseRegion(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
