package domain

// Region is a Brazilian macro-region.
type Region string

const (
	RegionNorth       Region = "N"
	RegionNortheast   Region = "NE"
	RegionCentralWest Region = "CO"
	RegionSoutheast   Region = "SE"
	RegionSouth       Region = "S"

	// RegionUnknown is assigned to state codes outside the region table.
	RegionUnknown Region = "Outro"
)

// Name returns the human-readable region name.
func (r Region) Name() string {
	switch r {
	case RegionNorth:
		return "Norte"
	case RegionNortheast:
		return "Nordeste"
	case RegionCentralWest:
		return "Centro-Oeste"
	case RegionSoutheast:
		return "Sudeste"
	case RegionSouth:
		return "Sul"
	default:
		return "Outro"
	}
}

// RouteKind classifies a shipment by how far it travels.
type RouteKind string

const (
	RouteLocal                   RouteKind = "local"
	RouteRegional                RouteKind = "regional"
	RouteNationalDifficultAccess RouteKind = "national_difficult_access"
	RouteNational                RouteKind = "national"
)

// MinTransitDays returns the physical minimum transit time for the route kind.
func (k RouteKind) MinTransitDays() int {
	switch k {
	case RouteLocal:
		return 1
	case RouteRegional:
		return 4
	case RouteNationalDifficultAccess:
		return 12
	default:
		return 5
	}
}

// Label returns the display label shown to operators.
func (k RouteKind) Label() string {
	switch k {
	case RouteLocal:
		return "Local"
	case RouteRegional:
		return "Regional"
	case RouteNationalDifficultAccess:
		return "Nacional (Difícil Acesso)"
	default:
		return "Nacional"
	}
}

// RouteProfile is the classification of an origin/destination pair.
type RouteProfile struct {
	Kind              RouteKind `json:"kind"`
	Label             string    `json:"label"`
	Origin            string    `json:"origin"`
	Destination       string    `json:"destination"`
	OriginRegion      Region    `json:"originRegion"`
	DestinationRegion Region    `json:"destinationRegion"`
	MinTransitDays    int       `json:"minTransitDays"`
}
