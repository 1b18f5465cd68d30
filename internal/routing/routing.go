// Package routing classifies origin/destination pairs into route kinds
// using the fixed Brazilian state to macro-region table.
package routing

import (
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// stateRegions maps each of the 27 federative units to its macro-region.
var stateRegions = map[string]domain.Region{
	"AC": domain.RegionNorth,
	"AL": domain.RegionNortheast,
	"AP": domain.RegionNorth,
	"AM": domain.RegionNorth,
	"BA": domain.RegionNortheast,
	"CE": domain.RegionNortheast,
	"DF": domain.RegionCentralWest,
	"ES": domain.RegionSoutheast,
	"GO": domain.RegionCentralWest,
	"MA": domain.RegionNortheast,
	"MT": domain.RegionCentralWest,
	"MS": domain.RegionCentralWest,
	"MG": domain.RegionSoutheast,
	"PA": domain.RegionNorth,
	"PB": domain.RegionNortheast,
	"PR": domain.RegionSouth,
	"PE": domain.RegionNortheast,
	"PI": domain.RegionNortheast,
	"RJ": domain.RegionSoutheast,
	"RN": domain.RegionNortheast,
	"RS": domain.RegionSouth,
	"RO": domain.RegionNorth,
	"RR": domain.RegionNorth,
	"SC": domain.RegionSouth,
	"SP": domain.RegionSoutheast,
	"SE": domain.RegionNortheast,
	"TO": domain.RegionNorth,
}

// RegionOf returns the macro-region of a state code.
// Codes outside the table yield domain.RegionUnknown; this is not an error.
func RegionOf(state string) domain.Region {
	if r, ok := stateRegions[domain.NormalizeState(state)]; ok {
		return r
	}
	return domain.RegionUnknown
}

// StateInfo describes one entry of the region table.
type StateInfo struct {
	State      string        `json:"state"`
	Region     domain.Region `json:"region"`
	RegionName string        `json:"regionName"`
}

// States returns the region table sorted by state code.
func States() []StateInfo {
	out := make([]StateInfo, 0, len(stateRegions))
	for state, region := range stateRegions {
		out = append(out, StateInfo{State: state, Region: region, RegionName: region.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].State < out[j].State })
	return out
}

// Classify derives the route profile of an origin/destination pair.
//
// Rules apply in order, first match wins:
//  1. same state: Local
//  2. same region: Regional
//  3. either end in the North: National with difficult access
//  4. otherwise: National
//
// Two unknown states share RegionUnknown and therefore classify as Regional.
func Classify(origin, destination string) domain.RouteProfile {
	o := domain.NormalizeState(origin)
	d := domain.NormalizeState(destination)
	ro, rd := RegionOf(o), RegionOf(d)

	var kind domain.RouteKind
	switch {
	case o == d:
		kind = domain.RouteLocal
	case ro == rd:
		kind = domain.RouteRegional
	case ro == domain.RegionNorth || rd == domain.RegionNorth:
		kind = domain.RouteNationalDifficultAccess
	default:
		kind = domain.RouteNational
	}

	return domain.RouteProfile{
		Kind:              kind,
		Label:             kind.Label(),
		Origin:            o,
		Destination:       d,
		OriginRegion:      ro,
		DestinationRegion: rd,
		MinTransitDays:    kind.MinTransitDays(),
	}
}
