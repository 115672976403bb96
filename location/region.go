package location

import (
	"slices"
	"strings"
	"sync"
)

// Region is a circular geographic region.
type Region struct {
	ID        string  `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Radius    float64 `json:"radius"` // meters
}

// Contains reports whether s lies inside the region.
func (r Region) Contains(s PositionSample) bool {
	return Distance(r.Latitude, r.Longitude, s.Latitude, s.Longitude) <= r.Radius
}

// regionSet tracks monitored regions and, when positions are fed to it,
// whether each one is currently occupied.
type regionSet struct {
	mu      sync.Mutex
	regions map[string]Region
	inside  map[string]bool
}

func newRegionSet() *regionSet {
	return &regionSet{regions: make(map[string]Region), inside: make(map[string]bool)}
}

func (rs *regionSet) add(r Region) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.regions[r.ID] = r
	delete(rs.inside, r.ID)
}

func (rs *regionSet) remove(r Region) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.regions, r.ID)
	delete(rs.inside, r.ID)
}

func (rs *regionSet) list() []Region {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	out := make([]Region, 0, len(rs.regions))
	for _, r := range rs.regions {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Region) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// update records s and returns the regions entered and exited. The first
// position seen for a region only reports an entry if it lies inside.
func (rs *regionSet) update(s PositionSample) (entered, exited []Region) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	for id, r := range rs.regions {
		in := r.Contains(s)
		was, known := rs.inside[id]
		rs.inside[id] = in
		switch {
		case in && (!known || !was):
			entered = append(entered, r)
		case !in && known && was:
			exited = append(exited, r)
		}
	}
	byID := func(a, b Region) int { return strings.Compare(a.ID, b.ID) }
	slices.SortFunc(entered, byID)
	slices.SortFunc(exited, byID)
	return entered, exited
}
