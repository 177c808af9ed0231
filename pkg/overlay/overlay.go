// Package overlay derives map primitives from the published incident
// sequence and tracks the map's viewport center.
//
// Every Replace rebuilds the whole overlay set and its R-Tree index from
// scratch. Overlays are keyed by record id so a renderer can reattach them
// across refreshes without diffing.
package overlay

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/dhconnelly/rtreego"
	"github.com/kass/go-geo-incidents/pkg/models"
)

const (
	// DefaultRadius is the hotspot circle radius in meters
	DefaultRadius = 250.0

	tolerance   = 1e-9
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
	earthRadius = 6371000.0 // meters
)

// Style is how hotspot circles are painted
type Style struct {
	FillColor   string
	FillOpacity float64
	ZIndex      int
	Clickable   bool
	Draggable   bool
	Editable    bool
	Visible     bool
}

// DefaultStyle is a translucent red, non-interactive fill
var DefaultStyle = Style{
	FillColor:   "#ff0000",
	FillOpacity: 0.35,
	ZIndex:      1,
	Visible:     true,
}

// Circle is a fixed-radius hotspot around an incident
type Circle struct {
	Center models.Location
	Radius float64
	Style  Style
}

// Marker pins an incident's exact position
type Marker struct {
	Position models.Location
}

// Overlay is the pair of primitives drawn for one record
type Overlay struct {
	Key    string
	ID     string
	Circle Circle
	Marker Marker
}

// Key returns the stable overlay key for a record id
func Key(id string) string {
	return "hotspot-" + id
}

// BoundsReader exposes the hosting map's current center. ok is false while
// no map is attached.
type BoundsReader interface {
	Center() (center models.Location, ok bool)
}

// BoundsFunc adapts a function to BoundsReader
type BoundsFunc func() (models.Location, bool)

// Center calls f
func (f BoundsFunc) Center() (models.Location, bool) {
	return f()
}

// spatialOverlay wraps an overlay to implement rtreego.Spatial
type spatialOverlay struct {
	pos  int
	rect *rtreego.Rect
}

func (s *spatialOverlay) Bounds() *rtreego.Rect {
	return s.rect
}

// Option configures a State
type Option func(*State)

// WithRadius sets the circle radius in meters
func WithRadius(meters float64) Option {
	return func(s *State) {
		if meters > 0 {
			s.radius = meters
		}
	}
}

// WithStyle sets the circle style
func WithStyle(style Style) Option {
	return func(s *State) {
		s.style = style
	}
}

// WithViewport sets the starting viewport
func WithViewport(vp models.Viewport) Option {
	return func(s *State) {
		s.viewport = vp
	}
}

// State holds the current overlay set and viewport. Safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	radius   float64
	style    Style
	overlays []Overlay
	tree     *rtreego.Rtree
	viewport models.Viewport
}

// New creates an empty overlay state
func New(opts ...Option) *State {
	s := &State{
		radius:   DefaultRadius,
		style:    DefaultStyle,
		tree:     rtreego.NewTree(dimensions, minChildren, maxChildren),
		viewport: models.DefaultViewport,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Replace regenerates the overlay set from records
func (s *State) Replace(records []models.IncidentRecord) {
	overlays := make([]Overlay, len(records))
	tree := rtreego.NewTree(dimensions, minChildren, maxChildren)

	for i, r := range records {
		center := r.Location()
		overlays[i] = Overlay{
			Key:    Key(r.ID),
			ID:     r.ID,
			Circle: Circle{Center: center, Radius: s.radius, Style: s.style},
			Marker: Marker{Position: center},
		}
		for _, rect := range circleRects(center, s.radius) {
			tree.Insert(&spatialOverlay{pos: i, rect: rect})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlays = overlays
	s.tree = tree
}

// Overlays returns a copy of the current overlay set, in record order
func (s *State) Overlays() []Overlay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Overlay(nil), s.overlays...)
}

// Len returns the number of overlays
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overlays)
}

// Visible returns the overlays whose circle reaches into box, in record order
func (s *State) Visible(box models.BoundingBox) ([]Overlay, error) {
	latSize := box.TopRight.Lat - box.BottomLeft.Lat
	lonSize := box.TopRight.Lon - box.BottomLeft.Lon
	if latSize < 0 || lonSize < 0 {
		return nil, fmt.Errorf("invalid bounding box: top right is below bottom left")
	}

	bounds, err := rtreego.NewRect(
		rtreego.Point{box.BottomLeft.Lat, box.BottomLeft.Lon},
		[]float64{math.Max(latSize, tolerance), math.Max(lonSize, tolerance)},
	)
	if err != nil {
		return nil, fmt.Errorf("invalid bounding box: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.tree.SearchIntersect(bounds), nil), nil
}

// Covering returns the overlays whose circle contains loc, in record order
func (s *State) Covering(loc models.Location) []Overlay {
	probe := rtreego.Point{loc.Lat, loc.Lon}.ToRect(tolerance)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.tree.SearchIntersect(probe), func(o Overlay) bool {
		c := o.Circle.Center
		return Distance(c.Lat, c.Lon, loc.Lat, loc.Lon) <= o.Circle.Radius
	})
}

// collect maps search results back to overlays; callers hold mu.
// A circle split at the antimeridian can match twice.
func (s *State) collect(results []rtreego.Spatial, keep func(Overlay) bool) []Overlay {
	positions := make([]int, 0, len(results))
	seen := make(map[int]bool, len(results))
	for _, result := range results {
		item, ok := result.(*spatialOverlay)
		if !ok || item.pos >= len(s.overlays) || seen[item.pos] {
			continue
		}
		seen[item.pos] = true
		if keep != nil && !keep(s.overlays[item.pos]) {
			continue
		}
		positions = append(positions, item.pos)
	}
	sort.Ints(positions)

	out := make([]Overlay, len(positions))
	for i, pos := range positions {
		out[i] = s.overlays[pos]
	}
	return out
}

// Viewport returns the tracked map center
func (s *State) Viewport() models.Viewport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewport
}

// BoundsChanged reads the map's center at this moment and stores it as the
// viewport. It reports false, leaving the viewport alone, when no map is
// attached.
func (s *State) BoundsChanged(m BoundsReader) bool {
	if m == nil {
		return false
	}
	center, ok := m.Center()
	if !ok {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = models.Viewport{Lng: center.Lon, Lat: center.Lat}
	return true
}

// circleRects returns the lat/lon boxes enclosing a circle of radius
// meters. A circle crossing the antimeridian gets one box on each side.
func circleRects(center models.Location, radius float64) []*rtreego.Rect {
	dLat := (radius / earthRadius) * (180 / math.Pi)
	dLon := 180.0
	if cos := math.Cos(center.Lat * math.Pi / 180); cos > 1e-6 {
		dLon = math.Min(dLat/cos, 180)
	}
	minLat, maxLat := center.Lat-dLat, center.Lat+dLat
	minLon, maxLon := center.Lon-dLon, center.Lon+dLon

	switch {
	case dLon >= 180:
		return []*rtreego.Rect{latLonRect(minLat, maxLat, -180, 180)}
	case minLon < -180:
		return []*rtreego.Rect{
			latLonRect(minLat, maxLat, -180, maxLon),
			latLonRect(minLat, maxLat, minLon+360, 180),
		}
	case maxLon > 180:
		return []*rtreego.Rect{
			latLonRect(minLat, maxLat, minLon, 180),
			latLonRect(minLat, maxLat, -180, maxLon-360),
		}
	}
	return []*rtreego.Rect{latLonRect(minLat, maxLat, minLon, maxLon)}
}

func latLonRect(minLat, maxLat, minLon, maxLon float64) *rtreego.Rect {
	rect, err := rtreego.NewRect(
		rtreego.Point{minLat, minLon},
		[]float64{math.Max(maxLat-minLat, tolerance), math.Max(maxLon-minLon, tolerance)},
	)
	if err != nil {
		// lengths are always positive here
		return rtreego.Point{minLat, minLon}.ToRect(tolerance)
	}
	return rect
}

// Distance calculates the Haversine distance between two points in meters
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180.0
	lon1Rad := lon1 * math.Pi / 180.0
	lat2Rad := lat2 * math.Pi / 180.0
	lon2Rad := lon2 * math.Pi / 180.0

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
