package models

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location
	TopRight   Location
}

// Contains reports whether loc lies inside the box, edges included
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.BottomLeft.Lat && loc.Lat <= b.TopRight.Lat &&
		loc.Lon >= b.BottomLeft.Lon && loc.Lon <= b.TopRight.Lon
}

// DefaultDegree is the degree a fresh incident form starts with
const DefaultDegree = 1

// Fields is the field set of an incident as submitted and as stored remotely
type Fields struct {
	Lng         float64 `json:"lng"`
	Lat         float64 `json:"lat"`
	Category    string  `json:"category"`
	Degree      int     `json:"degree"`
	Description string  `json:"description"`
}

// IncidentRecord is one incident as published from the remote collection.
// ID is assigned by the store and never changes.
type IncidentRecord struct {
	ID string `json:"id"`
	Fields
}

// Location returns the record's position
func (r IncidentRecord) Location() Location {
	return Location{Lat: r.Lat, Lon: r.Lng}
}

// Viewport is the visible map center
type Viewport struct {
	Lng float64 `json:"lng" yaml:"lng"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// DefaultViewport is where the map starts before the first bounds change
var DefaultViewport = Viewport{Lng: 126.9767, Lat: 37.575}
