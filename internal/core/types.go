package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// OpKind identifies a rate-limited operation.
type OpKind string

const (
	OpSearch   OpKind = "search"
	OpTeleport OpKind = "teleport"
)

// ResolvedPlace is a validated geographic resolution of a place name.
// Instances are immutable once constructed.
type ResolvedPlace struct {
	Name       string    `json:"name"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// NewResolvedPlace validates coordinates and builds a ResolvedPlace.
// NaN, infinite, and out-of-range values are rejected; the boundary
// values -90/90 and -180/180 are accepted.
func NewResolvedPlace(name string, lat, lon float64, resolvedAt time.Time) (*ResolvedPlace, error) {
	if !ValidCoordinate(lat, lon) {
		return nil, InvalidInput(fmt.Sprintf("coordinates out of range: lat=%v lon=%v", lat, lon))
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = "Unknown"
	}

	return &ResolvedPlace{
		Name:       name,
		Latitude:   lat,
		Longitude:  lon,
		ResolvedAt: resolvedAt.UTC(),
	}, nil
}

// ValidCoordinate reports whether a lat/lon pair is finite and in range.
func ValidCoordinate(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90.0 && lat <= 90.0 && lon >= -180.0 && lon <= 180.0
}

// WorldCoordinate is an in-world position derived from a geographic one.
// It is recomputed on demand and never persisted.
type WorldCoordinate struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (w WorldCoordinate) String() string {
	return fmt.Sprintf("X:%d Y:%d Z:%d", w.X, w.Y, w.Z)
}

// WorldOrigin anchors the geographic-to-world projection.
type WorldOrigin struct {
	LatOrigin float64
	LonOrigin float64
	Scale     float64
	DefaultY  int
	InvertX   bool
	InvertZ   bool
}

// WorldCoordinate projects the place onto the world grid. Z grows
// southward, so the latitude delta is inverted.
func (p *ResolvedPlace) WorldCoordinate(origin WorldOrigin) WorldCoordinate {
	deltaLon := p.Longitude - origin.LonOrigin
	deltaLat := origin.LatOrigin - p.Latitude

	x := int(math.Round(deltaLon * origin.Scale))
	z := int(math.Round(deltaLat * origin.Scale))

	if origin.InvertX {
		x = -x
	}
	if origin.InvertZ {
		z = -z
	}

	return WorldCoordinate{X: x, Y: origin.DefaultY, Z: z}
}

// CooldownRecord is one durable "actor last teleported" fact.
type CooldownRecord struct {
	Actor string
	Place string
	Day   time.Time // date only, UTC midnight
}

// Day truncates a timestamp to its UTC calendar date.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
