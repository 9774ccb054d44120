// Package polyline encodes coordinate paths with the Google polyline
// algorithm. API responses use it to ship the geometry of optimized tours.
package polyline

import (
	"errors"
	"math"
)

// DefaultPrecision is the number of decimal places of the standard format.
const DefaultPrecision = 5

// ErrMalformed is returned when an encoded string ends mid-value.
var ErrMalformed = errors.New("malformed polyline")

// Coordinate is a point in degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Bounds is the bounding box of a path.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// Encode encodes coords with DefaultPrecision.
func Encode(coords []Coordinate) string {
	return EncodePrecision(coords, DefaultPrecision)
}

// EncodePrecision encodes coords rounding to the given number of decimals.
func EncodePrecision(coords []Coordinate, precision int) string {
	if len(coords) == 0 {
		return ""
	}
	factor := math.Pow10(precision)
	buf := make([]byte, 0, len(coords)*8)
	var prevLat, prevLon int
	for _, c := range coords {
		lat := int(math.Round(c.Lat * factor))
		lon := int(math.Round(c.Lon * factor))
		buf = appendValue(buf, lat-prevLat)
		buf = appendValue(buf, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return string(buf)
}

func appendValue(buf []byte, v int) []byte {
	if v < 0 {
		v = ^(v << 1)
	} else {
		v <<= 1
	}
	for v >= 0x20 {
		buf = append(buf, byte((v&0x1f)|0x20)+63)
		v >>= 5
	}
	return append(buf, byte(v)+63)
}

// Decode decodes a DefaultPrecision polyline.
func Decode(encoded string) ([]Coordinate, error) {
	return DecodePrecision(encoded, DefaultPrecision)
}

// DecodePrecision decodes a polyline encoded with the given precision.
func DecodePrecision(encoded string, precision int) ([]Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}
	factor := math.Pow10(precision)
	var (
		out      []Coordinate
		lat, lon int
		i        int
	)
	for i < len(encoded) {
		dLat, next, err := readValue(encoded, i)
		if err != nil {
			return nil, err
		}
		dLon, next, err := readValue(encoded, next)
		if err != nil {
			return nil, err
		}
		i = next
		lat += dLat
		lon += dLon
		out = append(out, Coordinate{Lat: float64(lat) / factor, Lon: float64(lon) / factor})
	}
	return out, nil
}

func readValue(s string, i int) (int, int, error) {
	var result, shift int
	for {
		if i >= len(s) {
			return 0, i, ErrMalformed
		}
		b := int(s[i]) - 63
		i++
		if b < 0 {
			return 0, i, ErrMalformed
		}
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}
	if result&1 != 0 {
		return ^(result >> 1), i, nil
	}
	return result >> 1, i, nil
}

// BoundsOf returns the bounding box of coords. ok is false for an empty path.
func BoundsOf(coords []Coordinate) (b Bounds, ok bool) {
	if len(coords) == 0 {
		return Bounds{}, false
	}
	b = Bounds{South: coords[0].Lat, North: coords[0].Lat, West: coords[0].Lon, East: coords[0].Lon}
	for _, c := range coords[1:] {
		b.South = min(b.South, c.Lat)
		b.North = max(b.North, c.Lat)
		b.West = min(b.West, c.Lon)
		b.East = max(b.East, c.Lon)
	}
	return b, true
}
