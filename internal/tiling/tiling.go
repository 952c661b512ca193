// Package tiling fixes the tile/block/pixel grid and maps pixel rows to
// real-world area under the spherical Web-Mercator model.
package tiling

import (
	"fmt"
	"math"
)

const (
	// MapWidthOffset: the map is 2^9 tiles wide.
	MapWidthOffset = 9
	// TileWidthOffset: a tile is 2^7 blocks wide.
	TileWidthOffset = 7
	// BlockWidthOffset: a block is 2^6 pixels wide.
	BlockWidthOffset = 6

	MapWidth   = 1 << MapWidthOffset
	TileWidth  = 1 << TileWidthOffset
	BlockWidth = 1 << BlockWidthOffset

	// BlocksPerAxis is the number of blocks along one axis of the whole map.
	BlocksPerAxis = MapWidth * TileWidth

	// Zoom is the slippy zoom level at which one pixel is one tile.
	Zoom = MapWidthOffset + TileWidthOffset + BlockWidthOffset

	// PixelsPerAxis is 2^Zoom.
	PixelsPerAxis = 1 << Zoom

	// MaxZoom bounds the zoom argument accepted by the area model.
	MaxZoom = 30

	// EarthRadius is the mean spherical radius in meters.
	EarthRadius = 6_371_000.0
)

// GeometryError reports a coordinate outside the valid tiling range.
type GeometryError struct {
	What  string
	Value int64
	Limit int64
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("geometry: %s %d out of range [0,%d)", e.What, e.Value, e.Limit)
}

func validateZoom(zoom int) error {
	if zoom < 0 || zoom > MaxZoom {
		return &GeometryError{What: "zoom", Value: int64(zoom), Limit: MaxZoom + 1}
	}
	return nil
}

// ValidateRow checks that row lies inside the pixel grid of the given zoom.
func ValidateRow(row int64, zoom int) error {
	if err := validateZoom(zoom); err != nil {
		return err
	}
	n := int64(1) << zoom
	if row < 0 || row >= n {
		return &GeometryError{What: "row", Value: row, Limit: n}
	}
	return nil
}

// ValidateBlock checks a global block coordinate.
func ValidateBlock(x, y int64) error {
	if x < 0 || x >= BlocksPerAxis {
		return &GeometryError{What: "block x", Value: x, Limit: BlocksPerAxis}
	}
	if y < 0 || y >= BlocksPerAxis {
		return &GeometryError{What: "block y", Value: y, Limit: BlocksPerAxis}
	}
	return nil
}

// latitudeAt returns the latitude in radians of fractional row r on an
// n-row Mercator grid (inverse Mercator). Row 0 is the northern edge.
func latitudeAt(r, n float64) float64 {
	return math.Atan(math.Sinh(math.Pi * (1 - 2*r/n)))
}

// RowBounds returns the northern and southern edge latitudes (degrees) of a
// pixel row.
func RowBounds(row int64, zoom int) (north, south float64, err error) {
	if err := ValidateRow(row, zoom); err != nil {
		return 0, 0, err
	}
	n := float64(int64(1) << zoom)
	north = latitudeAt(float64(row), n) * 180 / math.Pi
	south = latitudeAt(float64(row+1), n) * 180 / math.Pi
	return north, south, nil
}

// RowLatitude returns the latitude (degrees) at the vertical center of a row.
func RowLatitude(row int64, zoom int) (float64, error) {
	if err := ValidateRow(row, zoom); err != nil {
		return 0, err
	}
	n := float64(int64(1) << zoom)
	return latitudeAt(float64(row)+0.5, n) * 180 / math.Pi, nil
}

// PixelLngLat returns the center of pixel (col,row) in degrees.
func PixelLngLat(col, row int64, zoom int) (lng, lat float64, err error) {
	if err := validateZoom(zoom); err != nil {
		return 0, 0, err
	}
	if limit := int64(1) << zoom; col < 0 || col >= limit {
		return 0, 0, &GeometryError{What: "col", Value: col, Limit: limit}
	}
	lat, err = RowLatitude(row, zoom)
	if err != nil {
		return 0, 0, err
	}
	n := float64(int64(1) << zoom)
	lng = (float64(col)+0.5)/n*360 - 180
	return lng, lat, nil
}

// MaxLatitude is the northern edge of the Mercator square in degrees.
var MaxLatitude = latitudeAt(0, 1) * 180 / math.Pi

// LngLatPixel returns the pixel containing (lng,lat) in degrees. Longitude
// wraps; latitude must lie strictly inside ±MaxLatitude.
func LngLatPixel(lng, lat float64, zoom int) (col, row int64, err error) {
	if err := validateZoom(zoom); err != nil {
		return 0, 0, err
	}
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.Abs(lat) >= MaxLatitude {
		return 0, 0, fmt.Errorf("geometry: lng/lat (%v,%v) outside the Mercator square", lng, lat)
	}
	n := int64(1) << zoom
	x := math.Mod(lng+180, 360)
	if x < 0 {
		x += 360
	}
	col = min(int64(x/360*float64(n)), n-1)

	phi := lat * math.Pi / 180
	y := (1 - math.Asinh(math.Tan(phi))/math.Pi) / 2
	row = min(max(int64(y*float64(n)), 0), n-1)
	return col, row, nil
}

// RowGeometry is the per-row quantity every strategy starts from.
type RowGeometry struct {
	// DLng is the angular width of a pixel in radians.
	DLng float64
	// DLat is the angular height (north edge minus south edge) in radians.
	DLat float64
	// Center is the latitude in radians at the row's vertical midpoint.
	Center float64
}

// Geometry returns the angular extent of a pixel in the given row.
func Geometry(row int64, zoom int) (RowGeometry, error) {
	if err := ValidateRow(row, zoom); err != nil {
		return RowGeometry{}, err
	}
	n := float64(int64(1) << zoom)
	r := float64(row)
	return RowGeometry{
		DLng:   2 * math.Pi / n,
		DLat:   latitudeAt(r, n) - latitudeAt(r+1, n),
		Center: latitudeAt(r+0.5, n),
	}, nil
}

// Area is angular width × angular height × R² × cos(latitude).
func (g RowGeometry) Area() float64 {
	return g.DLng * g.DLat * EarthRadius * EarthRadius * math.Cos(g.Center)
}

// PixelArea returns the area in m² covered by one pixel in the given row.
// It depends only on the row; every column of a row has the same area.
func PixelArea(row int64, zoom int) (float64, error) {
	g, err := Geometry(row, zoom)
	if err != nil {
		return 0, err
	}
	return g.Area(), nil
}
