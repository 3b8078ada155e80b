// Package geo holds great-circle math and the PostGIS encodings used by the
// executor and the event store.
package geo

import (
	"encoding/hex"
	"fmt"
	"math"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/wkt"

	"github.com/oceanstack/argo-insight/internal/models"
)

// SRID is WGS84, the reference system of every stored geometry.
const SRID = 4326

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// HaversineKm returns the great-circle distance between two points in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const rad = math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(a)))
}

// BBoxWKT renders a bounding box as a closed WKT polygon, suitable for
// ST_GeomFromText(?, 4326).
func BBoxWKT(b models.BoundingBox) (string, error) {
	if err := b.Validate(); err != nil {
		return "", err
	}
	polygon, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
		{b.MinLon, b.MinLat},
		{b.MaxLon, b.MinLat},
		{b.MaxLon, b.MaxLat},
		{b.MinLon, b.MaxLat},
		{b.MinLon, b.MinLat},
	}})
	if err != nil {
		return "", fmt.Errorf("build polygon: %w", err)
	}
	out, err := wkt.Marshal(polygon)
	if err != nil {
		return "", fmt.Errorf("marshal polygon: %w", err)
	}
	return out, nil
}

// PointEWKT renders lat/lon as "SRID=4326;POINT(lon lat)".
func PointEWKT(lat, lon float64) (string, error) {
	point, err := geom.NewPoint(geom.XY).SetCoords(geom.Coord{lon, lat})
	if err != nil {
		return "", fmt.Errorf("build point: %w", err)
	}
	point.SetSRID(SRID)
	out, err := wkt.Marshal(point)
	if err != nil {
		return "", fmt.Errorf("marshal point: %w", err)
	}
	return fmt.Sprintf("SRID=%d;%s", point.SRID(), out), nil
}

// DecodePoint reads a PostGIS point returned by the driver, either as raw
// EWKB or as its hex text form.
func DecodePoint(v any) (lat, lon float64, err error) {
	var raw []byte
	switch b := v.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		return 0, 0, fmt.Errorf("decode point: unexpected %T", v)
	}
	if decoded, hexErr := hex.DecodeString(string(raw)); hexErr == nil {
		raw = decoded
	}
	g, err := ewkb.Unmarshal(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("decode point: %w", err)
	}
	point, ok := g.(*geom.Point)
	if !ok {
		return 0, 0, fmt.Errorf("decode point: geometry is %T, not a point", g)
	}
	return point.Y(), point.X(), nil
}
