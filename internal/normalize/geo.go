package normalize

import "math"

const earthRadiusMeters = 6371000.0

// HaversineMeters returns the great-circle distance between two WGS84 points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRadians(lat2 - lat1)
	dLng := toRadians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// BoundingBox returns a lat/lng box that contains every point within radius meters
// of the center. It over-approximates; callers still filter with HaversineMeters.
// Latitudes are clamped to [-90, 90]. A box that would cross the antimeridian or
// reach a pole spans every longitude instead of wrapping.
func BoundingBox(lat, lng, radius float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radius / earthRadiusMeters * 180 / math.Pi
	minLat, maxLat = math.Max(lat-dLat, -90), math.Min(lat+dLat, 90)
	if minLat == -90 || maxLat == 90 {
		return minLat, maxLat, -180, 180
	}

	dLng := dLat / math.Cos(toRadians(lat))
	minLng, maxLng = lng-dLng, lng+dLng
	if minLng < -180 || maxLng > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
