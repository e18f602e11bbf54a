package geofence

import "math"

// earthRadiusM is the mean Earth radius.
const earthRadiusM = 6371000.0

// HaversineM returns the great-circle distance in meters between two
// coordinates.
func HaversineM(lat1, lng1, lat2, lng2 float64) float64 {
	const rad = math.Pi / 180
	phi1 := lat1 * rad
	phi2 := lat2 * rad
	dPhi := (lat2 - lat1) * rad
	dLambda := (lng2 - lng1) * rad

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	return earthRadiusM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
