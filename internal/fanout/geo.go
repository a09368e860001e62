package fanout

import (
	"github.com/golang/geo/s2"

	"relief-service/internal/models"
)

const earthRadiusKm = 6371.0088

// DistanceKm is the great-circle distance between two points in degrees.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	a := s2.LatLngFromDegrees(lat1, lng1)
	b := s2.LatLngFromDegrees(lat2, lng2)
	return a.Distance(b).Radians() * earthRadiusKm
}

// Partition is the disjoint split of a subscription snapshot around an origin.
type Partition struct {
	Nearby []models.Subscription
	Others []models.Subscription
}

// PartitionSubscriptions puts every subscription within radiusKm of the origin
// into Nearby and the rest into Others. A nil origin yields an empty Nearby.
func PartitionSubscriptions(subs []models.Subscription, lat, lng *float64, radiusKm float64) Partition {
	p := Partition{
		Nearby: []models.Subscription{},
		Others: []models.Subscription{},
	}
	for _, s := range subs {
		if lat != nil && lng != nil && DistanceKm(*lat, *lng, s.Lat, s.Lng) <= radiusKm {
			p.Nearby = append(p.Nearby, s)
			continue
		}
		p.Others = append(p.Others, s)
	}
	return p
}

// ValidPoint reports whether lat/lng are valid WGS84 degrees.
func ValidPoint(lat, lng float64) bool {
	return s2.LatLngFromDegrees(lat, lng).IsValid()
}
