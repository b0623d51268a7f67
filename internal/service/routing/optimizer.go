package routing

import (
	"errors"
	"math"

	"github.com/maina2/MM-backend/internal/domain"
)

// earthRadiusKm — средний радиус Земли для haversine-расстояния.
const earthRadiusKm = 6371.0

// ErrNoStops возвращается при пустом списке остановок.
var ErrNoStops = errors.New("route requires at least one stop")

// NearestNeighbour — жадный оптимизатор маршрута доставки: на каждом шаге
// выбирается ближайшая по haversine-расстоянию остановка. Для курьерских
// маршрутов из единиц-десятков точек этого достаточно.
type NearestNeighbour struct{}

// NewNearestNeighbour создаёт оптимизатор.
func NewNearestNeighbour() *NearestNeighbour {
	return &NearestNeighbour{}
}

// ComputeRoute возвращает остановки в порядке обхода, начиная от start.
// Исходный slice не модифицируется.
func (n *NearestNeighbour) ComputeRoute(start domain.GeoPoint, stops []domain.GeoPoint) ([]domain.GeoPoint, error) {
	if len(stops) == 0 {
		return nil, ErrNoStops
	}

	remaining := append([]domain.GeoPoint(nil), stops...)
	route := make([]domain.GeoPoint, 0, len(remaining))
	current := start

	for len(remaining) > 0 {
		nearest := 0
		nearestDist := Haversine(current, remaining[0])
		for i := 1; i < len(remaining); i++ {
			if dist := Haversine(current, remaining[i]); dist < nearestDist {
				nearest = i
				nearestDist = dist
			}
		}

		current = remaining[nearest]
		route = append(route, current)
		remaining = append(remaining[:nearest], remaining[nearest+1:]...)
	}

	return route, nil
}

// Haversine возвращает расстояние между двумя точками в километрах.
func Haversine(a, b domain.GeoPoint) float64 {
	latA := a.Latitude * math.Pi / 180
	latB := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

var _ domain.RouteOptimizer = (*NearestNeighbour)(nil)
