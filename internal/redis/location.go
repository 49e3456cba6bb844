package redis

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rental/internal/domain"
	"rental/internal/service"
)

const carLocationKey = "cars:locations"

// LocationStore handles car location operations in Redis.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

func carMember(id int64) string {
	return strconv.FormatInt(id, 10)
}

// UpdateLocation stores a car's location using GEOADD.
func (s *LocationStore) UpdateLocation(ctx context.Context, carID int64, lat, lng float64) error {
	return s.client.GeoAdd(ctx, carLocationKey, &redis.GeoLocation{
		Name:      carMember(carID),
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// DistanceMiles measures the distance from the car to a delivery point with GEODIST.
// The point is added under a temporary member and removed in the same transaction.
func (s *LocationStore) DistanceMiles(ctx context.Context, car *domain.Car, to *domain.Location) (float64, error) {
	tmp := "tmp:" + uuid.New().String()
	member := carMember(car.ID)

	var dist *redis.FloatCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if car.Location != nil {
			pipe.GeoAdd(ctx, carLocationKey, &redis.GeoLocation{
				Name:      member,
				Longitude: car.Location.Lng,
				Latitude:  car.Location.Lat,
			})
		}
		pipe.GeoAdd(ctx, carLocationKey, &redis.GeoLocation{
			Name:      tmp,
			Longitude: to.Lng,
			Latitude:  to.Lat,
		})
		dist = pipe.GeoDist(ctx, carLocationKey, member, tmp, "mi")
		pipe.ZRem(ctx, carLocationKey, tmp)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return dist.Val(), nil
}

// FindNearbyCars returns cars within the given radius (in miles), nearest first.
func (s *LocationStore) FindNearbyCars(ctx context.Context, lat, lng, radiusMiles float64) ([]service.NearbyCar, error) {
	results, err := s.client.GeoRadius(ctx, carLocationKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:   radiusMiles,
		Unit:     "mi",
		WithDist: true,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	cars := make([]service.NearbyCar, 0, len(results))
	for _, r := range results {
		id, err := strconv.ParseInt(r.Name, 10, 64)
		if err != nil {
			continue // Temporary delivery points
		}
		cars = append(cars, service.NearbyCar{CarID: id, Miles: r.Dist})
	}

	return cars, nil
}

// RemoveLocation removes a car's location from the geo index.
func (s *LocationStore) RemoveLocation(ctx context.Context, carID int64) error {
	return s.client.ZRem(ctx, carLocationKey, carMember(carID)).Err()
}
