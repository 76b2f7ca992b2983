// Package subscribers supplies the read-only feed of monitored locations
// with their alert rules and delivery targets. The feed is refreshed once
// per run and never mutated by the core.
package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
	"github.com/redis/go-redis/v9"
)

// locationsKey is the Redis hash holding one JSON document per location,
// keyed by location ID.
const locationsKey = "alerts:locations"

// FileFeed reads monitored locations from a JSON array on disk. Used for
// local runs and fixtures.
type FileFeed struct {
	Path string
}

// Load parses the file. Locations are returned sorted by ID.
func (f *FileFeed) Load(_ context.Context) ([]domain.MonitoredLocation, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("read subscriber file: %w", err)
	}
	var locations []domain.MonitoredLocation
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("parse subscriber file %s: %w", f.Path, err)
	}
	sortLocations(locations)
	return locations, nil
}

// RedisFeed reads monitored locations from the shared Redis instance,
// where the subscription service maintains them.
type RedisFeed struct {
	client *redis.Client
}

// NewRedisFeed creates a feed on an existing Redis client.
func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client}
}

// Load fetches all locations in one HGETALL. An entry that fails to decode
// is skipped rather than failing the whole feed. Locations are returned
// sorted by ID.
func (f *RedisFeed) Load(ctx context.Context) ([]domain.MonitoredLocation, error) {
	entries, err := f.client.HGetAll(ctx, locationsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("load subscriber feed: %w", err)
	}

	locations := make([]domain.MonitoredLocation, 0, len(entries))
	for id, raw := range entries {
		var loc domain.MonitoredLocation
		if err := json.Unmarshal([]byte(raw), &loc); err != nil {
			continue
		}
		if loc.ID == "" {
			loc.ID = id
		}
		locations = append(locations, loc)
	}
	sortLocations(locations)
	return locations, nil
}

func sortLocations(locations []domain.MonitoredLocation) {
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })
}
