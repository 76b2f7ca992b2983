package subscribers

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/forecast-alert-service/internal/domain"
)

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "locations.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestFileFeed(t *testing.T) {
	ctx := context.Background()

	t.Run("loads and sorts by id", func(t *testing.T) {
		path := writeFixture(t, `[
  {
    "id": "L2",
    "name": "Office",
    "coordinate": {"lat": 48.2, "lon": 16.37},
    "rules": [
      {"id": "wind-high", "parameter": "wind_speed", "operator": ">", "threshold": 20, "min_consecutive": 1}
    ],
    "recipients": [{"topic": "alerts_office"}]
  },
  {
    "id": "L1",
    "name": "Home",
    "coordinate": {"lat": 46.06, "lon": 14.5},
    "rules": [
      {"id": "temp-low", "parameter": "temperature", "operator": "<", "threshold": 10, "min_consecutive": 3, "hysteresis": 2}
    ]
  }
]`)

		feed := &FileFeed{Path: path}
		locations, err := feed.Load(ctx)
		require.NoError(t, err)
		require.Len(t, locations, 2)

		assert.Equal(t, "L1", locations[0].ID)
		assert.Equal(t, "L2", locations[1].ID)

		home := locations[0]
		assert.Equal(t, "Home", home.Name)
		assert.InDelta(t, 46.06, home.Coordinate.Lat, 1e-9)
		require.Len(t, home.Rules, 1)
		rule := home.Rules[0]
		assert.Equal(t, domain.OpLess, rule.Operator)
		assert.Equal(t, 3, rule.MinConsecutive)
		assert.InDelta(t, 2.0, rule.Hysteresis, 1e-9)

		require.Len(t, locations[1].Recipients, 1)
		assert.Equal(t, "alerts_office", locations[1].Recipients[0].Topic)
	})

	t.Run("empty array", func(t *testing.T) {
		feed := &FileFeed{Path: writeFixture(t, `[]`)}
		locations, err := feed.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, locations)
	})

	t.Run("missing file", func(t *testing.T) {
		feed := &FileFeed{Path: filepath.Join(t.TempDir(), "absent.json")}
		_, err := feed.Load(ctx)
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		feed := &FileFeed{Path: writeFixture(t, `{"not": "an array"}`)}
		_, err := feed.Load(ctx)
		assert.Error(t, err)
	})
}
