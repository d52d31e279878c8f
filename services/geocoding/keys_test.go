package geocoding

import (
	"testing"

	"github.com/sahilchouksey/geocoder/model"
	"github.com/stretchr/testify/assert"
)

func TestCacheKeyForward(t *testing.T) {
	assert.Equal(t, "forward_coords:10001", CacheKey(model.KindForwardCoords, model.PostalInput("10001")))
	assert.Equal(t, "forward_city:10001", CacheKey(model.KindForwardCity, model.PostalInput("10001")))

	// postal codes are compared exactly as provided
	assert.NotEqual(t,
		CacheKey(model.KindForwardCoords, model.PostalInput("10001")),
		CacheKey(model.KindForwardCoords, model.PostalInput("10001-0001")))
}

func TestCacheKeyReverse(t *testing.T) {
	assert.Equal(t, "reverse_to_address:40.7484:-73.9857",
		CacheKey(model.KindReverseToAddress, model.CoordsInput(40.7484, -73.9857)))
	assert.Equal(t, "reverse_to_region:0.0000:0.0000",
		CacheKey(model.KindReverseToRegion, model.CoordsInput(-0.00001, 0.00002)))
}

func TestCacheKeyRoundingInvariant(t *testing.T) {
	tests := []struct {
		name string
		a, b model.Input
	}{
		{name: "example scenario", a: model.CoordsInput(40.7484, -73.9857), b: model.CoordsInput(40.74841, -73.98571)},
		{name: "below half step", a: model.CoordsInput(51.50071, -0.12461), b: model.CoordsInput(51.50074, -0.12464)},
		{name: "southern hemisphere", a: model.CoordsInput(-33.86882, 151.20929), b: model.CoordsInput(-33.86879, 151.20931)},
		{name: "around zero", a: model.CoordsInput(0.00001, -0.00002), b: model.CoordsInput(-0.00002, 0.00001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, kind := range []model.Kind{model.KindReverseToRegion, model.KindReverseToAddress} {
				assert.Equal(t, CacheKey(kind, tt.a), CacheKey(kind, tt.b))
			}
		})
	}
}

func TestCacheKeyDistinguishesKinds(t *testing.T) {
	in := model.CoordsInput(40.7484, -73.9857)
	assert.NotEqual(t, CacheKey(model.KindReverseToRegion, in), CacheKey(model.KindReverseToAddress, in))
	assert.NotEqual(t,
		CacheKey(model.KindReverseToAddress, in),
		CacheKey(model.KindReverseToAddress, model.CoordsInput(40.7486, -73.9857)))
}

func TestNormalizeCoordinate(t *testing.T) {
	assert.Equal(t, 40.7484, NormalizeCoordinate(40.74841))
	assert.Equal(t, -73.9857, NormalizeCoordinate(-73.98571))
	assert.Equal(t, 0.0, NormalizeCoordinate(-0.00004))
}
