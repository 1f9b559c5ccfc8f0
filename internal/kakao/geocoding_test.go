package kakao

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeocodingClient_Geocode(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/local/search/address.json", r.URL.Path)
			assert.Equal(t, "123 Main St", r.URL.Query().Get("query"))
			assert.Equal(t, "KakaoAK rest-key", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"documents": []any{
					map[string]any{"address_name": "123 Main St", "x": "127.0276", "y": "37.4979"},
					map[string]any{"address_name": "123 Main St annex", "x": "0", "y": "0"},
				},
			})
		}))
		defer server.Close()

		observer := &recordingObserver{}
		client, err := NewGeocodingClient(GeocodingClientConfig{
			BaseURL:    server.URL,
			RESTAPIKey: "rest-key",
			HTTPClient: server.Client(),
			Observer:   observer,
		})
		require.NoError(t, err)

		coordinate, err := client.Geocode(context.Background(), "123 Main St")

		require.NoError(t, err)
		assert.InDelta(t, 37.4979, coordinate.Lat, 1e-9)
		assert.InDelta(t, 127.0276, coordinate.Lng, 1e-9)
		assert.Equal(t, []string{"kakao/address_search"}, observer.operations)
	})

	t.Run("NoMatch", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"documents": []any{}})
		}))
		defer server.Close()

		client, err := NewGeocodingClient(GeocodingClientConfig{BaseURL: server.URL, RESTAPIKey: "rest-key", HTTPClient: server.Client()})
		require.NoError(t, err)

		_, err = client.Geocode(context.Background(), "nowhere")

		assert.ErrorIs(t, err, ErrAddressNotFound)
	})

	t.Run("EmptyAddressSkipsRequest", func(t *testing.T) {
		called := false
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
		}))
		defer server.Close()

		client, err := NewGeocodingClient(GeocodingClientConfig{BaseURL: server.URL, RESTAPIKey: "rest-key", HTTPClient: server.Client()})
		require.NoError(t, err)

		_, err = client.Geocode(context.Background(), "   ")

		assert.ErrorIs(t, err, ErrAddressNotFound)
		assert.False(t, called)
	})

	t.Run("MalformedCoordinate", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"documents": []any{map[string]any{"x": "east", "y": "37.5"}},
			})
		}))
		defer server.Close()

		client, err := NewGeocodingClient(GeocodingClientConfig{BaseURL: server.URL, RESTAPIKey: "rest-key", HTTPClient: server.Client()})
		require.NoError(t, err)

		_, err = client.Geocode(context.Background(), "somewhere")

		assert.ErrorIs(t, err, ErrUpstream)
		assert.Contains(t, err.Error(), "invalid longitude")
	})

	t.Run("RejectedKeyIsUpstreamFailure", func(t *testing.T) {
		for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))

			client, err := NewGeocodingClient(GeocodingClientConfig{BaseURL: server.URL, RESTAPIKey: "revoked", HTTPClient: server.Client()})
			require.NoError(t, err)

			_, err = client.Geocode(context.Background(), "123 Main St")
			server.Close()

			assert.ErrorIs(t, err, ErrUpstream, "status %d", status)
			assert.NotErrorIs(t, err, ErrProviderRejected, "status %d", status)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		client, err := NewGeocodingClient(GeocodingClientConfig{RESTAPIKey: "rest-key", RequestsPerSecond: 0.001})
		require.NoError(t, err)
		for i := 0; i < defaultGeocodeBurst; i++ {
			client.limiter.Allow()
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = client.Geocode(ctx, "123 Main St")

		assert.Error(t, err)
	})
}

func TestNewGeocodingClientRequiresKey(t *testing.T) {
	_, err := NewGeocodingClient(GeocodingClientConfig{RESTAPIKey: " "})
	assert.ErrorIs(t, err, ErrInvalidClientConfig)
}
