package kakao

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	operations []string
	errs       []error
}

func (o *recordingObserver) ObserveExternalCall(provider, operation string, _ time.Duration, err error) {
	o.operations = append(o.operations, provider+"/"+operation)
	o.errs = append(o.errs, err)
}

func TestIdentityClient_FetchProfile(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v2/user/me", r.URL.Path)
			assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 1234567,
				"kakao_account": map[string]any{
					"profile": map[string]any{
						"nickname":          "sloth",
						"profile_image_url": "https://img.example.com/sloth.png",
					},
				},
			})
		}))
		defer server.Close()

		observer := &recordingObserver{}
		client := NewIdentityClient(IdentityClientConfig{
			BaseURL:    server.URL,
			HTTPClient: server.Client(),
			Observer:   observer,
		})

		profile, err := client.FetchProfile(context.Background(), "k1")

		require.NoError(t, err)
		assert.Equal(t, ProviderKakao, profile.Provider)
		assert.Equal(t, "1234567", profile.ProviderID)
		assert.Equal(t, "sloth", profile.Nickname)
		assert.Equal(t, "https://img.example.com/sloth.png", profile.ProfilePhoto)
		assert.Equal(t, []string{"kakao/user_info"}, observer.operations)
		assert.NoError(t, observer.errs[0])
	})

	t.Run("FallsBackToLegacyProperties", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id": 77,
				"properties": map[string]any{
					"nickname":      "legacy",
					"profile_image": "https://img.example.com/legacy.png",
				},
			})
		}))
		defer server.Close()

		client := NewIdentityClient(IdentityClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})
		profile, err := client.FetchProfile(context.Background(), "k2")

		require.NoError(t, err)
		assert.Equal(t, "77", profile.ProviderID)
		assert.Equal(t, "legacy", profile.Nickname)
		assert.Equal(t, "https://img.example.com/legacy.png", profile.ProfilePhoto)
	})

	t.Run("Unauthorized", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"msg":"this access token does not exist","code":-401}`))
		}))
		defer server.Close()

		observer := &recordingObserver{}
		client := NewIdentityClient(IdentityClientConfig{BaseURL: server.URL, HTTPClient: server.Client(), Observer: observer})
		_, err := client.FetchProfile(context.Background(), "expired")

		assert.ErrorIs(t, err, ErrProviderRejected)
		assert.Contains(t, err.Error(), "status code: 401")
		assert.Error(t, observer.errs[0])
	})

	t.Run("ServerError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewIdentityClient(IdentityClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})
		_, err := client.FetchProfile(context.Background(), "k1")

		assert.ErrorIs(t, err, ErrUpstream)
		assert.NotErrorIs(t, err, ErrProviderRejected)
		assert.Contains(t, err.Error(), "status code: 502")
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("invalid json"))
		}))
		defer server.Close()

		client := NewIdentityClient(IdentityClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})
		_, err := client.FetchProfile(context.Background(), "k1")

		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("HTTPError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		client := NewIdentityClient(IdentityClientConfig{BaseURL: server.URL})
		_, err := client.FetchProfile(context.Background(), "k1")

		assert.ErrorIs(t, err, ErrUpstream)
	})

	t.Run("EmptyToken", func(t *testing.T) {
		client := NewIdentityClient(IdentityClientConfig{})
		_, err := client.FetchProfile(context.Background(), "  ")

		assert.ErrorIs(t, err, errMissingAccessToken)
	})
}

func TestNewIdentityClientDefaults(t *testing.T) {
	client := NewIdentityClient(IdentityClientConfig{BaseURL: "https://kapi.example.com/"})
	assert.Equal(t, "https://kapi.example.com", client.baseURL)
	assert.Equal(t, defaultTimeout, client.timeout)

	fallback := NewIdentityClient(IdentityClientConfig{})
	assert.Equal(t, DefaultAPIBaseURL, fallback.baseURL)
}
