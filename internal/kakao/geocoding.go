package kakao

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	addressSearchPath   = "/v2/local/search/address.json"
	defaultGeocodeRPS   = 10
	defaultGeocodeBurst = 5
)

// Coordinate is a resolved WGS84 position.
type Coordinate struct {
	Lat float64
	Lng float64
}

// GeocodingClientConfig configures the address search client.
type GeocodingClientConfig struct {
	BaseURL           string
	RESTAPIKey        string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Timeout           time.Duration
	Observer          Observer
	Logger            *zap.Logger
}

// GeocodingClient resolves free-text addresses through the Kakao Local API.
// Requests are throttled client-side to stay under the app quota.
type GeocodingClient struct {
	baseURL    string
	restAPIKey string
	limiter    *rate.Limiter
	httpClient *http.Client
	timeout    time.Duration
	observer   Observer
	logger     *zap.Logger
}

// NewGeocodingClient validates the REST key and constructs the client.
func NewGeocodingClient(cfg GeocodingClientConfig) (*GeocodingClient, error) {
	key := strings.TrimSpace(cfg.RESTAPIKey)
	if key == "" {
		return nil, fmt.Errorf("%w: rest api key required", ErrInvalidClientConfig)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultGeocodeRPS
	}
	httpClient, timeout, observer, logger := resolveDefaults(cfg.HTTPClient, cfg.Timeout, cfg.Observer, cfg.Logger)
	return &GeocodingClient{
		baseURL:    normalizeBaseURL(cfg.BaseURL, DefaultLocalBaseURL),
		restAPIKey: key,
		limiter:    rate.NewLimiter(rate.Limit(rps), defaultGeocodeBurst),
		httpClient: httpClient,
		timeout:    timeout,
		observer:   observer,
		logger:     logger,
	}, nil
}

type addressSearchResponse struct {
	Documents []struct {
		AddressName string `json:"address_name"`
		X           string `json:"x"`
		Y           string `json:"y"`
	} `json:"documents"`
}

// Geocode returns the coordinates of the first match for the address.
// An address with no match yields ErrAddressNotFound.
func (c *GeocodingClient) Geocode(ctx context.Context, address string) (Coordinate, error) {
	query := strings.TrimSpace(address)
	if query == "" {
		return Coordinate{}, fmt.Errorf("%w: empty address", ErrAddressNotFound)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Coordinate{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	coordinate, err := c.search(ctx, query)
	c.observer.ObserveExternalCall(ProviderKakao, "address_search", time.Since(start), err)
	if err != nil {
		c.logger.Debug("kakao address search failed", zap.String("address", query), zap.Error(err))
	}
	return coordinate, err
}

func (c *GeocodingClient) search(ctx context.Context, query string) (Coordinate, error) {
	endpoint := c.baseURL + addressSearchPath + "?" + url.Values{"query": []string{query}}.Encode()
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return Coordinate{}, err
	}
	request.Header.Set("Authorization", "KakaoAK "+c.restAPIKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: address search request: %w", ErrUpstream, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		// 401/403 here means our REST key was refused.
		return Coordinate{}, statusError(response, ErrUpstream)
	}

	var payload addressSearchResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Coordinate{}, fmt.Errorf("%w: address search decode: %w", ErrUpstream, err)
	}
	if len(payload.Documents) == 0 {
		return Coordinate{}, fmt.Errorf("%w: %s", ErrAddressNotFound, query)
	}

	first := payload.Documents[0]
	lng, err := strconv.ParseFloat(first.X, 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: invalid longitude %q: %w", ErrUpstream, first.X, err)
	}
	lat, err := strconv.ParseFloat(first.Y, 64)
	if err != nil {
		return Coordinate{}, fmt.Errorf("%w: invalid latitude %q: %w", ErrUpstream, first.Y, err)
	}
	return Coordinate{Lat: lat, Lng: lng}, nil
}
