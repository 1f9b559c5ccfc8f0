package kakao

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const userInfoPath = "/v2/user/me"

var errMissingAccessToken = errors.New("kakao: access token required")

// Profile is the identity returned by the provider for a bearer credential.
type Profile struct {
	Provider     string
	ProviderID   string
	Nickname     string
	ProfilePhoto string
}

// IdentityClientConfig configures the user-info client.
type IdentityClientConfig struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
	Observer   Observer
	Logger     *zap.Logger
}

// IdentityClient exchanges a Kakao access token for the member's profile.
type IdentityClient struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	observer   Observer
	logger     *zap.Logger
}

// NewIdentityClient constructs the client, defaulting to the public Kakao API host.
func NewIdentityClient(cfg IdentityClientConfig) *IdentityClient {
	httpClient, timeout, observer, logger := resolveDefaults(cfg.HTTPClient, cfg.Timeout, cfg.Observer, cfg.Logger)
	return &IdentityClient{
		baseURL:    normalizeBaseURL(cfg.BaseURL, DefaultAPIBaseURL),
		httpClient: httpClient,
		timeout:    timeout,
		observer:   observer,
		logger:     logger,
	}
}

type userInfoResponse struct {
	ID         int64 `json:"id"`
	Properties struct {
		Nickname     string `json:"nickname"`
		ProfileImage string `json:"profile_image"`
	} `json:"properties"`
	KakaoAccount struct {
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// FetchProfile calls the user-info endpoint with the token as bearer credential.
func (c *IdentityClient) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	token := strings.TrimSpace(accessToken)
	if token == "" {
		return Profile{}, errMissingAccessToken
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	profile, err := c.fetchProfile(ctx, token)
	c.observer.ObserveExternalCall(ProviderKakao, "user_info", time.Since(start), err)
	if err != nil {
		c.logger.Debug("kakao user info request failed", zap.Error(err))
	}
	return profile, err
}

func (c *IdentityClient) fetchProfile(ctx context.Context, token string) (Profile, error) {
	clientCtx := context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	client := oauth2.NewClient(clientCtx, oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
	}))

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+userInfoPath, http.NoBody)
	if err != nil {
		return Profile{}, err
	}

	response, err := client.Do(request)
	if err != nil {
		return Profile{}, fmt.Errorf("%w: user info request: %w", ErrUpstream, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return Profile{}, statusError(response, ErrProviderRejected)
	}

	var payload userInfoResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Profile{}, fmt.Errorf("%w: user info decode: %w", ErrUpstream, err)
	}
	if payload.ID == 0 {
		return Profile{}, fmt.Errorf("%w: response missing id", ErrProviderRejected)
	}

	nickname := payload.KakaoAccount.Profile.Nickname
	if nickname == "" {
		nickname = payload.Properties.Nickname
	}
	photo := payload.KakaoAccount.Profile.ProfileImageURL
	if photo == "" {
		photo = payload.Properties.ProfileImage
	}

	return Profile{
		Provider:     ProviderKakao,
		ProviderID:   strconv.FormatInt(payload.ID, 10),
		Nickname:     nickname,
		ProfilePhoto: photo,
	}, nil
}
