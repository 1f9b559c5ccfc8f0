// Package kakao talks to the Kakao user-info and Local (address search) APIs.
package kakao

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	ProviderKakao = "kakao"

	DefaultAPIBaseURL   = "https://kapi.kakao.com"
	DefaultLocalBaseURL = "https://dapi.kakao.com"

	defaultTimeout    = 5 * time.Second
	maxErrorBodyBytes = 512
)

var (
	// ErrProviderRejected means Kakao refused the presented credential.
	ErrProviderRejected = errors.New("kakao: credential rejected")
	// ErrAddressNotFound means the address search returned no match.
	ErrAddressNotFound = errors.New("kakao: address not found")
	// ErrUpstream wraps transport failures, unexpected statuses and undecodable responses.
	ErrUpstream = errors.New("kakao: upstream failure")
	// ErrInvalidClientConfig reports a client constructed with unusable settings.
	ErrInvalidClientConfig = errors.New("kakao: invalid client config")
)

// Observer receives latency and outcome of every outbound call.
type Observer interface {
	ObserveExternalCall(provider, operation string, duration time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveExternalCall(string, string, time.Duration, error) {}

func normalizeBaseURL(raw, fallback string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

func resolveDefaults(httpClient *http.Client, timeout time.Duration, observer Observer, logger *zap.Logger) (*http.Client, time.Duration, Observer, *zap.Logger) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return httpClient, timeout, observer, logger
}

// statusError converts a non-200 response into an error. 401/403 wrap
// unauthorized so each caller decides whose credential was refused.
func statusError(response *http.Response, unauthorized error) error {
	body, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status code: %d", unauthorized, response.StatusCode)
	}
	return fmt.Errorf("%w: unexpected status code: %d: %s", ErrUpstream, response.StatusCode, strings.TrimSpace(string(body)))
}
