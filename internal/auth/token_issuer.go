package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultAccessTokenTTL  = 30 * time.Minute
	defaultRefreshTokenTTL = 14 * 24 * time.Hour
)

// TokenType distinguishes access tokens from refresh tokens inside the typ claim.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errNonPositiveTTL       = errors.New("token ttl must be positive")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")

	// ErrInvalidTokenConfig reports a TokenIssuer constructed with unusable settings.
	ErrInvalidTokenConfig = errors.New("auth: invalid token issuer config")
	// ErrUnexpectedTokenType is returned when a refresh token is presented where an access token is required.
	ErrUnexpectedTokenType = errors.New("auth: unexpected token type")
)

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret   []byte
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Clock           func() time.Time
}

// SessionClaims is the payload carried by both halves of a token pair.
type SessionClaims struct {
	TokenType TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenPair bundles a freshly issued access/refresh pair.
type TokenPair struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresIn int64
}

// TokenIssuer issues and validates the backend session tokens.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer, rejecting incomplete configuration.
// Zero TTLs fall back to the defaults; negative TTLs are rejected.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenConfig, errMissingSigningSecret)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenConfig, errMissingIssuer)
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenConfig, errMissingAudience)
	}
	accessTTL := cfg.AccessTokenTTL
	if accessTTL == 0 {
		accessTTL = defaultAccessTokenTTL
	}
	refreshTTL := cfg.RefreshTokenTTL
	if refreshTTL == 0 {
		refreshTTL = defaultRefreshTokenTTL
	}
	if accessTTL < 0 || refreshTTL < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTokenConfig, errNonPositiveTTL)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		clock:         clock,
	}, nil
}

// RefreshTTL is the lifetime of refresh tokens, also used as the token store expiration.
func (i *TokenIssuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// IssuePair signs a new access and refresh token for the subject.
func (i *TokenIssuer) IssuePair(_ context.Context, subject string) (TokenPair, error) {
	if strings.TrimSpace(subject) == "" {
		return TokenPair{}, errMissingSubjectClaim
	}
	now := i.clock().UTC()

	accessToken, err := i.sign(subject, TokenTypeAccess, now, i.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, err := i.sign(subject, TokenTypeRefresh, now, i.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}

	return TokenPair{
		AccessToken:     accessToken,
		RefreshToken:    refreshToken,
		AccessExpiresIn: int64(i.accessTTL.Seconds()),
	}, nil
}

func (i *TokenIssuer) sign(subject string, tokenType TokenType, now time.Time, ttl time.Duration) (string, error) {
	tokenID, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	claims := SessionClaims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID.String(),
			Subject:   subject,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.signingSecret)
}

// ValidateToken fully validates an access token and returns its subject.
func (i *TokenIssuer) ValidateToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString,
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.TokenType != TokenTypeAccess {
		return "", ErrUnexpectedTokenType
	}
	return claims.Subject, nil
}

// SubjectFromToken checks signature, issuer and audience of an access token
// but ignores its expiry, so an expired token can still identify its member
// during refresh.
func (i *TokenIssuer) SubjectFromToken(tokenString string) (string, error) {
	claims, err := i.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return "", err
	}
	if claims.Issuer != i.issuer {
		return "", jwt.ErrTokenInvalidIssuer
	}
	audienceMatched := false
	for _, audience := range claims.Audience {
		if audience == i.audience {
			audienceMatched = true
			break
		}
	}
	if !audienceMatched {
		return "", jwt.ErrTokenInvalidAudience
	}
	if claims.TokenType != TokenTypeAccess {
		return "", ErrUnexpectedTokenType
	}
	return claims.Subject, nil
}

func (i *TokenIssuer) parse(tokenString string, options ...jwt.ParserOption) (*SessionClaims, error) {
	options = append(options, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		strings.TrimSpace(tokenString),
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		options...,
	)
	if err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errMissingSubjectClaim
	}
	return claims, nil
}
