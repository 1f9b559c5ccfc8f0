package members

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
	"github.com/sloth-meeplo/meeplo/backend/internal/kakao"
	"github.com/sloth-meeplo/meeplo/backend/internal/tokenstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubIdentity struct {
	mu       sync.Mutex
	profiles map[string]kakao.Profile
	err      error
	calls    int
}

func newStubIdentity() *stubIdentity {
	return &stubIdentity{profiles: map[string]kakao.Profile{}}
}

func (s *stubIdentity) register(accessToken, providerID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[accessToken] = kakao.Profile{
		Provider:     kakao.ProviderKakao,
		ProviderID:   providerID,
		Nickname:     nickname,
		ProfilePhoto: "https://img.example.com/" + providerID + ".png",
	}
}

func (s *stubIdentity) FetchProfile(_ context.Context, accessToken string) (kakao.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return kakao.Profile{}, s.err
	}
	profile, ok := s.profiles[accessToken]
	if !ok {
		return kakao.Profile{}, fmt.Errorf("%w: status code: 401", kakao.ErrProviderRejected)
	}
	return profile, nil
}

type stubGeocoder struct {
	coordinates map[string]kakao.Coordinate
	calls       int
}

func (g *stubGeocoder) Geocode(_ context.Context, address string) (kakao.Coordinate, error) {
	g.calls++
	coordinate, ok := g.coordinates[address]
	if !ok {
		return kakao.Coordinate{}, fmt.Errorf("%w: %s", kakao.ErrAddressNotFound, address)
	}
	return coordinate, nil
}

type memoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]string
	ttls   map[string]time.Duration
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{tokens: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memoryTokenStore) SaveRefreshToken(_ context.Context, memberKey, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[memberKey] = token
	m.ttls[memberKey] = ttl
	return nil
}

func (m *memoryTokenStore) RefreshToken(_ context.Context, memberKey string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	token, ok := m.tokens[memberKey]
	if !ok {
		return "", tokenstore.ErrTokenNotFound
	}
	return token, nil
}

func (m *memoryTokenStore) DeleteRefreshToken(_ context.Context, memberKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, memberKey)
	delete(m.ttls, memberKey)
	return nil
}

type recordingLogins struct {
	newMembers      int
	returningLogins int
}

func (r *recordingLogins) RecordLogin(newMember bool) {
	if newMember {
		r.newMembers++
		return
	}
	r.returningLogins++
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	issuer   *auth.TokenIssuer
	identity *stubIdentity
	geocoder *stubGeocoder
	store    *memoryTokenStore
	logins   *recordingLogins
	now      *time.Time
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "members.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Member{}, &Location{}); err != nil {
		t.Fatalf("failed to migrate member schema: %v", err)
	}
	return db
}

func newTestHarness(t *testing.T, log *zap.Logger) *testHarness {
	t.Helper()
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	harness := &testHarness{
		db:       openTestDatabase(t),
		identity: newStubIdentity(),
		geocoder: &stubGeocoder{coordinates: map[string]kakao.Coordinate{
			"123 Main St": {Lat: 37.4979, Lng: 127.0276},
		}},
		store:  newMemoryTokenStore(),
		logins: &recordingLogins{},
		now:    &now,
	}
	issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret:   []byte("members-test-secret"),
		Issuer:          "meeplo-test",
		Audience:        "meeplo-app",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 14 * 24 * time.Hour,
		Clock: func() time.Time {
			return *harness.now
		},
	})
	if err != nil {
		t.Fatalf("failed to build token issuer: %v", err)
	}
	harness.issuer = issuer

	service, err := NewService(ServiceConfig{
		Database:   harness.db,
		Tokens:     issuer,
		TokenStore: harness.store,
		Identity:   harness.identity,
		Geocoder:   harness.geocoder,
		Recorder:   harness.logins,
		Logger:     log,
	})
	if err != nil {
		t.Fatalf("failed to build member service: %v", err)
	}
	harness.service = service
	return harness
}

func (h *testHarness) advance(d time.Duration) {
	*h.now = h.now.Add(d)
}

// login registers a provider identity and logs it in, returning the bearer header for the session.
func (h *testHarness) login(t *testing.T, providerToken, providerID string) (string, LoginResult) {
	t.Helper()
	h.identity.register(providerToken, providerID, "member-"+providerID)
	result, err := h.service.Login(context.Background(), auth.BearerPrefix+providerToken)
	if err != nil {
		t.Fatalf("login for %s failed: %v", providerID, err)
	}
	return auth.BearerPrefix + result.Tokens.AccessToken, result
}

func (h *testHarness) countMembers(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&Member{}).Count(&count).Error; err != nil {
		t.Fatalf("count members: %v", err)
	}
	return count
}
