// Package members implements login, session refresh, profile management and
// saved start locations for Meeplo members.
package members

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
	"github.com/sloth-meeplo/meeplo/backend/internal/kakao"
	"github.com/sloth-meeplo/meeplo/backend/internal/tokenstore"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// IdentityProvider exchanges a provider access token for the member's profile.
type IdentityProvider interface {
	FetchProfile(ctx context.Context, accessToken string) (kakao.Profile, error)
}

// Geocoder resolves a free-text address.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (kakao.Coordinate, error)
}

// TokenStore keeps the single trusted refresh token per member.
// RefreshToken must return tokenstore.ErrTokenNotFound for an absent key.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, memberKey, token string, ttl time.Duration) error
	RefreshToken(ctx context.Context, memberKey string) (string, error)
	DeleteRefreshToken(ctx context.Context, memberKey string) error
}

// TokenManager issues and inspects session tokens.
type TokenManager interface {
	IssuePair(ctx context.Context, subject string) (auth.TokenPair, error)
	ValidateToken(token string) (string, error)
	SubjectFromToken(token string) (string, error)
	RefreshTTL() time.Duration
}

// LoginRecorder is notified of every completed login.
type LoginRecorder interface {
	RecordLogin(newMember bool)
}

// ServiceConfig lists the collaborators of the member service.
type ServiceConfig struct {
	Database   *gorm.DB
	Tokens     TokenManager
	TokenStore TokenStore
	Identity   IdentityProvider
	Geocoder   Geocoder
	Recorder   LoginRecorder
	Logger     *zap.Logger
}

// Service orchestrates member accounts and their start locations.
type Service struct {
	db       *gorm.DB
	tokens   TokenManager
	store    TokenStore
	identity IdentityProvider
	geocoder Geocoder
	recorder LoginRecorder
	logger   *zap.Logger
}

// NewService validates the collaborators and constructs the service.
func NewService(cfg ServiceConfig) (*Service, error) {
	switch {
	case cfg.Database == nil:
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	case cfg.Tokens == nil:
		return nil, newServiceError(opServiceNew, "missing_token_manager", errMissingTokenManager)
	case cfg.TokenStore == nil:
		return nil, newServiceError(opServiceNew, "missing_token_store", errMissingTokenStore)
	case cfg.Identity == nil:
		return nil, newServiceError(opServiceNew, "missing_identity_provider", errMissingIdentityProvider)
	case cfg.Geocoder == nil:
		return nil, newServiceError(opServiceNew, "missing_geocoder", errMissingGeocoder)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		tokens:   cfg.Tokens,
		store:    cfg.TokenStore,
		identity: cfg.Identity,
		geocoder: cfg.Geocoder,
		recorder: cfg.Recorder,
		logger:   logger,
	}, nil
}

// Login exchanges a provider bearer credential for a session token pair.
// First sight of a provider identity creates the member; a deactivated
// member is reactivated.
func (s *Service) Login(ctx context.Context, authorization string) (LoginResult, error) {
	credential := strings.TrimSpace(auth.StripBearer(authorization))
	if !auth.HasBearerPrefix(authorization) || credential == "" {
		return LoginResult{}, newServiceError(opLogin, "invalid_credential_format", ErrInvalidCredentialFormat)
	}

	profile, err := s.identity.FetchProfile(ctx, credential)
	if err != nil {
		s.logger.Info("identity exchange failed", zap.String("operation", opLogin), zap.Error(err))
		return LoginResult{}, err
	}
	providerID := strings.TrimSpace(profile.ProviderID)
	if providerID == "" {
		s.logError(opLogin, "missing_provider_identity", errMissingProviderIdentity,
			zap.String("provider", profile.Provider))
		return LoginResult{}, newServiceError(opLogin, "missing_provider_identity", errMissingProviderIdentity)
	}

	member, isNewMember, err := s.findOrCreateMember(ctx, profile, providerID)
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// A concurrent first login inserted the row; the second attempt finds it.
		s.logger.Info("member insert raced, retrying lookup",
			zap.String("provider", profile.Provider),
			zap.String("provider_id", providerID))
		member, isNewMember, err = s.findOrCreateMember(ctx, profile, providerID)
	}
	if err != nil {
		return LoginResult{}, err
	}

	tokens, err := s.issueSession(ctx, opLogin, member.ID)
	if err != nil {
		return LoginResult{}, err
	}
	if s.recorder != nil {
		s.recorder.RecordLogin(isNewMember)
	}
	return LoginResult{Tokens: tokens, IsNewMember: isNewMember}, nil
}

// findOrCreateMember looks the identity up and creates or reactivates the
// member in one transaction.
func (s *Service) findOrCreateMember(ctx context.Context, profile kakao.Profile, providerID string) (Member, bool, error) {
	provider := profile.Provider
	var member Member
	isNewMember := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("provider = ? AND provider_id = ?", provider, providerID).Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			member = Member{
				Provider:     provider,
				ProviderID:   providerID,
				Nickname:     strings.TrimSpace(profile.Nickname),
				ProfilePhoto: strings.TrimSpace(profile.ProfilePhoto),
				Status:       StatusActive,
			}
			if err := tx.Create(&member).Error; err != nil {
				if !errors.Is(err, gorm.ErrDuplicatedKey) {
					s.logError(opLogin, "member_insert_failed", err,
						zap.String("provider", provider),
						zap.String("provider_id", providerID))
				}
				return newServiceError(opLogin, "member_insert_failed", err)
			}
			isNewMember = true
			return nil
		}
		if err != nil {
			s.logError(opLogin, "member_select_failed", err,
				zap.String("provider", provider),
				zap.String("provider_id", providerID))
			return newServiceError(opLogin, "member_select_failed", err)
		}

		if member.IsUnactivated() {
			member.Activate()
			if err := tx.Save(&member).Error; err != nil {
				s.logError(opLogin, "member_reactivate_failed", err, zap.Uint64("member_id", member.ID))
				return newServiceError(opLogin, "member_reactivate_failed", err)
			}
		}
		return nil
	})
	if txErr != nil {
		return Member{}, false, txErr
	}
	return member, isNewMember, nil
}

// Refresh rotates the session when the presented refresh token is the one
// currently stored for the member named by the (possibly expired) access token.
func (s *Service) Refresh(ctx context.Context, authorization, refreshToken string) (auth.TokenPair, error) {
	presented := auth.StripBearer(refreshToken)

	subject, err := s.tokens.SubjectFromToken(auth.StripBearer(authorization))
	if err != nil {
		s.logger.Info("refresh rejected", zap.String("reason", "access_token_invalid"), zap.Error(err))
		return auth.TokenPair{}, newServiceError(opRefresh, "access_token_invalid", ErrInvalidToken)
	}

	stored, err := s.store.RefreshToken(ctx, subject)
	if err != nil && !errors.Is(err, tokenstore.ErrTokenNotFound) {
		s.logError(opRefresh, "token_store_failed", err, zap.String("member_id", subject))
		return auth.TokenPair{}, newServiceError(opRefresh, "token_store_failed", err)
	}
	if err != nil || stored != presented {
		s.logger.Info("refresh rejected", zap.String("reason", "token_mismatch"), zap.String("member_id", subject))
		return auth.TokenPair{}, newServiceError(opRefresh, "token_mismatch", ErrInvalidToken)
	}

	memberID, err := parseMemberID(subject)
	if err != nil {
		return auth.TokenPair{}, newServiceError(opRefresh, "invalid_subject", ErrInvalidToken)
	}
	var member Member
	if err := s.db.WithContext(ctx).Take(&member, memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return auth.TokenPair{}, newServiceError(opRefresh, "member_not_found", ErrResourceNotFound)
		}
		s.logError(opRefresh, "member_select_failed", err, zap.Uint64("member_id", memberID))
		return auth.TokenPair{}, newServiceError(opRefresh, "member_select_failed", err)
	}

	return s.issueSession(ctx, opRefresh, member.ID)
}

// Profile returns the caller's profile with their saved start locations.
func (s *Service) Profile(ctx context.Context, authorization string) (MemberDetail, error) {
	db := s.db.WithContext(ctx)
	member, err := s.resolveMember(db, opProfile, authorization)
	if err != nil {
		return MemberDetail{}, err
	}
	locations, err := s.listLocations(db, opProfile, member.ID)
	if err != nil {
		return MemberDetail{}, err
	}
	return MemberDetail{
		ID:             member.ID,
		Provider:       member.Provider,
		Nickname:       member.Nickname,
		ProfilePhoto:   member.ProfilePhoto,
		Status:         member.Status,
		StartLocations: locations,
	}, nil
}

// UpdateProfile overwrites the caller's nickname and profile photo.
func (s *Service) UpdateProfile(ctx context.Context, authorization string, update ProfileUpdate) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.resolveMember(tx, opUpdateProfile, authorization)
		if err != nil {
			return err
		}
		member.UpdateProfile(update)
		if err := tx.Save(&member).Error; err != nil {
			s.logError(opUpdateProfile, "member_update_failed", err, zap.Uint64("member_id", member.ID))
			return newServiceError(opUpdateProfile, "member_update_failed", err)
		}
		return nil
	})
}

// Deactivate marks the caller's account unactivated and forgets their refresh token.
// Owned locations are kept.
func (s *Service) Deactivate(ctx context.Context, authorization string) error {
	var memberID uint64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.resolveMember(tx, opDeactivate, authorization)
		if err != nil {
			return err
		}
		member.Deactivate()
		if err := tx.Save(&member).Error; err != nil {
			s.logError(opDeactivate, "member_update_failed", err, zap.Uint64("member_id", member.ID))
			return newServiceError(opDeactivate, "member_update_failed", err)
		}
		memberID = member.ID
		return nil
	})
	if txErr != nil {
		return txErr
	}

	if err := s.store.DeleteRefreshToken(ctx, memberKey(memberID)); err != nil {
		s.logError(opDeactivate, "refresh_token_delete_failed", err, zap.Uint64("member_id", memberID))
	}
	return nil
}

// ListStartLocations returns the caller's locations in insertion order.
func (s *Service) ListStartLocations(ctx context.Context, authorization string) ([]LocationSummary, error) {
	db := s.db.WithContext(ctx)
	member, err := s.resolveMember(db, opListLocations, authorization)
	if err != nil {
		return nil, err
	}
	return s.listLocations(db, opListLocations, member.ID)
}

// AddStartLocation geocodes the address and saves it for the caller.
// Geocoder errors are returned unchanged and nothing is written.
func (s *Service) AddStartLocation(ctx context.Context, authorization string, request LocationRequest) (LocationSummary, error) {
	member, err := s.resolveMember(s.db.WithContext(ctx), opAddLocation, authorization)
	if err != nil {
		return LocationSummary{}, err
	}

	coordinate, err := s.geocoder.Geocode(ctx, request.Address)
	if err != nil {
		s.logger.Info("start location geocoding failed",
			zap.Uint64("member_id", member.ID),
			zap.String("address", request.Address),
			zap.Error(err))
		return LocationSummary{}, err
	}

	location := Location{
		MemberID: member.ID,
		Name:     strings.TrimSpace(request.Name),
		Address:  request.Address,
		Lat:      coordinate.Lat,
		Lng:      coordinate.Lng,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&location).Error; err != nil {
			s.logError(opAddLocation, "location_insert_failed", err, zap.Uint64("member_id", member.ID))
			return newServiceError(opAddLocation, "location_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return LocationSummary{}, txErr
	}
	return location.summary(), nil
}

// DeleteStartLocation removes one of the caller's locations. An unknown id
// yields ErrUnauthorized. A location owned by someone else is left in place
// and the call still succeeds.
func (s *Service) DeleteStartLocation(ctx context.Context, authorization string, locationID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		member, err := s.resolveMember(tx, opDeleteLocation, authorization)
		if err != nil {
			return err
		}

		var location Location
		if err := tx.Take(&location, locationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opDeleteLocation, "location_not_found", ErrUnauthorized)
			}
			s.logError(opDeleteLocation, "location_select_failed", err, zap.Uint64("location_id", locationID))
			return newServiceError(opDeleteLocation, "location_select_failed", err)
		}

		// FIXME: a non-owner gets a success response; ErrUnauthorized would be the safer contract.
		if !location.OwnedBy(member.ID) {
			s.logger.Warn("start location delete ignored for non-owner",
				zap.Uint64("member_id", member.ID),
				zap.Uint64("location_id", location.ID),
				zap.Uint64("owner_id", location.MemberID))
			return nil
		}

		if err := tx.Delete(&location).Error; err != nil {
			s.logError(opDeleteLocation, "location_delete_failed", err, zap.Uint64("location_id", location.ID))
			return newServiceError(opDeleteLocation, "location_delete_failed", err)
		}
		return nil
	})
}

// MemberIDFromAuthorization validates an access token and returns the member id it names.
// It does not touch the database. Failures wrap ErrInvalidToken together with the cause.
func (s *Service) MemberIDFromAuthorization(authorization string) (uint64, error) {
	subject, err := s.tokens.ValidateToken(auth.StripBearer(authorization))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	memberID, err := parseMemberID(subject)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return memberID, nil
}

func (s *Service) resolveMember(db *gorm.DB, operation, authorization string) (Member, error) {
	if !auth.HasBearerPrefix(authorization) {
		return Member{}, newServiceError(operation, "invalid_credential_format", ErrInvalidCredentialFormat)
	}
	memberID, err := s.MemberIDFromAuthorization(authorization)
	if err != nil {
		return Member{}, newServiceError(operation, "invalid_token", err)
	}
	var member Member
	if err := db.Take(&member, memberID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Member{}, newServiceError(operation, "member_not_found", ErrResourceNotFound)
		}
		s.logError(operation, "member_select_failed", err, zap.Uint64("member_id", memberID))
		return Member{}, newServiceError(operation, "member_select_failed", err)
	}
	return member, nil
}

func (s *Service) listLocations(db *gorm.DB, operation string, memberID uint64) ([]LocationSummary, error) {
	var locations []Location
	if err := db.Where("member_id = ?", memberID).Order("id ASC").Find(&locations).Error; err != nil {
		s.logError(operation, "location_select_failed", err, zap.Uint64("member_id", memberID))
		return nil, newServiceError(operation, "location_select_failed", err)
	}
	summaries := make([]LocationSummary, 0, len(locations))
	for i := range locations {
		summaries = append(summaries, locations[i].summary())
	}
	return summaries, nil
}

// issueSession mints a pair and makes its refresh token the only trusted one.
func (s *Service) issueSession(ctx context.Context, operation string, memberID uint64) (auth.TokenPair, error) {
	key := memberKey(memberID)
	tokens, err := s.tokens.IssuePair(ctx, key)
	if err != nil {
		s.logError(operation, "token_issue_failed", err, zap.Uint64("member_id", memberID))
		return auth.TokenPair{}, newServiceError(operation, "token_issue_failed", err)
	}
	if err := s.store.SaveRefreshToken(ctx, key, tokens.RefreshToken, s.tokens.RefreshTTL()); err != nil {
		s.logError(operation, "token_store_failed", err, zap.Uint64("member_id", memberID))
		return auth.TokenPair{}, newServiceError(operation, "token_store_failed", err)
	}
	return tokens, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("members service error", attrs...)
}

func memberKey(memberID uint64) string {
	return strconv.FormatUint(memberID, 10)
}

func parseMemberID(subject string) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(subject), 10, 64)
}
