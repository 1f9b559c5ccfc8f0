package members

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentialFormat indicates a missing or non-bearer credential.
	ErrInvalidCredentialFormat = errors.New("members: invalid credential format")
	// ErrInvalidToken indicates an unusable access token or a refresh token that is not the current one.
	ErrInvalidToken = errors.New("members: invalid token")
	// ErrResourceNotFound indicates the member row is absent.
	ErrResourceNotFound = errors.New("members: resource not found")
	// ErrUnauthorized is returned for a start location id that does not exist.
	ErrUnauthorized = errors.New("members: unauthorized")

	errMissingDatabase         = errors.New("database handle is required")
	errMissingTokenManager     = errors.New("token manager is required")
	errMissingTokenStore       = errors.New("token store is required")
	errMissingIdentityProvider = errors.New("identity provider is required")
	errMissingGeocoder         = errors.New("geocoder is required")
	errMissingProviderIdentity = errors.New("identity provider returned no subject")
)

const (
	opServiceNew     = "members.service.new"
	opLogin          = "members.login"
	opRefresh        = "members.refresh"
	opProfile        = "members.profile"
	opUpdateProfile  = "members.update_profile"
	opDeactivate     = "members.deactivate"
	opListLocations  = "members.list_locations"
	opAddLocation    = "members.add_location"
	opDeleteLocation = "members.delete_location"
)

// ServiceError carries a stable code of the form <operation>.<reason>.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: operation + "." + reason, err: cause}
}
