package members

import (
	"strings"
	"time"

	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
)

// Status is the activation state of a member account.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusUnactivated Status = "UNACTIVATED"
)

// Member is a login identity keyed by the external provider and its subject.
// Rows are never hard-deleted; deactivation flips Status.
type Member struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Provider     string    `gorm:"column:provider;size:32;not null;uniqueIndex:idx_members_provider_identity"`
	ProviderID   string    `gorm:"column:provider_id;size:190;not null;uniqueIndex:idx_members_provider_identity"`
	Nickname     string    `gorm:"column:nickname;size:190"`
	ProfilePhoto string    `gorm:"column:profile_photo;size:512"`
	Status       Status    `gorm:"column:status;size:16;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing members.
func (Member) TableName() string {
	return "members"
}

func (m *Member) IsUnactivated() bool {
	return m.Status == StatusUnactivated
}

func (m *Member) Activate() {
	m.Status = StatusActive
}

func (m *Member) Deactivate() {
	m.Status = StatusUnactivated
}

// UpdateProfile overwrites both profile fields, including with empty values.
func (m *Member) UpdateProfile(update ProfileUpdate) {
	m.Nickname = strings.TrimSpace(update.Nickname)
	m.ProfilePhoto = strings.TrimSpace(update.ProfilePhoto)
}

// Location is a saved start location owned by exactly one member.
type Location struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	MemberID  uint64    `gorm:"column:member_id;not null;index"`
	Name      string    `gorm:"column:name;size:100"`
	Address   string    `gorm:"column:address;size:255;not null"`
	Lat       float64   `gorm:"column:lat;not null"`
	Lng       float64   `gorm:"column:lng;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Location) TableName() string {
	return "member_locations"
}

// OwnedBy reports whether the location belongs to the member.
func (l *Location) OwnedBy(memberID uint64) bool {
	return l.MemberID == memberID
}

func (l *Location) summary() LocationSummary {
	return LocationSummary{
		ID:      l.ID,
		Name:    l.Name,
		Address: l.Address,
		Lat:     l.Lat,
		Lng:     l.Lng,
	}
}

// LoginResult is returned by Login.
type LoginResult struct {
	Tokens      auth.TokenPair
	IsNewMember bool
}

// MemberDetail is the profile snapshot returned to the owning member.
type MemberDetail struct {
	ID             uint64
	Provider       string
	Nickname       string
	ProfilePhoto   string
	Status         Status
	StartLocations []LocationSummary
}

type LocationSummary struct {
	ID      uint64
	Name    string
	Address string
	Lat     float64
	Lng     float64
}

// ProfileUpdate carries the editable profile fields.
type ProfileUpdate struct {
	Nickname     string
	ProfilePhoto string
}

// LocationRequest is the input of AddStartLocation. Address is geocoded as-is.
type LocationRequest struct {
	Name    string
	Address string
}
