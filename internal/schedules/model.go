package schedules

import (
	"strings"
	"time"
)

// Role is a participant's role within one schedule.
type Role string

const (
	RoleLeader Role = "LEADER"
	RoleMember Role = "MEMBER"
)

// MemberStatus tracks whether a participant is currently part of the schedule.
type MemberStatus string

const (
	StatusJoined      MemberStatus = "JOINED"
	StatusUnactivated MemberStatus = "UNACTIVATED"
)

type ScheduleStatus string

const (
	ScheduleOpen   ScheduleStatus = "OPEN"
	ScheduleClosed ScheduleStatus = "CLOSED"
)

// Schedule is a planned meetup.
type Schedule struct {
	ID        uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string         `gorm:"column:name;size:100;not null"`
	Date      time.Time      `gorm:"column:date;index"`
	Location  string         `gorm:"column:location;size:255"`
	Keywords  string         `gorm:"column:keywords;size:255"`
	Status    ScheduleStatus `gorm:"column:status;size:16;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (Schedule) TableName() string {
	return "schedules"
}

func (s *Schedule) IsClosed() bool {
	return s.Status == ScheduleClosed
}

// ScheduleMember is the participation record of one member in one schedule.
// Leaving flips Status; the row is kept so a later join reuses it.
type ScheduleMember struct {
	ID         uint64       `gorm:"column:id;primaryKey;autoIncrement"`
	ScheduleID uint64       `gorm:"column:schedule_id;not null;uniqueIndex:idx_schedule_members_pair"`
	MemberID   uint64       `gorm:"column:member_id;not null;uniqueIndex:idx_schedule_members_pair;index"`
	Role       Role         `gorm:"column:role;size:16;not null"`
	Status     MemberStatus `gorm:"column:status;size:16;not null"`
	Address    *string      `gorm:"column:address;size:255"`
	Lat        *float64     `gorm:"column:lat"`
	Lng        *float64     `gorm:"column:lng"`
	CreatedAt  time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduleMember) TableName() string {
	return "schedule_members"
}

func (m *ScheduleMember) IsJoined() bool {
	return m.Status == StatusJoined
}

func (m *ScheduleMember) Join() {
	m.Status = StatusJoined
}

func (m *ScheduleMember) Unactivate() {
	m.Status = StatusUnactivated
}

// SetGeoData records the participant's start point for this schedule.
func (m *ScheduleMember) SetGeoData(address string, lat, lng float64) {
	m.Address = &address
	m.Lat = &lat
	m.Lng = &lng
}

// EventType names a participation change.
type EventType string

const (
	EventJoined          EventType = "joined"
	EventLeft            EventType = "left"
	EventLocationUpdated EventType = "location-updated"
	EventClosed          EventType = "closed"
)

// Event is published after a participation change commits.
type Event struct {
	ScheduleID uint64
	MemberID   uint64
	Type       EventType
	Timestamp  time.Time
}

// ScheduleRequest is the input of CreateSchedule.
type ScheduleRequest struct {
	Name     string
	Date     time.Time
	Location string
	Keywords []string
}

type ScheduleSummary struct {
	ID          uint64
	Name        string
	Date        time.Time
	Location    string
	Keywords    []string
	Status      ScheduleStatus
	Role        Role
	MemberCount int
}

// Participant is one joined member as shown in a schedule.
type Participant struct {
	MemberID     uint64
	Nickname     string
	ProfilePhoto string
	Role         Role
	Address      *string
	Lat          *float64
	Lng          *float64
}

type ScheduleDetail struct {
	ScheduleSummary
	Participants []Participant
}

func joinKeywords(keywords []string) string {
	cleaned := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		keyword = strings.TrimSpace(strings.ReplaceAll(keyword, ",", " "))
		if keyword != "" {
			cleaned = append(cleaned, keyword)
		}
	}
	return strings.Join(cleaned, ",")
}

func splitKeywords(stored string) []string {
	if stored == "" {
		return []string{}
	}
	return strings.Split(stored, ",")
}
