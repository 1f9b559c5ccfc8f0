// Package schedules manages meetup schedules and the participation records
// of members in them.
package schedules

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sloth-meeplo/meeplo/backend/internal/members"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// Publisher receives committed participation changes.
type Publisher interface {
	Publish(event Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(Event) {}

type ServiceConfig struct {
	Database  *gorm.DB
	Publisher Publisher
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service implements schedule creation and membership transitions.
type Service struct {
	db        *gorm.DB
	publisher Publisher
	clock     func() time.Time
	logger    *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = nopPublisher{}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:        cfg.Database,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CreateSchedule stores an open schedule with the caller as its leader.
func (s *Service) CreateSchedule(ctx context.Context, memberID uint64, request ScheduleRequest) (ScheduleSummary, error) {
	name := strings.TrimSpace(request.Name)
	if name == "" {
		return ScheduleSummary{}, newServiceError(opCreate, "missing_name", ErrInvalidSchedule)
	}

	schedule := Schedule{
		Name:     name,
		Date:     request.Date.UTC(),
		Location: strings.TrimSpace(request.Location),
		Keywords: joinKeywords(request.Keywords),
		Status:   ScheduleOpen,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&schedule).Error; err != nil {
			s.logError(opCreate, reasonPersistFailed, err, zap.Uint64("member_id", memberID))
			return newServiceError(opCreate, reasonPersistFailed, err)
		}
		leader := ScheduleMember{
			ScheduleID: schedule.ID,
			MemberID:   memberID,
			Role:       RoleLeader,
			Status:     StatusJoined,
		}
		if err := tx.Create(&leader).Error; err != nil {
			s.logError(opCreate, reasonPersistFailed, err,
				zap.Uint64("member_id", memberID),
				zap.Uint64("schedule_id", schedule.ID))
			return newServiceError(opCreate, reasonPersistFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return ScheduleSummary{}, txErr
	}

	s.publish(schedule.ID, memberID, EventJoined)
	return summarize(schedule, RoleLeader, 1), nil
}

// GetSchedule returns the schedule and its joined participants. Only joined
// participants may read it.
func (s *Service) GetSchedule(ctx context.Context, memberID, scheduleID uint64) (ScheduleDetail, error) {
	db := s.db.WithContext(ctx)
	schedule, err := s.loadSchedule(db, opGet, scheduleID)
	if err != nil {
		return ScheduleDetail{}, err
	}
	participation, err := s.loadParticipation(db, opGet, memberID, scheduleID)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			return ScheduleDetail{}, newServiceError(opGet, reasonNotMember, ErrUnauthorized)
		}
		return ScheduleDetail{}, err
	}

	var rows []participantRow
	err = db.Table("schedule_members AS sm").
		Select("sm.member_id, sm.role, sm.address, sm.lat, sm.lng, m.nickname, m.profile_photo").
		Joins("JOIN members AS m ON m.id = sm.member_id").
		Where("sm.schedule_id = ? AND sm.status = ?", scheduleID, StatusJoined).
		Order("sm.id ASC").
		Scan(&rows).Error
	if err != nil {
		s.logError(opGet, reasonSelectFailed, err, zap.Uint64("schedule_id", scheduleID))
		return ScheduleDetail{}, newServiceError(opGet, reasonSelectFailed, err)
	}

	participants := make([]Participant, 0, len(rows))
	for _, row := range rows {
		participants = append(participants, Participant{
			MemberID:     row.MemberID,
			Nickname:     row.Nickname,
			ProfilePhoto: row.ProfilePhoto,
			Role:         row.Role,
			Address:      row.Address,
			Lat:          row.Lat,
			Lng:          row.Lng,
		})
	}
	return ScheduleDetail{
		ScheduleSummary: summarize(schedule, participation.Role, len(participants)),
		Participants:    participants,
	}, nil
}

type participantRow struct {
	MemberID     uint64
	Role         Role
	Address      *string
	Lat          *float64
	Lng          *float64
	Nickname     string
	ProfilePhoto string
}

// ListSchedules returns the schedules the member has joined, earliest date first.
func (s *Service) ListSchedules(ctx context.Context, memberID uint64) ([]ScheduleSummary, error) {
	db := s.db.WithContext(ctx)

	var participations []ScheduleMember
	if err := db.Where("member_id = ? AND status = ?", memberID, StatusJoined).Find(&participations).Error; err != nil {
		s.logError(opList, reasonSelectFailed, err, zap.Uint64("member_id", memberID))
		return nil, newServiceError(opList, reasonSelectFailed, err)
	}
	if len(participations) == 0 {
		return []ScheduleSummary{}, nil
	}

	roles := make(map[uint64]Role, len(participations))
	scheduleIDs := make([]uint64, 0, len(participations))
	for _, participation := range participations {
		roles[participation.ScheduleID] = participation.Role
		scheduleIDs = append(scheduleIDs, participation.ScheduleID)
	}

	var schedules []Schedule
	if err := db.Where("id IN ?", scheduleIDs).Order("date ASC, id ASC").Find(&schedules).Error; err != nil {
		s.logError(opList, reasonSelectFailed, err, zap.Uint64("member_id", memberID))
		return nil, newServiceError(opList, reasonSelectFailed, err)
	}

	var counts []struct {
		ScheduleID uint64
		Total      int
	}
	err := db.Model(&ScheduleMember{}).
		Select("schedule_id, COUNT(*) AS total").
		Where("schedule_id IN ? AND status = ?", scheduleIDs, StatusJoined).
		Group("schedule_id").
		Scan(&counts).Error
	if err != nil {
		s.logError(opList, reasonSelectFailed, err, zap.Uint64("member_id", memberID))
		return nil, newServiceError(opList, reasonSelectFailed, err)
	}
	totals := make(map[uint64]int, len(counts))
	for _, count := range counts {
		totals[count.ScheduleID] = count.Total
	}

	summaries := make([]ScheduleSummary, 0, len(schedules))
	for _, schedule := range schedules {
		summaries = append(summaries, summarize(schedule, roles[schedule.ID], totals[schedule.ID]))
	}
	return summaries, nil
}

// Join adds the member to an open schedule. A previous participation row is
// reactivated and keeps its role; joining twice is a no-op.
func (s *Service) Join(ctx context.Context, memberID, scheduleID uint64) error {
	changed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		schedule, err := s.loadSchedule(tx, opJoin, scheduleID)
		if err != nil {
			return err
		}
		if schedule.IsClosed() {
			return newServiceError(opJoin, "schedule_closed", ErrScheduleClosed)
		}

		var participation ScheduleMember
		err = tx.Where("schedule_id = ? AND member_id = ?", scheduleID, memberID).Take(&participation).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			participation = ScheduleMember{
				ScheduleID: scheduleID,
				MemberID:   memberID,
				Role:       RoleMember,
				Status:     StatusJoined,
			}
			if err := tx.Create(&participation).Error; err != nil {
				s.logError(opJoin, reasonPersistFailed, err,
					zap.Uint64("member_id", memberID),
					zap.Uint64("schedule_id", scheduleID))
				return newServiceError(opJoin, reasonPersistFailed, err)
			}
			changed = true
		case err != nil:
			s.logError(opJoin, reasonSelectFailed, err, zap.Uint64("schedule_id", scheduleID))
			return newServiceError(opJoin, reasonSelectFailed, err)
		case !participation.IsJoined():
			participation.Join()
			if err := tx.Save(&participation).Error; err != nil {
				s.logError(opJoin, reasonPersistFailed, err, zap.Uint64("participation_id", participation.ID))
				return newServiceError(opJoin, reasonPersistFailed, err)
			}
			changed = true
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	if changed {
		s.publish(scheduleID, memberID, EventJoined)
	}
	return nil
}

// Leave unactivates the member's participation. The row is retained.
// A leader may only leave once no other member is joined; a leader who left
// regains the role by joining again.
func (s *Service) Leave(ctx context.Context, memberID, scheduleID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participation, err := s.loadParticipation(tx, opLeave, memberID, scheduleID)
		if err != nil {
			return err
		}
		if participation.Role == RoleLeader {
			var others int64
			err := tx.Model(&ScheduleMember{}).
				Where("schedule_id = ? AND member_id <> ? AND status = ?", scheduleID, memberID, StatusJoined).
				Count(&others).Error
			if err != nil {
				s.logError(opLeave, reasonSelectFailed, err, zap.Uint64("schedule_id", scheduleID))
				return newServiceError(opLeave, reasonSelectFailed, err)
			}
			if others > 0 {
				return newServiceError(opLeave, "leader_has_members", ErrLeaderHasMembers)
			}
		}
		participation.Unactivate()
		if err := tx.Save(&participation).Error; err != nil {
			s.logError(opLeave, reasonPersistFailed, err, zap.Uint64("participation_id", participation.ID))
			return newServiceError(opLeave, reasonPersistFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.publish(scheduleID, memberID, EventLeft)
	return nil
}

// SetStartLocation copies one of the member's saved start locations onto their participation.
func (s *Service) SetStartLocation(ctx context.Context, memberID, scheduleID, locationID uint64) error {
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		participation, err := s.loadParticipation(tx, opSetStartLocation, memberID, scheduleID)
		if err != nil {
			return err
		}

		var location members.Location
		if err := tx.Take(&location, locationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return newServiceError(opSetStartLocation, "location_not_found", ErrResourceNotFound)
			}
			s.logError(opSetStartLocation, reasonSelectFailed, err, zap.Uint64("location_id", locationID))
			return newServiceError(opSetStartLocation, reasonSelectFailed, err)
		}
		if !location.OwnedBy(memberID) {
			return newServiceError(opSetStartLocation, "foreign_location", ErrUnauthorized)
		}

		participation.SetGeoData(location.Address, location.Lat, location.Lng)
		if err := tx.Save(&participation).Error; err != nil {
			s.logError(opSetStartLocation, reasonPersistFailed, err, zap.Uint64("participation_id", participation.ID))
			return newServiceError(opSetStartLocation, reasonPersistFailed, err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}
	s.publish(scheduleID, memberID, EventLocationUpdated)
	return nil
}

// CloseSchedule stops further joins. Only the leader may close.
func (s *Service) CloseSchedule(ctx context.Context, memberID, scheduleID uint64) error {
	changed := false
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		schedule, err := s.loadSchedule(tx, opClose, scheduleID)
		if err != nil {
			return err
		}
		participation, err := s.loadParticipation(tx, opClose, memberID, scheduleID)
		if err != nil {
			if errors.Is(err, ErrResourceNotFound) {
				return newServiceError(opClose, reasonNotMember, ErrUnauthorized)
			}
			return err
		}
		if participation.Role != RoleLeader {
			return newServiceError(opClose, "not_leader", ErrUnauthorized)
		}
		if schedule.IsClosed() {
			return nil
		}
		schedule.Status = ScheduleClosed
		if err := tx.Save(&schedule).Error; err != nil {
			s.logError(opClose, reasonPersistFailed, err, zap.Uint64("schedule_id", scheduleID))
			return newServiceError(opClose, reasonPersistFailed, err)
		}
		changed = true
		return nil
	})
	if txErr != nil {
		return txErr
	}
	if changed {
		s.publish(scheduleID, memberID, EventClosed)
	}
	return nil
}

// IsParticipant reports whether the member currently takes part in the schedule.
func (s *Service) IsParticipant(ctx context.Context, memberID, scheduleID uint64) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&ScheduleMember{}).
		Where("schedule_id = ? AND member_id = ? AND status = ?", scheduleID, memberID, StatusJoined).
		Count(&count).Error
	if err != nil {
		s.logError(opIsParticipant, reasonSelectFailed, err, zap.Uint64("schedule_id", scheduleID))
		return false, newServiceError(opIsParticipant, reasonSelectFailed, err)
	}
	return count > 0, nil
}

func (s *Service) loadSchedule(db *gorm.DB, operation string, scheduleID uint64) (Schedule, error) {
	var schedule Schedule
	if err := db.Take(&schedule, scheduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Schedule{}, newServiceError(operation, reasonNotFound, ErrResourceNotFound)
		}
		s.logError(operation, reasonSelectFailed, err, zap.Uint64("schedule_id", scheduleID))
		return Schedule{}, newServiceError(operation, reasonSelectFailed, err)
	}
	return schedule, nil
}

// loadParticipation returns the joined participation or ErrResourceNotFound.
func (s *Service) loadParticipation(db *gorm.DB, operation string, memberID, scheduleID uint64) (ScheduleMember, error) {
	var participation ScheduleMember
	err := db.Where("schedule_id = ? AND member_id = ? AND status = ?", scheduleID, memberID, StatusJoined).
		Take(&participation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ScheduleMember{}, newServiceError(operation, reasonNotMember, ErrResourceNotFound)
		}
		s.logError(operation, reasonSelectFailed, err,
			zap.Uint64("member_id", memberID),
			zap.Uint64("schedule_id", scheduleID))
		return ScheduleMember{}, newServiceError(operation, reasonSelectFailed, err)
	}
	return participation, nil
}

func (s *Service) publish(scheduleID, memberID uint64, eventType EventType) {
	s.publisher.Publish(Event{
		ScheduleID: scheduleID,
		MemberID:   memberID,
		Type:       eventType,
		Timestamp:  s.clock().UTC(),
	})
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
	s.logger.Error("schedules service error", attrs...)
}

func summarize(schedule Schedule, role Role, memberCount int) ScheduleSummary {
	return ScheduleSummary{
		ID:          schedule.ID,
		Name:        schedule.Name,
		Date:        schedule.Date,
		Location:    schedule.Location,
		Keywords:    splitKeywords(schedule.Keywords),
		Status:      schedule.Status,
		Role:        role,
		MemberCount: memberCount,
	}
}
