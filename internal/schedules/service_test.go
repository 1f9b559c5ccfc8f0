package schedules

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/sloth-meeplo/meeplo/backend/internal/members"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(event Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.Type)
	}
	return types
}

type scheduleFixture struct {
	service   *Service
	db        *gorm.DB
	publisher *recordingPublisher
	leader    uint64
	guest     uint64
}

func newScheduleFixture(t *testing.T) *scheduleFixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "schedules.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&members.Member{}, &members.Location{}, &Schedule{}, &ScheduleMember{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	leader := members.Member{Provider: "kakao", ProviderID: "leader", Nickname: "leader", Status: members.StatusActive}
	guest := members.Member{Provider: "kakao", ProviderID: "guest", Nickname: "guest", Status: members.StatusActive}
	if err := db.Create(&leader).Error; err != nil {
		t.Fatalf("seed leader: %v", err)
	}
	if err := db.Create(&guest).Error; err != nil {
		t.Fatalf("seed guest: %v", err)
	}

	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:  db,
		Publisher: publisher,
		Clock: func() time.Time {
			return time.Unix(1_700_000_000, 0)
		},
	})
	if err != nil {
		t.Fatalf("failed to build schedule service: %v", err)
	}
	return &scheduleFixture{service: service, db: db, publisher: publisher, leader: leader.ID, guest: guest.ID}
}

func (f *scheduleFixture) create(t *testing.T) ScheduleSummary {
	t.Helper()
	summary, err := f.service.CreateSchedule(context.Background(), f.leader, ScheduleRequest{
		Name:     "board games",
		Date:     time.Date(2024, 5, 4, 18, 0, 0, 0, time.UTC),
		Location: "Gangnam",
		Keywords: []string{" cafe ", "", "quiet,cozy"},
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	return summary
}

func TestCreateScheduleMakesCallerLeader(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)

	if summary.Role != RoleLeader || summary.Status != ScheduleOpen || summary.MemberCount != 1 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if len(summary.Keywords) != 2 || summary.Keywords[0] != "cafe" || summary.Keywords[1] != "quiet cozy" {
		t.Fatalf("unexpected keywords %q", summary.Keywords)
	}

	var participation ScheduleMember
	if err := fixture.db.Where("schedule_id = ?", summary.ID).Take(&participation).Error; err != nil {
		t.Fatalf("load participation: %v", err)
	}
	if participation.MemberID != fixture.leader || participation.Status != StatusJoined {
		t.Fatalf("unexpected participation %+v", participation)
	}
	if got := fixture.publisher.types(); len(got) != 1 || got[0] != EventJoined {
		t.Fatalf("expected one joined event, got %v", got)
	}
}

func TestCreateScheduleRequiresName(t *testing.T) {
	fixture := newScheduleFixture(t)
	_, err := fixture.service.CreateSchedule(context.Background(), fixture.leader, ScheduleRequest{Name: "  "})
	if !errors.Is(err, ErrInvalidSchedule) {
		t.Fatalf("expected ErrInvalidSchedule, got %v", err)
	}
}

func TestJoinLeaveRejoinReusesRow(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)
	ctx := context.Background()

	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("second join must be a no-op: %v", err)
	}
	if err := fixture.service.Leave(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("leave: %v", err)
	}

	participant, err := fixture.service.IsParticipant(ctx, fixture.guest, summary.ID)
	if err != nil || participant {
		t.Fatalf("expected guest not participating after leave, got %v (%v)", participant, err)
	}
	if err := fixture.service.Leave(ctx, fixture.guest, summary.ID); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound leaving twice, got %v", err)
	}

	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("rejoin: %v", err)
	}

	var rows []ScheduleMember
	fixture.db.Where("schedule_id = ? AND member_id = ?", summary.ID, fixture.guest).Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("expected a single participation row, got %d", len(rows))
	}
	if rows[0].Status != StatusJoined || rows[0].Role != RoleMember {
		t.Fatalf("unexpected participation after rejoin %+v", rows[0])
	}

	want := []EventType{EventJoined, EventJoined, EventLeft, EventJoined}
	got := fixture.publisher.types()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestLeaderLeaveKeepsScheduleManageable(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)
	ctx := context.Background()

	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	err := fixture.service.Leave(ctx, fixture.leader, summary.ID)
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || !errors.Is(err, ErrLeaderHasMembers) {
		t.Fatalf("expected ErrLeaderHasMembers while guest is joined, got %v", err)
	}
	if serviceErr.Code() != "schedules.leave.leader_has_members" {
		t.Fatalf("unexpected code %q", serviceErr.Code())
	}
	if participant, _ := fixture.service.IsParticipant(ctx, fixture.leader, summary.ID); !participant {
		t.Fatalf("rejected leave must keep the leader joined")
	}

	if err := fixture.service.Leave(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("guest leave: %v", err)
	}
	if err := fixture.service.Leave(ctx, fixture.leader, summary.ID); err != nil {
		t.Fatalf("leader leave of an empty schedule: %v", err)
	}
	if err := fixture.service.CloseSchedule(ctx, fixture.leader, summary.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized closing after leaving, got %v", err)
	}

	if err := fixture.service.Join(ctx, fixture.leader, summary.ID); err != nil {
		t.Fatalf("leader rejoin: %v", err)
	}
	if err := fixture.service.CloseSchedule(ctx, fixture.leader, summary.ID); err != nil {
		t.Fatalf("close after rejoin: %v", err)
	}
}

func TestJoinMissingSchedule(t *testing.T) {
	fixture := newScheduleFixture(t)
	if err := fixture.service.Join(context.Background(), fixture.guest, 404); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound, got %v", err)
	}
}

func TestCloseScheduleLeaderOnly(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)
	ctx := context.Background()

	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := fixture.service.CloseSchedule(ctx, fixture.guest, summary.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-leader close, got %v", err)
	}
	if err := fixture.service.CloseSchedule(ctx, fixture.leader, summary.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := fixture.service.Leave(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("leave closed schedule: %v", err)
	}
	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); !errors.Is(err, ErrScheduleClosed) {
		t.Fatalf("expected ErrScheduleClosed, got %v", err)
	}
}

func TestGetScheduleRequiresParticipation(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)
	ctx := context.Background()

	if _, err := fixture.service.GetSchedule(ctx, fixture.guest, summary.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for outsider, got %v", err)
	}
	if _, err := fixture.service.GetSchedule(ctx, fixture.leader, summary.ID+1); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound for missing schedule, got %v", err)
	}

	if err := fixture.service.Join(ctx, fixture.guest, summary.ID); err != nil {
		t.Fatalf("join: %v", err)
	}
	detail, err := fixture.service.GetSchedule(ctx, fixture.guest, summary.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if detail.Role != RoleMember || detail.MemberCount != 2 || len(detail.Participants) != 2 {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Participants[0].Nickname != "leader" || detail.Participants[0].Role != RoleLeader {
		t.Fatalf("expected leader listed first, got %+v", detail.Participants[0])
	}
}

func TestSetStartLocationCopiesOwnedLocation(t *testing.T) {
	fixture := newScheduleFixture(t)
	summary := fixture.create(t)
	ctx := context.Background()

	own := members.Location{MemberID: fixture.leader, Name: "home", Address: "123 Main St", Lat: 37.4979, Lng: 127.0276}
	foreign := members.Location{MemberID: fixture.guest, Address: "456 Side St", Lat: 35.1, Lng: 129.0}
	fixture.db.Create(&own)
	fixture.db.Create(&foreign)

	if err := fixture.service.SetStartLocation(ctx, fixture.leader, summary.ID, foreign.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign location, got %v", err)
	}
	if err := fixture.service.SetStartLocation(ctx, fixture.leader, summary.ID, own.ID+100); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound for missing location, got %v", err)
	}
	if err := fixture.service.SetStartLocation(ctx, fixture.guest, summary.ID, foreign.ID); !errors.Is(err, ErrResourceNotFound) {
		t.Fatalf("expected ErrResourceNotFound for non-participant, got %v", err)
	}

	if err := fixture.service.SetStartLocation(ctx, fixture.leader, summary.ID, own.ID); err != nil {
		t.Fatalf("set start location: %v", err)
	}
	detail, err := fixture.service.GetSchedule(ctx, fixture.leader, summary.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	leader := detail.Participants[0]
	if leader.Address == nil || *leader.Address != "123 Main St" || leader.Lat == nil || *leader.Lat != 37.4979 {
		t.Fatalf("expected geo data copied, got %+v", leader)
	}
}

func TestListSchedulesOnlyJoined(t *testing.T) {
	fixture := newScheduleFixture(t)
	ctx := context.Background()
	later, err := fixture.service.CreateSchedule(ctx, fixture.leader, ScheduleRequest{
		Name: "hiking",
		Date: time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	earlier := fixture.create(t)

	if err := fixture.service.Join(ctx, fixture.guest, later.ID); err != nil {
		t.Fatalf("join: %v", err)
	}

	leaderSchedules, err := fixture.service.ListSchedules(ctx, fixture.leader)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(leaderSchedules) != 2 || leaderSchedules[0].ID != earlier.ID || leaderSchedules[1].ID != later.ID {
		t.Fatalf("expected schedules ordered by date, got %+v", leaderSchedules)
	}
	if leaderSchedules[1].MemberCount != 2 {
		t.Fatalf("expected two members on joined schedule, got %d", leaderSchedules[1].MemberCount)
	}

	guestSchedules, err := fixture.service.ListSchedules(ctx, fixture.guest)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(guestSchedules) != 1 || guestSchedules[0].Role != RoleMember {
		t.Fatalf("unexpected guest schedules %+v", guestSchedules)
	}

	none, err := fixture.service.ListSchedules(ctx, 999)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected empty list, got %+v (%v)", none, err)
	}
}
