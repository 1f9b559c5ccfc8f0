package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sloth-meeplo/meeplo/backend/internal/schedules"
	"go.uber.org/zap"
)

const (
	EventScheduleMemberChange = "schedule-member-change"
	eventHeartbeat            = "heartbeat"
	eventSourceBackend        = "meeplo-backend"
)

// ScheduleEventDispatcher fans committed schedule events out to stream subscribers of that schedule.
// Slow subscribers drop events rather than block publishers.
type ScheduleEventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[uint64]map[int64]*scheduleSubscriber
	nextID      int64
	bufferSize  int
	closed      chan struct{}
	closeOnce   sync.Once
}

type scheduleSubscriber struct {
	id     int64
	stream chan schedules.Event
}

func NewScheduleEventDispatcher() *ScheduleEventDispatcher {
	return &ScheduleEventDispatcher{
		subscribers: make(map[uint64]map[int64]*scheduleSubscriber),
		bufferSize:  16,
		closed:      make(chan struct{}),
	}
}

// Close ends every open stream. main registers it with http.Server.RegisterOnShutdown.
func (d *ScheduleEventDispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
}

// Done is closed once the dispatcher is closed.
func (d *ScheduleEventDispatcher) Done() <-chan struct{} {
	return d.closed
}

// Subscribe registers a stream for the schedule until ctx ends or cleanup runs.
func (d *ScheduleEventDispatcher) Subscribe(ctx context.Context, scheduleID uint64) (<-chan schedules.Event, func()) {
	if scheduleID == 0 {
		ch := make(chan schedules.Event)
		close(ch)
		return ch, func() {}
	}
	subscriber := &scheduleSubscriber{
		id:     d.nextSequence(),
		stream: make(chan schedules.Event, d.bufferSize),
	}
	d.registerSubscriber(scheduleID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(scheduleID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish satisfies schedules.Publisher.
func (d *ScheduleEventDispatcher) Publish(event schedules.Event) {
	if event.ScheduleID == 0 || event.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.ScheduleID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*scheduleSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *ScheduleEventDispatcher) subscriberCount(scheduleID uint64) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers[scheduleID])
}

func (d *ScheduleEventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *ScheduleEventDispatcher) registerSubscriber(scheduleID uint64, subscriber *scheduleSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[scheduleID]; !ok {
		d.subscribers[scheduleID] = make(map[int64]*scheduleSubscriber)
	}
	d.subscribers[scheduleID][subscriber.id] = subscriber
}

func (d *ScheduleEventDispatcher) unregisterSubscriber(scheduleID uint64, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[scheduleID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, scheduleID)
		}
	}
	d.mu.Unlock()
}

type scheduleEventPayload struct {
	ScheduleID uint64 `json:"scheduleId"`
	MemberID   uint64 `json:"memberId"`
	Change     string `json:"change"`
	Timestamp  string `json:"timestamp"`
}

type heartbeatPayload struct {
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
}

func (h *httpHandler) handleScheduleStream(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	memberID := c.GetUint64(memberIDContextKey)
	participant, err := h.schedules.IsParticipant(c.Request.Context(), memberID, scheduleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !participant {
		h.writeError(c, schedules.ErrUnauthorized)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	stream, cleanup := h.events.Subscribe(ctx, scheduleID)
	defer cleanup()

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("schedule stream opened", zap.Uint64("schedule_id", scheduleID), zap.Uint64("member_id", memberID))

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.events.Done():
			h.logger.Debug("schedule stream closed for shutdown", zap.Uint64("schedule_id", scheduleID))
			return
		case event, open := <-stream:
			if !open {
				return
			}
			c.SSEvent(EventScheduleMemberChange, scheduleEventPayload{
				ScheduleID: event.ScheduleID,
				MemberID:   event.MemberID,
				Change:     string(event.Type),
				Timestamp:  event.Timestamp.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case now := <-heartbeat.C:
			c.SSEvent(eventHeartbeat, heartbeatPayload{
				Source:    eventSourceBackend,
				Timestamp: now.UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		}
	}
}
