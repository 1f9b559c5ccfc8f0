package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sloth-meeplo/meeplo/backend/internal/schedules"
)

type scheduleRequestPayload struct {
	Name     string    `json:"name"`
	Date     time.Time `json:"date"`
	Location string    `json:"location"`
	Keywords []string  `json:"keywords"`
}

type scheduleSummaryPayload struct {
	ID          uint64    `json:"id"`
	Name        string    `json:"name"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	Keywords    []string  `json:"keywords"`
	Status      string    `json:"status"`
	Role        string    `json:"role"`
	MemberCount int       `json:"memberCount"`
}

type participantPayload struct {
	MemberID     uint64   `json:"memberId"`
	Nickname     string   `json:"nickname"`
	ProfilePhoto string   `json:"profilePhoto"`
	Role         string   `json:"role"`
	Address      *string  `json:"address"`
	Lat          *float64 `json:"lat"`
	Lng          *float64 `json:"lng"`
}

type scheduleDetailPayload struct {
	scheduleSummaryPayload
	Members []participantPayload `json:"members"`
}

type scheduleLocationPayload struct {
	LocationID uint64 `json:"locationId"`
}

func (h *httpHandler) handleCreateSchedule(c *gin.Context) {
	var request scheduleRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	summary, err := h.schedules.CreateSchedule(c.Request.Context(), c.GetUint64(memberIDContextKey), schedules.ScheduleRequest{
		Name:     request.Name,
		Date:     request.Date,
		Location: request.Location,
		Keywords: request.Keywords,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newScheduleSummaryPayload(summary))
}

func (h *httpHandler) handleListSchedules(c *gin.Context) {
	summaries, err := h.schedules.ListSchedules(c.Request.Context(), c.GetUint64(memberIDContextKey))
	if err != nil {
		h.writeError(c, err)
		return
	}
	payloads := make([]scheduleSummaryPayload, 0, len(summaries))
	for _, summary := range summaries {
		payloads = append(payloads, newScheduleSummaryPayload(summary))
	}
	c.JSON(http.StatusOK, gin.H{"schedules": payloads})
}

func (h *httpHandler) handleGetSchedule(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.schedules.GetSchedule(c.Request.Context(), c.GetUint64(memberIDContextKey), scheduleID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	participants := make([]participantPayload, 0, len(detail.Participants))
	for _, participant := range detail.Participants {
		participants = append(participants, participantPayload{
			MemberID:     participant.MemberID,
			Nickname:     participant.Nickname,
			ProfilePhoto: participant.ProfilePhoto,
			Role:         string(participant.Role),
			Address:      participant.Address,
			Lat:          participant.Lat,
			Lng:          participant.Lng,
		})
	}
	c.JSON(http.StatusOK, scheduleDetailPayload{
		scheduleSummaryPayload: newScheduleSummaryPayload(detail.ScheduleSummary),
		Members:                participants,
	})
}

func (h *httpHandler) handleJoinSchedule(c *gin.Context) {
	h.applyScheduleAction(c, h.schedules.Join)
}

func (h *httpHandler) handleLeaveSchedule(c *gin.Context) {
	h.applyScheduleAction(c, h.schedules.Leave)
}

func (h *httpHandler) handleCloseSchedule(c *gin.Context) {
	h.applyScheduleAction(c, h.schedules.CloseSchedule)
}

func (h *httpHandler) handleSetScheduleLocation(c *gin.Context) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var request scheduleLocationPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.LocationID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.schedules.SetStartLocation(c.Request.Context(), c.GetUint64(memberIDContextKey), scheduleID, request.LocationID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) applyScheduleAction(c *gin.Context, change func(ctx context.Context, memberID, scheduleID uint64) error) {
	scheduleID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := change(c.Request.Context(), c.GetUint64(memberIDContextKey), scheduleID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func newScheduleSummaryPayload(summary schedules.ScheduleSummary) scheduleSummaryPayload {
	return scheduleSummaryPayload{
		ID:          summary.ID,
		Name:        summary.Name,
		Date:        summary.Date,
		Location:    summary.Location,
		Keywords:    summary.Keywords,
		Status:      string(summary.Status),
		Role:        string(summary.Role),
		MemberCount: summary.MemberCount,
	}
}
