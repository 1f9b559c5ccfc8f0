package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sloth-meeplo/meeplo/backend/internal/auth"
	"github.com/sloth-meeplo/meeplo/backend/internal/members"
)

type tokenResponsePayload struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

type loginResponsePayload struct {
	tokenResponsePayload
	IsNewMember bool `json:"isNewMember"`
}

type locationPayload struct {
	ID      uint64  `json:"id"`
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type profileResponsePayload struct {
	ID             uint64            `json:"id"`
	Provider       string            `json:"provider"`
	Nickname       string            `json:"nickname"`
	ProfilePhoto   string            `json:"profilePhoto"`
	Status         string            `json:"status"`
	StartLocations []locationPayload `json:"startLocations"`
}

type profileUpdatePayload struct {
	Nickname     string `json:"nickname"`
	ProfilePhoto string `json:"profilePhoto"`
}

type locationRequestPayload struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	result, err := h.members.Login(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, loginResponsePayload{
		tokenResponsePayload: newTokenResponse(result.Tokens),
		IsNewMember:          result.IsNewMember,
	})
}

func (h *httpHandler) handleRefresh(c *gin.Context) {
	tokens, err := h.members.Refresh(c.Request.Context(), c.GetHeader("Authorization"), c.GetHeader(refreshHeader))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(tokens))
}

func (h *httpHandler) handleProfile(c *gin.Context) {
	detail, err := h.members.Profile(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, profileResponsePayload{
		ID:             detail.ID,
		Provider:       detail.Provider,
		Nickname:       detail.Nickname,
		ProfilePhoto:   detail.ProfilePhoto,
		Status:         string(detail.Status),
		StartLocations: newLocationPayloads(detail.StartLocations),
	})
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request profileUpdatePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.members.UpdateProfile(c.Request.Context(), c.GetHeader("Authorization"), members.ProfileUpdate{
		Nickname:     request.Nickname,
		ProfilePhoto: request.ProfilePhoto,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleDeactivate(c *gin.Context) {
	if err := h.members.Deactivate(c.Request.Context(), c.GetHeader("Authorization")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleListLocations(c *gin.Context) {
	locations, err := h.members.ListStartLocations(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"startLocations": newLocationPayloads(locations)})
}

func (h *httpHandler) handleAddLocation(c *gin.Context) {
	var request locationRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Address) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	location, err := h.members.AddStartLocation(c.Request.Context(), c.GetHeader("Authorization"), members.LocationRequest{
		Name:    request.Name,
		Address: request.Address,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, newLocationPayload(location))
}

func (h *httpHandler) handleDeleteLocation(c *gin.Context) {
	locationID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	if err := h.members.DeleteStartLocation(c.Request.Context(), c.GetHeader("Authorization"), locationID); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func newTokenResponse(tokens auth.TokenPair) tokenResponsePayload {
	return tokenResponsePayload{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresIn:    tokens.AccessExpiresIn,
		TokenType:    strings.TrimSpace(auth.BearerPrefix),
	}
}

func newLocationPayload(location members.LocationSummary) locationPayload {
	return locationPayload{
		ID:      location.ID,
		Name:    location.Name,
		Address: location.Address,
		Lat:     location.Lat,
		Lng:     location.Lng,
	}
}

func newLocationPayloads(locations []members.LocationSummary) []locationPayload {
	payloads := make([]locationPayload, 0, len(locations))
	for _, location := range locations {
		payloads = append(payloads, newLocationPayload(location))
	}
	return payloads
}
