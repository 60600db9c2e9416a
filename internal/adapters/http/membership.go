package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Mimic/internal/adapters/signal"
	"github.com/dkeye/Mimic/internal/app/orch"
	"github.com/dkeye/Mimic/internal/domain"
	"github.com/dkeye/Mimic/internal/store"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type membership struct {
	store  *store.Store
	orch   *orch.Orchestrator
	signal *signal.SignalWSController
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type joinRequest struct {
	DisplayName string `json:"display_name"`
}

type joinResponse struct {
	ParticipantID domain.ParticipantID `json:"participant_id"`
	SessionID     domain.RoomID        `json:"session_id"`
	Token         string               `json:"token"`
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrSessionNotFound), errors.Is(err, store.ErrParticipantNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrSessionInactive):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrDisplayNameEmpty), errors.Is(err, domain.ErrDisplayNameTooLong):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *membership) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	room, err := h.store.CreateSession(req.Name)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func (h *membership) getSession(c *gin.Context) {
	room, err := h.store.GetSession(domain.RoomID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

func (h *membership) endSession(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	evicted, err := h.store.EndSession(id)
	if err != nil {
		fail(c, err)
		return
	}
	for _, p := range evicted {
		h.signal.Evict(p.ID)
	}
	h.orch.EvictRoom(id)
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Int("evicted", len(evicted)).Msg("session ended")
	c.Status(http.StatusNoContent)
}

func (h *membership) joinSession(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad_payload"})
		return
	}
	p, err := h.store.JoinSession(domain.RoomID(c.Param("id")), req.DisplayName)
	if err != nil {
		fail(c, err)
		return
	}

	sess := sessions.Default(c)
	sess.Set(signal.TokenKey, p.Token)
	if err := sess.Save(); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("save cookie session")
	}

	c.JSON(http.StatusCreated, joinResponse{ParticipantID: p.ID, SessionID: p.SessionID, Token: p.Token})
}

func (h *membership) listParticipants(c *gin.Context) {
	list, err := h.store.ListParticipants(domain.RoomID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *membership) leaveSession(c *gin.Context) {
	p, err := h.store.LeaveSession(domain.ParticipantID(c.Param("id")))
	if err != nil {
		fail(c, err)
		return
	}
	h.signal.Evict(p.ID)
	c.Status(http.StatusNoContent)
}
