package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

type SessionHandler struct {
	sessions ports.SessionService
}

func NewSessionHandler(sessions ports.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// Current returns the caller's identity as restored from the session store.
//
// @Summary      Current session
// @Tags         session
// @Produce      json
// @Success      200   {object}  sessionResponse
// @Failure      401   {object}  map[string]string
// @Router       /session [get]
func (h *SessionHandler) Current(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	sess := &domain.Session{ID: ctxSessionID(c), Identity: id}
	return c.JSON(http.StatusOK, newSessionResponse(sess, h.sessions.Capabilities(id)))
}

type capabilitiesResponse struct {
	Role         domain.Role         `json:"role"`
	Capabilities []domain.Capability `json:"capabilities"`
}

// Capabilities lists the resource/action pairs the caller may perform.
//
// @Summary      Session capabilities
// @Tags         session
// @Produce      json
// @Success      200   {object}  capabilitiesResponse
// @Failure      401   {object}  map[string]string
// @Router       /session/capabilities [get]
func (h *SessionHandler) Capabilities(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, capabilitiesResponse{Role: id.Role, Capabilities: h.sessions.Capabilities(id)})
}
