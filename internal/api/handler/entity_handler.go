package handler

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
	"github.com/medtrack/field-gateway/internal/core/service"
)

// maxProxyBody bounds request bodies relayed to the backend.
const maxProxyBody = 1 << 20

// methodActions maps HTTP verbs onto capability actions.
var methodActions = map[string]domain.Action{
	http.MethodGet:    domain.ActionRead,
	http.MethodHead:   domain.ActionRead,
	http.MethodPost:   domain.ActionCreate,
	http.MethodPut:    domain.ActionUpdate,
	http.MethodPatch:  domain.ActionUpdate,
	http.MethodDelete: domain.ActionDelete,
}

// EntityHandler relays CRUD calls for the non-visit entity families
// (doctors, products, users, samples, orders, locations, dashboard) after the
// caller's capability for the resource and verb has been checked.
//
// Reads are keyed per session and path: a newer GET on the same path (a search
// with a different query, typically) cancels the older one, which is answered
// with domain.ErrSuperseded.
type EntityHandler struct {
	sessions ports.SessionService
	backend  ports.EntityBackend
	latest   *service.Latest
}

func NewEntityHandler(sessions ports.SessionService, backend ports.EntityBackend) *EntityHandler {
	return &EntityHandler{sessions: sessions, backend: backend, latest: service.NewLatest()}
}

// Proxy forwards the request to the backend under the caller's token.
//
// @Summary      Entity CRUD proxy
// @Tags         entities
// @Accept       json
// @Produce      json
// @Param        resource  path  string  true  "Entity family"
// @Success      200       {object}  map[string]any
// @Failure      403       {object}  map[string]string
// @Failure      404       {object}  map[string]string
// @Failure      405       {object}  map[string]string
// @Router       /api/{resource} [get]
func (h *EntityHandler) Proxy(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}

	resource := domain.Resource(c.Param("resource"))
	if resource == domain.ResourceVisits || resource == domain.ResourceUserLocations || !domain.IsKnownResource(resource) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown resource")
	}
	action, ok := methodActions[c.Request().Method]
	if !ok {
		return echo.NewHTTPError(http.StatusMethodNotAllowed, "method not allowed")
	}

	rest := strings.Trim(c.Param("*"), "/")
	if strings.Contains(rest, "..") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid path")
	}

	gated := scopedResource(id, resource, action, rest)
	if !h.sessions.Authorize(id, gated, action) {
		metrics.AuthorizationDenialsTotal.WithLabelValues(string(id.Role), string(gated), string(action)).Inc()
		return fmt.Errorf("%w: %s may not %s %s", domain.ErrForbidden, id.Role, action, gated)
	}

	path := "/" + string(resource)
	if rest != "" {
		path += "/" + rest
	}

	var body []byte
	if r := c.Request().Body; r != nil {
		body, err = io.ReadAll(io.LimitReader(r, maxProxyBody))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
		}
	}

	ctx := c.Request().Context()
	finish := func() bool { return true }
	if action == domain.ActionRead {
		ctx, finish = h.latest.Begin(ctx, readKey(ctxSessionID(c), path))
	}

	resp, err := h.backend.Forward(ctx, id.Token, c.Request().Method, path, c.QueryParams(), body)
	if !finish() {
		metrics.ProxyRequestsTotal.WithLabelValues(string(resource), "superseded").Inc()
		return domain.ErrSuperseded
	}
	if err != nil {
		metrics.ProxyRequestsTotal.WithLabelValues(string(resource), "error").Inc()
		return err
	}
	metrics.ProxyRequestsTotal.WithLabelValues(string(resource), strconv.Itoa(resp.StatusCode)).Inc()

	if len(resp.Body) == 0 || c.Request().Method == http.MethodHead {
		return c.NoContent(resp.StatusCode)
	}
	return c.Blob(resp.StatusCode, resp.ContentType, resp.Body)
}

// scopedResource returns the resource a request under resource/rest is
// checked against. Reads of location assignments under /users are gated by
// ResourceUserLocations: users/{id}/locations when a REP asks for their own
// id or a non-REP asks for anyone's, and users/by-location/{id} for non-REP
// roles. Every other path keeps its own resource.
func scopedResource(id domain.Identity, resource domain.Resource, action domain.Action, rest string) domain.Resource {
	if resource != domain.ResourceUsers || action != domain.ActionRead {
		return resource
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return resource
	}
	switch {
	case parts[0] == "by-location" && parts[1] != "":
		if id.Role == domain.RoleRep {
			return resource
		}
		return domain.ResourceUserLocations
	case parts[1] == "locations":
		userID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			return resource
		}
		if id.Role == domain.RoleRep && userID != id.UserID {
			return resource
		}
		return domain.ResourceUserLocations
	}
	return resource
}

// readKey scopes supersession to one session and one backend path. An empty
// session id disables tracking.
func readKey(sid, path string) string {
	if sid == "" {
		return ""
	}
	return sid + ":proxy:" + path
}
