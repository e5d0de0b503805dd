package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/api/metrics"
	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

type VisitHandler struct {
	visits ports.VisitService
}

func NewVisitHandler(visits ports.VisitService) *VisitHandler {
	return &VisitHandler{visits: visits}
}

// StartVisit checks the caller in with a doctor.
//
// @Summary      Start a visit
// @Tags         visits
// @Accept       json
// @Produce      json
// @Param        body  body      startVisitRequest  true  "Visit start"
// @Success      201   {object}  domain.Visit
// @Failure      403   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /visits/start [post]
func (h *VisitHandler) StartVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	var req startVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	visit, err := h.visits.StartVisit(c.Request().Context(), id, req.toInput())
	observe("start", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, visit)
}

// EndVisit checks the caller out of an in-progress visit.
//
// @Summary      End a visit
// @Tags         visits
// @Accept       json
// @Produce      json
// @Param        id    path      int              true  "Visit ID"
// @Param        body  body      endVisitRequest  false "Closing notes"
// @Success      200   {object}  domain.Visit
// @Failure      403   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /visits/{id}/end [put]
func (h *VisitHandler) EndVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req endVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	visit, err := h.visits.EndVisit(c.Request().Context(), id, visitID, req.Notes)
	observe("end", err)
	if err != nil {
		return err
	}
	if visit.CheckOut != nil {
		metrics.VisitDuration.Observe(visit.CheckOut.Sub(visit.CheckIn).Seconds())
	}
	return c.JSON(http.StatusOK, visit)
}

// GetActiveVisit returns the user's in-progress visit, if any.
//
// @Summary      Active visit of a user
// @Tags         visits
// @Produce      json
// @Param        user_id  path      int  true  "User ID"
// @Success      200      {object}  activeVisitResponse
// @Failure      403      {object}  map[string]string
// @Router       /visits/user/{user_id}/active [get]
func (h *VisitHandler) GetActiveVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	userID, err := pathID(c, "user_id")
	if err != nil {
		return err
	}

	visit, err := h.visits.GetActiveVisit(c.Request().Context(), id, userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, activeVisitResponse{Active: visit != nil, Visit: visit})
}

// GetVisit returns a single visit.
//
// @Summary      Get a visit
// @Tags         visits
// @Produce      json
// @Param        id   path      int  true  "Visit ID"
// @Success      200  {object}  domain.Visit
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /visits/{id} [get]
func (h *VisitHandler) GetVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	visit, err := h.visits.GetVisit(c.Request().Context(), id, visitID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visit)
}

// ListVisits lists visits by user, doctor or location, optionally within a
// date range. A newer listing from the same session supersedes an older one.
//
// @Summary      List visits
// @Tags         visits
// @Produce      json
// @Param        user_id      query     int     false  "User ID"
// @Param        doctor_id    query     int     false  "Doctor ID"
// @Param        location_id  query     int     false  "Location ID"
// @Param        from         query     string  false  "Start date (YYYY-MM-DD)"
// @Param        to           query     string  false  "End date (YYYY-MM-DD)"
// @Success      200          {object}  visitListResponse
// @Failure      403          {object}  map[string]string
// @Failure      409          {object}  map[string]string
// @Failure      422          {object}  map[string]string
// @Router       /visits [get]
func (h *VisitHandler) ListVisits(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	var q listVisitsQuery
	if err := c.Bind(&q); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid query")
	}
	filter, err := q.toFilter()
	if err != nil {
		return err
	}

	key := ""
	if sid := ctxSessionID(c); sid != "" {
		key = sid + ":visits"
	}
	visits, err := h.visits.ListVisits(c.Request().Context(), id, key, filter)
	if err != nil {
		return err
	}
	if visits == nil {
		visits = []domain.Visit{}
	}
	return c.JSON(http.StatusOK, visitListResponse{Visits: visits, Total: len(visits)})
}

// EditVisit applies a privileged metadata correction.
//
// @Summary      Edit a visit
// @Tags         visits
// @Accept       json
// @Produce      json
// @Param        id    path      int               true  "Visit ID"
// @Param        body  body      editVisitRequest  true  "Fields to overwrite"
// @Success      200   {object}  domain.Visit
// @Failure      403   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /visits/{id} [put]
func (h *VisitHandler) EditVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req editVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	visit, err := h.visits.EditVisit(c.Request().Context(), id, visitID, req.toInput())
	observe("edit", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visit)
}

// CancelVisit is the admin override for a visit left in progress.
//
// @Summary      Cancel a visit
// @Tags         visits
// @Accept       json
// @Produce      json
// @Param        id    path      int                 true  "Visit ID"
// @Param        body  body      cancelVisitRequest  false "Reason"
// @Success      200   {object}  domain.Visit
// @Failure      403   {object}  map[string]string
// @Failure      422   {object}  map[string]string
// @Router       /visits/{id}/cancel [put]
func (h *VisitHandler) CancelVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var req cancelVisitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	visit, err := h.visits.CancelVisit(c.Request().Context(), id, visitID, req.Reason)
	observe("cancel", err)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, visit)
}

// DeleteVisit removes a visit record.
//
// @Summary      Delete a visit
// @Tags         visits
// @Param        id   path  int  true  "Visit ID"
// @Success      204
// @Failure      403  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /visits/{id} [delete]
func (h *VisitHandler) DeleteVisit(c echo.Context) error {
	id, err := ctxIdentity(c)
	if err != nil {
		return err
	}
	visitID, err := pathID(c, "id")
	if err != nil {
		return err
	}

	err = h.visits.DeleteVisit(c.Request().Context(), id, visitID)
	observe("delete", err)
	if err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func observe(operation string, err error) {
	metrics.VisitTransitionsTotal.WithLabelValues(operation, transitionResult(err)).Inc()
}

func transitionResult(err error) string {
	var conflict *domain.ActiveVisitError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &conflict):
		return "active_visit_exists"
	case errors.Is(err, domain.ErrVisitNotActive):
		return "not_active"
	case errors.Is(err, domain.ErrVisitStartPending):
		return "pending"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "error"
	}
}
