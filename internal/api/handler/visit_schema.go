package handler

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

const dateLayout = "2006-01-02"

// ── Requests ─────────────────────────────────────────────────────────────────

type startVisitRequest struct {
	// UserID is only honoured for ADMIN callers; zero means the caller.
	UserID     int64  `json:"user_id,omitempty"     validate:"omitempty,gt=0"`
	DoctorID   int64  `json:"doctor_id"             validate:"required,gt=0"`
	LocationID *int64 `json:"location_id,omitempty" validate:"omitempty,gt=0"`
	Notes      string `json:"notes,omitempty"       validate:"max=4000"`
}

func (r startVisitRequest) toInput() ports.StartVisitInput {
	return ports.StartVisitInput{
		UserID:     r.UserID,
		DoctorID:   r.DoctorID,
		LocationID: r.LocationID,
		Notes:      r.Notes,
	}
}

type endVisitRequest struct {
	Notes string `json:"notes,omitempty" validate:"max=4000"`
}

type cancelVisitRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=4000"`
}

type editVisitRequest struct {
	Status   *string    `json:"status,omitempty" validate:"omitempty,oneof=IN_PROGRESS COMPLETED CANCELLED"`
	Notes    *string    `json:"notes,omitempty"`
	CheckIn  *time.Time `json:"check_in,omitempty"`
	CheckOut *time.Time `json:"check_out,omitempty"`
}

func (r editVisitRequest) toInput() ports.EditVisitInput {
	in := ports.EditVisitInput{Notes: r.Notes, CheckIn: r.CheckIn, CheckOut: r.CheckOut}
	if r.Status != nil {
		s := domain.VisitStatus(*r.Status)
		in.Status = &s
	}
	return in
}

// listVisitsQuery is bound from the query string. Dates are YYYY-MM-DD.
type listVisitsQuery struct {
	UserID     int64  `query:"user_id"`
	DoctorID   int64  `query:"doctor_id"`
	LocationID int64  `query:"location_id"`
	From       string `query:"from"`
	To         string `query:"to"`
}

func (q listVisitsQuery) toFilter() (ports.VisitFilter, error) {
	f := ports.VisitFilter{UserID: q.UserID, DoctorID: q.DoctorID, LocationID: q.LocationID}
	var err error
	if f.From, err = parseDate("from", q.From); err != nil {
		return f, err
	}
	if f.To, err = parseDate("to", q.To); err != nil {
		return f, err
	}
	return f, nil
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be a date (YYYY-MM-DD)", domain.ErrValidation, field)
	}
	return t, nil
}

func pathID(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, name)
	}
	return id, nil
}

// ── Responses ────────────────────────────────────────────────────────────────

type activeVisitResponse struct {
	Active bool          `json:"active"`
	Visit  *domain.Visit `json:"visit"`
}

type visitListResponse struct {
	Visits []domain.Visit `json:"visits"`
	Total  int            `json:"total"`
}
