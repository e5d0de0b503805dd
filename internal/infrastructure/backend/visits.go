package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

const dateLayout = "2006-01-02"

// visitDTO mirrors the backend's VisitDto.
type visitDTO struct {
	ID           int64      `json:"id"`
	UserID       int64      `json:"userId"`
	UserName     string     `json:"userName"`
	DoctorID     int64      `json:"doctorId"`
	DoctorName   string     `json:"doctorName"`
	LocationID   *int64     `json:"locationId"`
	LocationName string     `json:"locationName"`
	VisitDate    string     `json:"visitDate"`
	CheckInTime  *localTime `json:"checkInTime"`
	CheckOutTime *localTime `json:"checkOutTime"`
	Status       string     `json:"status"`
	Notes        string     `json:"notes"`
	CreatedAt    *localTime `json:"createdAt"`
	UpdatedAt    *localTime `json:"updatedAt"`
}

func (d *visitDTO) toDomain() domain.Visit {
	v := domain.Visit{
		ID:           d.ID,
		UserID:       d.UserID,
		UserName:     d.UserName,
		DoctorID:     d.DoctorID,
		DoctorName:   d.DoctorName,
		LocationID:   d.LocationID,
		LocationName: d.LocationName,
		Status:       domain.VisitStatus(d.Status),
		VisitDate:    d.VisitDate,
		CheckOut:     d.CheckOutTime.ptr(),
		Notes:        d.Notes,
	}
	if d.CheckInTime != nil {
		v.CheckIn = d.CheckInTime.Time
	}
	if d.CreatedAt != nil {
		v.CreatedAt = d.CreatedAt.Time
	}
	if d.UpdatedAt != nil {
		v.UpdatedAt = d.UpdatedAt.Time
	}
	return v
}

type startVisitRequest struct {
	UserID     int64  `json:"userId"`
	DoctorID   int64  `json:"doctorId"`
	LocationID *int64 `json:"locationId,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

type endVisitRequest struct {
	Notes string `json:"notes"`
}

type updateVisitRequest struct {
	Status       *string    `json:"status,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	CheckInTime  *localTime `json:"checkInTime,omitempty"`
	CheckOutTime *localTime `json:"checkOutTime,omitempty"`
}

var _ ports.VisitBackend = (*Client)(nil)

func visitPath(id int64) string {
	return "/visits/" + strconv.FormatInt(id, 10)
}

func (c *Client) visit(ctx context.Context, method, path, token string, in any) (*domain.Visit, error) {
	var dto visitDTO
	if err := c.doJSON(ctx, method, path, token, nil, in, &dto); err != nil {
		return nil, err
	}
	v := dto.toDomain()
	return &v, nil
}

func (c *Client) visits(ctx context.Context, path, token string, query url.Values) ([]domain.Visit, error) {
	var dtos []visitDTO
	if err := c.doJSON(ctx, http.MethodGet, path, token, query, nil, &dtos); err != nil {
		return nil, err
	}
	out := make([]domain.Visit, 0, len(dtos))
	for i := range dtos {
		out = append(out, dtos[i].toDomain())
	}
	return out, nil
}

func (c *Client) ActiveVisits(ctx context.Context, token string, userID int64) ([]domain.Visit, error) {
	return c.visits(ctx, fmt.Sprintf("/visits/user/%d/active", userID), token, nil)
}

// StartVisit reports a collision with the user's IN_PROGRESS visit as
// *domain.ActiveVisitError: a 409, or the 400 "already has an active visit"
// the backend answers with.
func (c *Client) StartVisit(ctx context.Context, token string, req ports.StartVisitRequest) (*domain.Visit, error) {
	v, err := c.visit(ctx, http.MethodPost, "/visits/start", token, startVisitRequest(req))
	if err != nil && isActiveVisitConflict(err) {
		return nil, &domain.ActiveVisitError{UserID: req.UserID}
	}
	return v, err
}

func isActiveVisitConflict(err error) bool {
	if errors.Is(err, domain.ErrConflict) {
		return true
	}
	return errors.Is(err, domain.ErrValidation) && strings.Contains(strings.ToLower(err.Error()), "active visit")
}

func (c *Client) EndVisit(ctx context.Context, token string, visitID int64, notes string) (*domain.Visit, error) {
	return c.visit(ctx, http.MethodPut, visitPath(visitID)+"/end", token, endVisitRequest{Notes: notes})
}

func (c *Client) GetVisit(ctx context.Context, token string, visitID int64) (*domain.Visit, error) {
	return c.visit(ctx, http.MethodGet, visitPath(visitID), token, nil)
}

func (c *Client) UpdateVisit(ctx context.Context, token string, visitID int64, upd ports.VisitUpdate) (*domain.Visit, error) {
	req := updateVisitRequest{
		Notes:        upd.Notes,
		CheckInTime:  newLocalTime(upd.CheckIn),
		CheckOutTime: newLocalTime(upd.CheckOut),
	}
	if upd.Status != nil {
		s := string(*upd.Status)
		req.Status = &s
	}
	return c.visit(ctx, http.MethodPut, visitPath(visitID), token, req)
}

func (c *Client) DeleteVisit(ctx context.Context, token string, visitID int64) error {
	return c.doJSON(ctx, http.MethodDelete, visitPath(visitID), token, nil, nil, nil)
}

// ListVisits picks the most specific backend listing for q. Location listings
// have no date-range variant upstream and are filtered here.
func (c *Client) ListVisits(ctx context.Context, token string, q ports.VisitQuery) ([]domain.Visit, error) {
	ranged := !q.From.IsZero() && !q.To.IsZero()

	var path string
	switch {
	case q.UserID > 0:
		path = fmt.Sprintf("/visits/user/%d", q.UserID)
	case q.DoctorID > 0:
		path = fmt.Sprintf("/visits/doctor/%d", q.DoctorID)
	case q.LocationID > 0:
		visits, err := c.visits(ctx, fmt.Sprintf("/visits/location/%d", q.LocationID), token, nil)
		if err != nil || !ranged {
			return visits, err
		}
		return filterByDate(visits, q), nil
	default:
		path = "/visits"
	}

	var query url.Values
	if ranged {
		path += "/date-range"
		query = url.Values{
			"startDate": {q.From.Format(dateLayout)},
			"endDate":   {q.To.Format(dateLayout)},
		}
	}
	return c.visits(ctx, path, token, query)
}

func filterByDate(visits []domain.Visit, q ports.VisitQuery) []domain.Visit {
	from := q.From.Format(dateLayout)
	to := q.To.Format(dateLayout)
	out := visits[:0]
	for _, v := range visits {
		day := v.VisitDate
		if day == "" {
			day = v.CheckIn.Format(dateLayout)
		}
		if day >= from && day <= to {
			out = append(out, v)
		}
	}
	return out
}
