package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/medtrack/field-gateway/internal/core/domain"
	"github.com/medtrack/field-gateway/internal/core/ports"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
	Role  string `json:"role"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Phone    string `json:"phone,omitempty"`
}

type userDTO struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	Phone    string `json:"phone"`
	IsActive *bool  `json:"isActive"`
}

var _ ports.AuthBackend = (*Client)(nil)

// Login calls POST /auth/login. Any rejection of the credentials becomes
// domain.ErrInvalidCredentials.
func (c *Client) Login(ctx context.Context, email, password string) (*ports.LoginResult, error) {
	body, err := json.Marshal(loginRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	status, _, data, err := c.call(ctx, http.MethodPost, "/auth/login", "", nil, body)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusOK:
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, errorMessage(data))
	case status >= 500 && rejectsCredentials(errorMessage(data)):
		// The original backend reports bad credentials as an unhandled 500.
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, errorMessage(data))
	default:
		return nil, mapStatus(status, data)
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Token == "" {
		return nil, fmt.Errorf("%w: login returned no token", domain.ErrInvalidCredentials)
	}
	return &ports.LoginResult{Token: resp.Token, Role: resp.Role, Name: resp.Name, Email: resp.Email}, nil
}

func rejectsCredentials(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "invalid email or password") || strings.Contains(msg, "deactivated")
}

// Register calls POST /auth/register.
func (c *Client) Register(ctx context.Context, in ports.RegisterInput) (*domain.User, error) {
	var resp userDTO
	req := registerRequest{Name: in.Name, Email: in.Email, Password: in.Password, Role: in.Role, Phone: in.Phone}
	if err := c.doJSON(ctx, http.MethodPost, "/auth/register", "", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	return resp.toDomain(), nil
}

func (u userDTO) toDomain() *domain.User {
	active := true
	if u.IsActive != nil {
		active = *u.IsActive
	}
	return &domain.User{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     domain.Role(u.Role),
		Phone:    u.Phone,
		IsActive: active,
	}
}
