package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dev-dantez/elimatech-learn-evolve-thrive/internal/middleware"
)

// IdentityResponse describes the caller behind a verified ID token
type IdentityResponse struct {
	UID     string `json:"uid"`
	Email   string `json:"email,omitempty"`
	IsAdmin bool   `json:"isAdmin"`
}

// AuthHandler handles authentication endpoints
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// Me echoes the identity RequireAuth extracted from the bearer token, so a
// dashboard can tell which tutor id to query.
func (h *AuthHandler) Me(c echo.Context) error {
	uid := getStringFromContext(c, middleware.ContextUserUID)
	if uid == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	isAdmin, _ := c.Get(middleware.ContextIsAdmin).(bool)

	return c.JSON(http.StatusOK, IdentityResponse{
		UID:     uid,
		Email:   getStringFromContext(c, middleware.ContextUserEmail),
		IsAdmin: isAdmin,
	})
}
