package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logging"
	"github.com/MrEthical07/authcore/middleware"
	"github.com/labstack/echo/v4"
)

type AuthHTTP struct {
	Engine *authcore.Engine
	Logger *slog.Logger
}

type credentialsRequest struct {
	Identifier string `json:"identifier"`
	Secret     string `json:"secret"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentSecret string `json:"current_secret"`
	NewSecret     string `json:"new_secret"`
}

type tokenResponse struct {
	TokenType        string        `json:"token_type"`
	UserID           string        `json:"user_id"`
	Role             authcore.Role `json:"role"`
	AccessToken      string        `json:"access_token"`
	AccessExpiresAt  time.Time     `json:"access_expires_at"`
	RefreshToken     string        `json:"refresh_token"`
	RefreshExpiresAt time.Time     `json:"refresh_expires_at"`
}

func newTokenResponse(res *authcore.LoginResult) tokenResponse {
	return tokenResponse{
		TokenType:        "Bearer",
		UserID:           res.UserID,
		Role:             res.Role,
		AccessToken:      res.AccessToken,
		AccessExpiresAt:  res.AccessExpiresAt,
		RefreshToken:     res.RefreshToken,
		RefreshExpiresAt: res.RefreshExpiresAt,
	}
}

func (h *AuthHTTP) logger(c echo.Context, handler string) *slog.Logger {
	return logging.FromContext(c.Request().Context(), h.Logger).With(slog.String("handler", handler))
}

func (h *AuthHTTP) Register(c echo.Context) error {
	l := h.logger(c, "auth_register")
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return renderError(c, l, authcore.ErrInvalidRequest)
	}

	user, err := h.Engine.Register(c.Request().Context(), req.Identifier, req.Secret)
	if err != nil {
		return renderError(c, l, err)
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"user_id":    user.UserID,
		"identifier": user.Identifier,
		"role":       user.Role,
		"created_at": user.CreatedAt,
	})
}

func (h *AuthHTTP) Login(c echo.Context) error {
	l := h.logger(c, "auth_login")
	var req credentialsRequest
	if err := c.Bind(&req); err != nil {
		return renderError(c, l, authcore.ErrInvalidRequest)
	}

	res, err := h.Engine.Login(c.Request().Context(), req.Identifier, req.Secret)
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, newTokenResponse(res))
}

func (h *AuthHTTP) Refresh(c echo.Context) error {
	l := h.logger(c, "auth_refresh")
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return renderError(c, l, authcore.ErrInvalidRequest)
	}

	res, err := h.Engine.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return renderError(c, l, err)
	}
	return c.JSON(http.StatusOK, newTokenResponse(res))
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	l := h.logger(c, "auth_logout")
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return renderError(c, l, authcore.ErrInvalidRequest)
	}

	if err := h.Engine.Logout(c.Request().Context(), req.RefreshToken); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// LogoutSession ends the family of the caller's access token.
func (h *AuthHTTP) LogoutSession(c echo.Context) error {
	l := h.logger(c, "auth_logout_session")
	ctx := c.Request().Context()
	caller, _ := middleware.AuthResultFromContext(ctx)

	if err := h.Engine.LogoutFamily(ctx, caller.FamilyID); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHTTP) ChangePassword(c echo.Context) error {
	l := h.logger(c, "auth_change_password")
	var req changePasswordRequest
	if err := c.Bind(&req); err != nil {
		return renderError(c, l, authcore.ErrInvalidRequest)
	}

	ctx := c.Request().Context()
	caller, _ := middleware.AuthResultFromContext(ctx)
	if err := h.Engine.ChangePassword(ctx, caller.UserID, req.CurrentSecret, req.NewSecret); err != nil {
		return renderError(c, l, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHTTP) Me(c echo.Context) error {
	caller, _ := middleware.AuthResultFromContext(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{
		"user_id":    caller.UserID,
		"role":       caller.Role,
		"family_id":  caller.FamilyID,
		"expires_at": caller.ExpiresAt,
	})
}
