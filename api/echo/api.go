package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/internal/audit"
	"github.com/himawari-dev/line-token-auth/middleware"
	"github.com/himawari-dev/line-token-auth/services"
)

// AuthAPI holds the authentication endpoints and their dependencies.
type AuthAPI struct {
	users  domain.UserRepository
	issuer *services.SessionIssuer
	guard  *services.SessionGuard
	liffID string
}

// NewAuthAPI initializes the authentication API.
func NewAuthAPI(users domain.UserRepository, issuer *services.SessionIssuer, guard *services.SessionGuard, liffID string) *AuthAPI {
	return &AuthAPI{
		users:  users,
		issuer: issuer,
		guard:  guard,
		liffID: liffID,
	}
}

// RegisterRoutes registers the authentication routes.
func (a *AuthAPI) RegisterRoutes(e *echo.Echo) {
	requireSession := middleware.RequireSession(a.guard)

	e.POST("/api/auth", a.SignUpHandler)
	e.DELETE("/api/auth", a.DestroyHandler, requireSession)
	e.POST("/api/auth/sign_in", a.SignInHandler)
	e.DELETE("/api/auth/sign_out", a.SignOutHandler)
	e.GET("/api/auth/validate_token", a.ValidateTokenHandler, requireSession)

	e.GET("/api/me", a.MeHandler, requireSession)
	e.GET("/api/config/liff_id", a.LiffIDHandler)
}

// authParams are the credentials a device presents to register or sign in.
type authParams struct {
	UID         string `json:"uid" form:"uid"`
	AccessToken string `json:"access_token" form:"access_token"`
}

// bindAuthParams reads uid and access_token from the body, falling back to
// the request headers for clients that send the header form.
func bindAuthParams(c echo.Context) authParams {
	var params authParams
	_ = c.Bind(&params)
	if params.UID == "" {
		params.UID = c.Request().Header.Get(middleware.HeaderUID)
	}
	if params.AccessToken == "" {
		params.AccessToken = c.Request().Header.Get("access_token")
	}
	return params
}

func userData(user *domain.User) echo.Map {
	return echo.Map{
		"id":           user.ID,
		"provider":     string(user.Provider),
		"uid":          user.ExternalUID,
		"display_name": user.DisplayName,
		"avatar_url":   user.AvatarURL,
	}
}

func successBody(user *domain.User) echo.Map {
	return echo.Map{"status": "success", "data": userData(user)}
}

// SignUpHandler registers a new account from a verified provider token and
// signs its first device in.
func (a *AuthAPI) SignUpHandler(c echo.Context) error {
	params := bindAuthParams(c)
	if params.UID == "" || params.AccessToken == "" {
		return c.JSON(http.StatusUnprocessableEntity, middleware.NewErrorBody("uid and access_token are required."))
	}

	user, session, err := a.issuer.SignUp(c.Request().Context(), params.UID, params.AccessToken)
	if err != nil {
		var authErr *domain.AuthError
		switch {
		case errors.As(err, &authErr):
			return c.JSON(authErr.Code, middleware.NewErrorBody(authErr.Message))
		case errors.Is(err, domain.ErrDuplicateIdentity):
			return c.JSON(http.StatusUnprocessableEntity, middleware.NewErrorBody("Uid has already been taken"))
		default:
			log.Error().Err(err).Str("uid", params.UID).Msg("Sign-up failed")
			return c.JSON(http.StatusInternalServerError, middleware.NewErrorBody("An unexpected error occurred."))
		}
	}

	middleware.WriteSessionHeaders(c.Response().Header(), user.ExternalUID, session.ClientID, session.AccessToken, session.ExpiresAt)
	return c.JSON(http.StatusOK, successBody(user))
}

// SignInHandler verifies the provider token and mints a session for a new
// device slot. All verification failures collapse into one 401 message so
// callers cannot probe which account exists.
func (a *AuthAPI) SignInHandler(c echo.Context) error {
	params := bindAuthParams(c)
	if params.UID == "" || params.AccessToken == "" {
		return c.JSON(http.StatusUnauthorized, middleware.NewErrorBody("Invalid login credentials. Please try again."))
	}

	user, session, err := a.issuer.SignIn(c.Request().Context(), params.UID, params.AccessToken)
	if err != nil {
		var authErr *domain.AuthError
		switch {
		case errors.As(err, &authErr), errors.Is(err, domain.ErrUserNotFound):
			return c.JSON(http.StatusUnauthorized, middleware.NewErrorBody("Invalid login credentials. Please try again."))
		default:
			log.Error().Err(err).Str("uid", params.UID).Msg("Sign-in failed")
			return c.JSON(http.StatusInternalServerError, middleware.NewErrorBody("An unexpected error occurred."))
		}
	}

	middleware.WriteSessionHeaders(c.Response().Header(), user.ExternalUID, session.ClientID, session.AccessToken, session.ExpiresAt)
	return c.JSON(http.StatusOK, successBody(user))
}

// SignOutHandler revokes the presented device slot. Repeating a sign-out is
// harmless, but a request without a resolvable user gets a 404.
func (a *AuthAPI) SignOutHandler(c echo.Context) error {
	uid := c.Request().Header.Get(middleware.HeaderUID)
	clientID := c.Request().Header.Get(middleware.HeaderClient)
	accessToken := c.Request().Header.Get(middleware.HeaderAccessToken)

	if err := a.guard.SignOut(c.Request().Context(), uid, clientID, accessToken); err != nil {
		if domain.IsSessionError(err) {
			return c.JSON(http.StatusNotFound, middleware.NewErrorBody("User was not found or was not logged in."))
		}
		log.Error().Err(err).Str("uid", uid).Msg("Sign-out failed")
		return c.JSON(http.StatusInternalServerError, middleware.NewErrorBody("An unexpected error occurred."))
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "success"})
}

// DestroyHandler deletes the authenticated account and every session with it.
func (a *AuthAPI) DestroyHandler(c echo.Context) error {
	user := middleware.CurrentUser(c)
	if !user.AllowAccountDeletion {
		return c.JSON(http.StatusForbidden, middleware.NewErrorBody("Account deletion is not allowed."))
	}

	if err := a.users.DeleteUser(c.Request().Context(), user.ID); err != nil {
		log.Error().Err(err).Str("userID", user.ID).Msg("Failed to destroy account")
		return c.JSON(http.StatusInternalServerError, middleware.NewErrorBody("An unexpected error occurred."))
	}

	audit.Log("destroy", user.ID, c.Request().Header.Get(middleware.HeaderClient), true, nil)
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "success",
		"message": "Account with UID '" + user.ExternalUID + "' has been destroyed.",
	})
}

// ValidateTokenHandler confirms the presented session is live and returns the
// account it belongs to.
func (a *AuthAPI) ValidateTokenHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, successBody(middleware.CurrentUser(c)))
}

// MeHandler returns the authenticated user's profile.
func (a *AuthAPI) MeHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, userData(middleware.CurrentUser(c)))
}

// LiffIDHandler exposes the configured LIFF app id to front-end clients.
func (a *AuthAPI) LiffIDHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"liff_id": a.liffID})
}
