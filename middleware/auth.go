package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/services"
)

// Session header names, shared between requests and responses.
const (
	HeaderAccessToken = "access-token"
	HeaderClient      = "client"
	HeaderExpiry      = "expiry"
	HeaderUID         = "uid"
	HeaderTokenType   = "token-type"

	// TokenTypeBearer is the only token-type this service issues.
	TokenTypeBearer = "Bearer"
)

// Echo context keys set by RequireSession.
const (
	ContextKeyUser       = "current_user"
	ContextKeyResolution = "session_resolution"
)

// ErrorBody is the JSON error envelope clients expect.
type ErrorBody struct {
	Status string   `json:"status"`
	Errors []string `json:"errors"`
}

// NewErrorBody builds an error envelope with one message.
func NewErrorBody(message string) ErrorBody {
	return ErrorBody{Status: "error", Errors: []string{message}}
}

// unauthenticatedBody matches the wording clients already handle.
var unauthenticatedBody = NewErrorBody("User was not found or was not logged in.")

// RequireSession authenticates the request from the uid, client and
// access-token headers. Requests that do not resolve to a live device slot
// get a 404 with the standard error envelope. On success the user and the
// resolution land in the echo context, and any re-minted credentials are
// written to the response headers before the handler runs.
func RequireSession(guard *services.SessionGuard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			uid := c.Request().Header.Get(HeaderUID)
			clientID := c.Request().Header.Get(HeaderClient)
			accessToken := c.Request().Header.Get(HeaderAccessToken)
			if uid == "" || clientID == "" || accessToken == "" {
				return c.JSON(http.StatusNotFound, unauthenticatedBody)
			}

			res, err := guard.Resolve(c.Request().Context(), uid, clientID, accessToken)
			if err != nil {
				if domain.IsSessionError(err) {
					return c.JSON(http.StatusNotFound, unauthenticatedBody)
				}
				log.Error().Err(err).Str("uid", uid).Msg("Session resolution failed")
				return c.JSON(http.StatusInternalServerError, NewErrorBody("An unexpected error occurred."))
			}

			c.Set(ContextKeyUser, res.User)
			c.Set(ContextKeyResolution, res)

			if res.AccessToken != "" {
				WriteSessionHeaders(c.Response().Header(), res.User.ExternalUID, res.ClientID, res.AccessToken, res.ExpiresAt)
			}
			return next(c)
		}
	}
}

// CurrentUser returns the authenticated user set by RequireSession.
func CurrentUser(c echo.Context) *domain.User {
	user, _ := c.Get(ContextKeyUser).(*domain.User)
	return user
}

// CurrentResolution returns the session resolution set by RequireSession.
func CurrentResolution(c echo.Context) *services.Resolution {
	res, _ := c.Get(ContextKeyResolution).(*services.Resolution)
	return res
}

// WriteSessionHeaders writes the session credential headers onto a response.
// Expiry is unix seconds, as clients expect.
func WriteSessionHeaders(h http.Header, uid, clientID, accessToken string, expiresAt time.Time) {
	h.Set(HeaderAccessToken, accessToken)
	h.Set(HeaderClient, clientID)
	h.Set(HeaderExpiry, strconv.FormatInt(expiresAt.Unix(), 10))
	h.Set(HeaderUID, uid)
	h.Set(HeaderTokenType, TokenTypeBearer)
}
