// Package lineapi talks to the LINE platform's token verification and
// profile endpoints. It is the only package that performs outbound provider
// calls.
package lineapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBaseURL is the production LINE API host.
	DefaultBaseURL = "https://api.line.me"

	verifyPath  = "/oauth2/v2.1/verify"
	profilePath = "/v2/profile"

	defaultTimeout = 10 * time.Second
)

// Config holds the explicit construction parameters of the client, so tests
// can point it at a local server without touching process environment.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client performs single-attempt calls against the LINE API. Retry policy,
// if any, belongs to the caller.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a Client from cfg, falling back to the production host
// and a default timeout for zero values.
func NewClient(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// VerifyResult is the uniform outcome of a token introspection call.
// Transport failures are folded into Status 502, so callers always branch on
// the status code and never see a transport error.
type VerifyResult struct {
	Status           int
	ChannelID        string
	ExpiresIn        int64
	ErrorDescription string
}

// ProfileResult is the uniform outcome of a profile lookup.
type ProfileResult struct {
	Status           int
	UserID           string
	DisplayName      string
	PictureURL       string
	ErrorDescription string
}

// VerifyToken introspects an access token: which channel it was issued for
// and how long it remains valid.
func (c *Client) VerifyToken(ctx context.Context, accessToken string) VerifyResult {
	endpoint := c.baseURL + verifyPath + "?access_token=" + url.QueryEscape(accessToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return VerifyResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider unreachable"}
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("LINE token verification request failed")
		return VerifyResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider unreachable"}
	}
	defer resp.Body.Close()

	var body struct {
		ClientID         string `json:"client_id"`
		ExpiresIn        int64  `json:"expires_in"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("Failed to decode LINE verify response")
		return VerifyResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider returned an unreadable response"}
	}

	return VerifyResult{
		Status:           resp.StatusCode,
		ChannelID:        body.ClientID,
		ExpiresIn:        body.ExpiresIn,
		ErrorDescription: body.ErrorDescription,
	}
}

// FetchProfile resolves an access token to the subject id and display
// attributes of its owner.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) ProfileResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath, nil)
	if err != nil {
		return ProfileResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider unreachable"}
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpc.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("LINE profile request failed")
		return ProfileResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider unreachable"}
	}
	defer resp.Body.Close()

	var body struct {
		UserID           string `json:"userId"`
		DisplayName      string `json:"displayName"`
		PictureURL       string `json:"pictureUrl"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		log.Warn().Err(err).Int("status", resp.StatusCode).Msg("Failed to decode LINE profile response")
		return ProfileResult{Status: http.StatusBadGateway, ErrorDescription: "identity provider returned an unreadable response"}
	}

	return ProfileResult{
		Status:           resp.StatusCode,
		UserID:           body.UserID,
		DisplayName:      body.DisplayName,
		PictureURL:       body.PictureURL,
		ErrorDescription: body.ErrorDescription,
	}
}
