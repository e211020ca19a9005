package services

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/internal/metrics"
	"github.com/himawari-dev/line-token-auth/lineapi"
)

// ProviderClient is the outbound surface of the identity provider the
// authenticator verifies tokens against.
type ProviderClient interface {
	VerifyToken(ctx context.Context, accessToken string) lineapi.VerifyResult
	FetchProfile(ctx context.Context, accessToken string) lineapi.ProfileResult
}

// Authenticator corroborates a claimed external uid against the identity
// provider using the access token the client obtained there.
type Authenticator struct {
	provider  ProviderClient
	channelID string
}

// NewAuthenticator creates an Authenticator bound to the channel id this
// application expects tokens to be issued for.
func NewAuthenticator(provider ProviderClient, channelID string) *Authenticator {
	return &Authenticator{
		provider:  provider,
		channelID: channelID,
	}
}

// Authenticate runs the verification chain in strict order, short-circuiting
// on the first failure. The channel and expiry checks gate the profile call,
// so at most two provider calls happen per attempt.
func (a *Authenticator) Authenticate(ctx context.Context, uid, accessToken string) (*domain.ExternalIdentity, *domain.AuthError) {
	verify := a.provider.VerifyToken(ctx, accessToken)
	if verify.Status != http.StatusOK {
		return a.fail(uid, verify.Status, verify.ErrorDescription)
	}
	if verify.ChannelID != a.channelID {
		return a.fail(uid, http.StatusUnauthorized, "LINE Channel ID is not matched.")
	}
	if verify.ExpiresIn <= 0 {
		return a.fail(uid, http.StatusUnauthorized, "LINE access token is expired")
	}

	profile := a.provider.FetchProfile(ctx, accessToken)
	if profile.Status != http.StatusOK {
		return a.fail(uid, profile.Status, profile.ErrorDescription)
	}
	if profile.UserID != uid {
		return a.fail(uid, http.StatusUnauthorized, "uid is not matched.")
	}

	return &domain.ExternalIdentity{
		ProviderSubjectID: profile.UserID,
		DisplayName:       profile.DisplayName,
		AvatarURL:         profile.PictureURL,
	}, nil
}

func (a *Authenticator) fail(uid string, code int, message string) (*domain.ExternalIdentity, *domain.AuthError) {
	log.Debug().Str("uid", uid).Int("code", code).Str("reason", message).Msg("Token verification failed")
	metrics.VerificationFailureTotal.Inc()
	return nil, &domain.AuthError{Code: code, Message: message}
}
