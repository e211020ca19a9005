package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/himawari-dev/line-token-auth/cache"
	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/internal/audit"
	"github.com/himawari-dev/line-token-auth/internal/metrics"
)

// Session carries freshly minted credentials for one device. The raw access
// token appears here exactly once; only its digest is persisted.
type Session struct {
	ClientID    string
	AccessToken string
	ExpiresAt   time.Time
}

// SessionIssuer provisions user records from verified identities and mints
// device tokens, enforcing the bounded multi-device token set.
type SessionIssuer struct {
	users         domain.UserRepository
	authenticator *Authenticator
	maxDevices    int
	tokenLifespan time.Duration
}

// NewSessionIssuer creates a SessionIssuer.
func NewSessionIssuer(users domain.UserRepository, authenticator *Authenticator, maxDevices int, tokenLifespan time.Duration) *SessionIssuer {
	return &SessionIssuer{
		users:         users,
		authenticator: authenticator,
		maxDevices:    maxDevices,
		tokenLifespan: tokenLifespan,
	}
}

// SignUp verifies the claimed uid against the provider, creates the user
// record and signs the new account in on its first device. A second
// registration for the same uid returns domain.ErrDuplicateIdentity.
func (s *SessionIssuer) SignUp(ctx context.Context, uid, accessToken string) (*domain.User, *Session, error) {
	identity, authErr := s.authenticator.Authenticate(ctx, uid, accessToken)
	if authErr != nil {
		audit.Log("sign_up", uid, "", false, authErr)
		return nil, nil, authErr
	}

	user := &domain.User{
		Provider:             domain.ProviderLine,
		ExternalUID:          uid,
		DisplayName:          identity.DisplayName,
		AvatarURL:            identity.AvatarURL,
		Tokens:               map[string]domain.DeviceToken{},
		AllowAccountDeletion: true,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		audit.Log("sign_up", uid, "", false, err)
		return nil, nil, err
	}

	user, session, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("userID", user.ID).Str("uid", uid).Msg("User registered")
	audit.Log("sign_up", user.ID, session.ClientID, true, nil)
	metrics.SignUpSuccessTotal.Inc()
	return user, session, nil
}

// SignIn verifies the claimed uid against the provider, refreshes the stored
// display attributes from the verified identity and mints a device token for
// a new device slot. An unknown uid returns domain.ErrUserNotFound.
func (s *SessionIssuer) SignIn(ctx context.Context, uid, accessToken string) (*domain.User, *Session, error) {
	identity, authErr := s.authenticator.Authenticate(ctx, uid, accessToken)
	if authErr != nil {
		audit.Log("sign_in", uid, "", false, authErr)
		return nil, nil, authErr
	}

	user, err := s.users.GetUserByExternalUID(ctx, domain.ProviderLine, uid)
	if err != nil {
		audit.Log("sign_in", uid, "", false, err)
		return nil, nil, err
	}

	if user.DisplayName != identity.DisplayName || user.AvatarURL != identity.AvatarURL {
		if err := s.users.UpdateProfile(ctx, user.ID, identity.DisplayName, identity.AvatarURL); err != nil {
			// Stale display attributes are tolerable; the sign-in proceeds.
			log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to refresh profile attributes")
		} else {
			user.DisplayName = identity.DisplayName
			user.AvatarURL = identity.AvatarURL
		}
	}

	user, session, err := s.issueToken(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	audit.Log("sign_in", user.ID, session.ClientID, true, nil)
	metrics.SignInSuccessTotal.Inc()
	return user, session, nil
}

// issueToken mints a device token under a fresh client id and inserts it
// into the token set, evicting the least recently used slot while the device
// bound is exceeded.
func (s *SessionIssuer) issueToken(ctx context.Context, userID string) (*domain.User, *Session, error) {
	raw, err := NewRawToken()
	if err != nil {
		return nil, nil, err
	}

	clientID := uuid.NewString()
	now := time.Now().UTC()
	token := domain.DeviceToken{
		TokenDigest: cache.HashToken(raw),
		ExpiresAt:   now.Add(s.tokenLifespan),
		LastUsedAt:  now,
	}

	user, err := s.users.MutateDeviceTokens(ctx, userID, func(tokens map[string]domain.DeviceToken) error {
		tokens[clientID] = token
		for len(tokens) > s.maxDevices {
			oldest := domain.OldestDeviceSlot(tokens)
			delete(tokens, oldest)
			log.Debug().Str("userID", userID).Str("evicted", oldest).Msg("Device slot evicted")
			metrics.TokensEvictedTotal.Inc()
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to store device token: %w", err)
	}

	metrics.TokensIssuedTotal.Inc()
	return user, &Session{
		ClientID:    clientID,
		AccessToken: raw,
		ExpiresAt:   token.ExpiresAt,
	}, nil
}

// NewRawToken generates an opaque session token value.
func NewRawToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
