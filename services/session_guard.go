package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/himawari-dev/line-token-auth/cache"
	"github.com/himawari-dev/line-token-auth/domain"
	"github.com/himawari-dev/line-token-auth/internal/audit"
	"github.com/himawari-dev/line-token-auth/internal/metrics"
)

// GuardConfig tunes the session guard.
type GuardConfig struct {
	// TokenLifespan is the lifespan given to rotated tokens.
	TokenLifespan time.Duration
	// RotateOnUse regenerates the token digest and expiry on every
	// successful resolve.
	RotateOnUse bool
	// BatchThrottle is how long a superseded token stays acceptable after a
	// rotation. Ignored when RotateOnUse is false.
	BatchThrottle time.Duration
}

// SessionGuard resolves presented session credentials back to a user and
// device slot on guarded requests.
type SessionGuard struct {
	users domain.UserRepository
	batch cache.BatchTokenCache
	cfg   GuardConfig
}

// NewSessionGuard creates a SessionGuard.
func NewSessionGuard(users domain.UserRepository, batch cache.BatchTokenCache, cfg GuardConfig) *SessionGuard {
	return &SessionGuard{
		users: users,
		batch: batch,
		cfg:   cfg,
	}
}

// Resolution is the outcome of a successful credential check. AccessToken
// carries a freshly rotated raw token to echo back to the device; it is
// empty whenever no rotation happened, including requests admitted through
// the batch window.
type Resolution struct {
	User        *domain.User
	ClientID    string
	AccessToken string
	ExpiresAt   time.Time
	Rotated     bool
}

// Resolve checks the presented credentials against the stored device slot.
// It fails with domain.ErrSessionNotFound when the user or slot is unknown
// (evicted and revoked slots included), domain.ErrSessionInvalid on digest
// mismatch and domain.ErrSessionExpired past expiry. On success the slot's
// last-used time advances and, when rotation is enabled, the token is
// re-minted in place.
func (g *SessionGuard) Resolve(ctx context.Context, uid, clientID, presentedToken string) (*Resolution, error) {
	user, err := g.users.GetUserByExternalUID(ctx, domain.ProviderLine, uid)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, err
	}

	token, ok := user.Tokens[clientID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}

	digest := cache.HashToken(presentedToken)
	if subtle.ConstantTimeCompare([]byte(digest), []byte(token.TokenDigest)) != 1 {
		// A token rotated away moments ago is still good for the batch
		// window. The headers stay blank for such requests; the device
		// already received the current credentials once.
		if entry, ok := g.batch.Get(ctx, digest); ok && entry.UserID == user.ID && entry.ClientID == clientID {
			return &Resolution{
				User:      user,
				ClientID:  clientID,
				ExpiresAt: token.ExpiresAt,
			}, nil
		}
		return nil, domain.ErrSessionInvalid
	}

	now := time.Now().UTC()
	if token.Expired(now) {
		return nil, domain.ErrSessionExpired
	}

	var newRaw string
	if g.cfg.RotateOnUse {
		if newRaw, err = NewRawToken(); err != nil {
			return nil, err
		}
	}

	user, err = g.users.MutateDeviceTokens(ctx, user.ID, func(tokens map[string]domain.DeviceToken) error {
		current, ok := tokens[clientID]
		if !ok {
			return domain.ErrSessionNotFound
		}
		current.LastUsedAt = now
		if g.cfg.RotateOnUse {
			current.TokenDigest = cache.HashToken(newRaw)
			current.ExpiresAt = now.Add(g.cfg.TokenLifespan)
		}
		tokens[clientID] = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	resolution := &Resolution{
		User:      user,
		ClientID:  clientID,
		ExpiresAt: user.Tokens[clientID].ExpiresAt,
	}
	if g.cfg.RotateOnUse {
		resolution.AccessToken = newRaw
		resolution.Rotated = true
		metrics.TokensRotatedTotal.Inc()

		entry := &cache.BatchEntry{
			UserID:   user.ID,
			ClientID: clientID,
		}
		if err := g.batch.Set(ctx, digest, entry, g.cfg.BatchThrottle); err != nil {
			// Parallel requests from this device may get logged out early;
			// the session itself is intact.
			log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to park superseded token")
		}
	}
	return resolution, nil
}

// SignOut revokes the device slot for clientID. The presented token must
// match while the slot exists; removing a slot that is already gone is not
// an error, which makes repeated sign-outs idempotent.
func (g *SessionGuard) SignOut(ctx context.Context, uid, clientID, presentedToken string) error {
	user, err := g.users.GetUserByExternalUID(ctx, domain.ProviderLine, uid)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrSessionNotFound
		}
		return err
	}

	digest := cache.HashToken(presentedToken)
	if token, ok := user.Tokens[clientID]; ok {
		if subtle.ConstantTimeCompare([]byte(digest), []byte(token.TokenDigest)) != 1 {
			if _, hit := g.batch.Get(ctx, digest); !hit {
				return domain.ErrSessionInvalid
			}
		}
	}

	if _, err := g.users.MutateDeviceTokens(ctx, user.ID, func(tokens map[string]domain.DeviceToken) error {
		delete(tokens, clientID)
		return nil
	}); err != nil {
		return err
	}

	if err := g.batch.Delete(ctx, digest); err != nil {
		log.Warn().Err(err).Str("userID", user.ID).Msg("Failed to drop batch entry on sign-out")
	}

	audit.Log("sign_out", user.ID, clientID, true, nil)
	metrics.SignOutTotal.Inc()
	return nil
}
