package domain

import "time"

// DeviceToken is one device slot inside a user's token set. Only the digest
// of the session token is stored; the raw value is returned to the device
// once at issuance and never persisted.
type DeviceToken struct {
	TokenDigest string    `bson:"token_digest"`
	ExpiresAt   time.Time `bson:"expires_at"`
	LastUsedAt  time.Time `bson:"last_used_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t DeviceToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// OldestDeviceSlot returns the client id of the least recently used slot in
// the token set, breaking ties on the client id so eviction is deterministic.
// Returns the empty string for an empty set.
func OldestDeviceSlot(tokens map[string]DeviceToken) string {
	var oldest string
	var oldestAt time.Time
	for clientID, tok := range tokens {
		if oldest == "" ||
			tok.LastUsedAt.Before(oldestAt) ||
			(tok.LastUsedAt.Equal(oldestAt) && clientID < oldest) {
			oldest = clientID
			oldestAt = tok.LastUsedAt
		}
	}
	return oldest
}
