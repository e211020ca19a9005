package domain

import "time"

// Provider identifies the external identity service an account was
// provisioned from.
type Provider string

const (
	ProviderLine Provider = "line"
)

// User is a local account backed by a verified external identity.
// ExternalUID is the subject identifier at the provider and is unique per
// provider. Tokens holds one entry per signed-in device, keyed by the opaque
// client id issued at sign-in.
type User struct {
	ID          string                 `bson:"_id,omitempty"`
	Provider    Provider               `bson:"provider"`
	ExternalUID string                 `bson:"external_uid"`
	DisplayName string                 `bson:"display_name,omitempty"`
	AvatarURL   string                 `bson:"avatar_url,omitempty"`
	Tokens      map[string]DeviceToken `bson:"tokens"`
	// TokenVersion is bumped on every token-set mutation and used as the
	// compare-and-swap guard against concurrent updates to the same record.
	TokenVersion int64 `bson:"token_version"`
	// AllowAccountDeletion gates the account destroy endpoint for this user.
	AllowAccountDeletion bool      `bson:"allow_account_deletion"`
	CreatedAt            time.Time `bson:"created_at"`
	UpdatedAt            time.Time `bson:"updated_at"`
}

// DeviceCount reports the number of occupied device slots.
func (u *User) DeviceCount() int {
	return len(u.Tokens)
}
