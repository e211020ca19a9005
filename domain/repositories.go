package domain

import "context"

// UserRepository defines persistence for user records and their device
// token sets.
type UserRepository interface {
	// CreateUser inserts a new user. Returns ErrDuplicateIdentity when a
	// record with the same (provider, external_uid) already exists.
	CreateUser(ctx context.Context, user *User) error

	// GetUserByID retrieves a user by primary id.
	// Returns ErrUserNotFound when absent.
	GetUserByID(ctx context.Context, id string) (*User, error)

	// GetUserByExternalUID retrieves a user by provider subject identifier.
	// Returns ErrUserNotFound when absent.
	GetUserByExternalUID(ctx context.Context, provider Provider, externalUID string) (*User, error)

	// UpdateProfile overwrites the display attributes of a user with freshly
	// verified values.
	UpdateProfile(ctx context.Context, userID, displayName, avatarURL string) error

	// MutateDeviceTokens applies mutate to the user's token set atomically
	// with respect to concurrent mutations of the same record. mutate
	// receives a private copy of the set; returning an error aborts the
	// update. The user as persisted after the mutation is returned.
	MutateDeviceTokens(ctx context.Context, userID string, mutate func(tokens map[string]DeviceToken) error) (*User, error)

	// DeleteUser removes a user record and, with it, every device session.
	// Returns ErrUserNotFound when absent.
	DeleteUser(ctx context.Context, id string) error
}
