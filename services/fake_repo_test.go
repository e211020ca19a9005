package services_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/himawari-dev/line-token-auth/domain"
)

// fakeUserRepo is an in-memory domain.UserRepository for service tests. The
// mutex mirrors the per-record atomicity the real store provides.
type fakeUserRepo struct {
	mu    sync.Mutex
	seq   int
	users map[string]*domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: map[string]*domain.User{}}
}

func cloneUser(u *domain.User) *domain.User {
	clone := *u
	clone.Tokens = cloneTokens(u.Tokens)
	return &clone
}

func cloneTokens(tokens map[string]domain.DeviceToken) map[string]domain.DeviceToken {
	out := make(map[string]domain.DeviceToken, len(tokens))
	for k, v := range tokens {
		out[k] = v
	}
	return out
}

func (r *fakeUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Provider == user.Provider && existing.ExternalUID == user.ExternalUID {
			return domain.ErrDuplicateIdentity
		}
	}
	r.seq++
	user.ID = fmt.Sprintf("user-%d", r.seq)
	if user.Tokens == nil {
		user.Tokens = map[string]domain.DeviceToken{}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return cloneUser(user), nil
}

func (r *fakeUserRepo) GetUserByExternalUID(_ context.Context, provider domain.Provider, externalUID string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, user := range r.users {
		if user.Provider == provider && user.ExternalUID == externalUID {
			return cloneUser(user), nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r *fakeUserRepo) UpdateProfile(_ context.Context, userID, displayName, avatarURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return domain.ErrUserNotFound
	}
	user.DisplayName = displayName
	user.AvatarURL = avatarURL
	return nil
}

func (r *fakeUserRepo) MutateDeviceTokens(_ context.Context, userID string, mutate func(tokens map[string]domain.DeviceToken) error) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	tokens := cloneTokens(user.Tokens)
	if err := mutate(tokens); err != nil {
		return nil, err
	}
	user.Tokens = tokens
	user.TokenVersion++
	return cloneUser(user), nil
}

func (r *fakeUserRepo) DeleteUser(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

// setToken plants a device token directly, bypassing the issuer.
func (r *fakeUserRepo) setToken(userID, clientID string, token domain.DeviceToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[userID].Tokens[clientID] = token
}

var _ domain.UserRepository = (*fakeUserRepo)(nil)
