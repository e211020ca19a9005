package cache

import (
	"context"
	"time"
)

// BatchEntry records which device slot a just-rotated token belonged to.
// For a short window the superseded token is still accepted, so parallel
// requests a device fired before it saw the new headers do not get logged
// out. Only the slot identity is stored, never token material; requests
// admitted through the batch window get no credentials re-sent.
type BatchEntry struct {
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id"`
}

// BatchTokenCache stores superseded-token entries keyed by the old token's
// digest. Entries expire on their own after the batch window.
type BatchTokenCache interface {
	Get(ctx context.Context, digest string) (*BatchEntry, bool)
	Set(ctx context.Context, digest string, entry *BatchEntry, ttl time.Duration) error
	Delete(ctx context.Context, digest string) error
}
