package domain

// ExternalIdentity is the normalized profile of a provider-verified user.
// It lives for the duration of one authentication attempt and is never
// persisted as-is.
type ExternalIdentity struct {
	ProviderSubjectID string
	DisplayName       string
	AvatarURL         string
}
