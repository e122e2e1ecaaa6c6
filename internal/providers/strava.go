package providers

// NewStrava creates the Strava adapter. Strava joins scopes with commas,
// returns an absolute expires_at in its token responses, rotates the refresh
// token on every refresh, and calls its revoke endpoint "deauthorize" with
// the token in an access_token field.
func NewStrava(creds Credentials) Adapter {
	return &codeGrantAdapter{
		meta: Metadata{
			Name:                Strava,
			AuthURL:             "https://www.strava.com/oauth/authorize",
			TokenURL:            "https://www.strava.com/oauth/token",
			RevokeURL:           "https://www.strava.com/oauth/deauthorize",
			DefaultScopes:       []string{"read", "activity:read_all"},
			ScopeSeparator:      ",",
			RotatesRefreshToken: true,
		},
		creds:       creds,
		client:      newTokenClient(Strava),
		revokeParam: "access_token",
	}
}
