package providers

// NewFitbit creates the Fitbit adapter. Fitbit authenticates the client with
// a Basic authorization header at the token and revoke endpoints and rotates
// the refresh token on every refresh.
func NewFitbit(creds Credentials) Adapter {
	return &codeGrantAdapter{
		meta: Metadata{
			Name:      Fitbit,
			AuthURL:   "https://www.fitbit.com/oauth2/authorize",
			TokenURL:  "https://api.fitbit.com/oauth2/token",
			RevokeURL: "https://api.fitbit.com/oauth2/revoke",
			DefaultScopes: []string{
				"activity", "heartrate", "location", "nutrition",
				"profile", "settings", "sleep", "social", "weight",
			},
			ScopeSeparator:      " ",
			RotatesRefreshToken: true,
		},
		creds:        creds,
		client:       newTokenClient(Fitbit),
		useBasicAuth: true,
	}
}
