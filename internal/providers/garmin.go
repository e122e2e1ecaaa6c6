package providers

// NewGarmin creates the Garmin adapter. Garmin reuses the same refresh token
// across refreshes; the coordinator must keep the stored one when a refresh
// response omits it.
func NewGarmin(creds Credentials) Adapter {
	return &codeGrantAdapter{
		meta: Metadata{
			Name:                Garmin,
			AuthURL:             "https://connect.garmin.com/oauthConfirm",
			TokenURL:            "https://connectapi.garmin.com/oauth-service/oauth/access_token",
			RevokeURL:           "https://connectapi.garmin.com/oauth-service/oauth/revoke",
			DefaultScopes:       []string{"activity_api", "health_api"},
			ScopeSeparator:      " ",
			RotatesRefreshToken: false,
		},
		creds:  creds,
		client: newTokenClient(Garmin),
	}
}
