package providers

// NewTerra creates the Terra adapter. Terra fronts many wearables behind one
// aggregation API; the adapter drives its widget session as a standard
// authorize URL and exchanges codes at the v2 auth endpoint. Terra manages
// upstream credentials itself and does not rotate the refresh token it
// issues to API partners.
func NewTerra(creds Credentials) Adapter {
	return &codeGrantAdapter{
		meta: Metadata{
			Name:                Terra,
			AuthURL:             "https://widget.tryterra.co/session",
			TokenURL:            "https://api.tryterra.co/v2/auth/token",
			RevokeURL:           "https://api.tryterra.co/v2/auth/deauthenticate",
			DefaultScopes:       []string{"activity", "sleep", "body", "daily", "nutrition"},
			ScopeSeparator:      " ",
			RotatesRefreshToken: false,
		},
		creds:  creds,
		client: newTokenClient(Terra),
	}
}
