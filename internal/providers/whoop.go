package providers

// NewWhoop creates the WHOOP adapter. WHOOP requires the offline scope to
// issue refresh tokens at all and rotates them on every refresh.
func NewWhoop(creds Credentials) Adapter {
	return &codeGrantAdapter{
		meta: Metadata{
			Name:      Whoop,
			AuthURL:   "https://api.prod.whoop.com/oauth/oauth2/auth",
			TokenURL:  "https://api.prod.whoop.com/oauth/oauth2/token",
			RevokeURL: "https://api.prod.whoop.com/oauth/oauth2/revoke",
			DefaultScopes: []string{
				"offline", "read:profile", "read:recovery",
				"read:sleep", "read:workout", "read:cycles",
			},
			ScopeSeparator:      " ",
			RotatesRefreshToken: true,
		},
		creds:  creds,
		client: newTokenClient(Whoop),
	}
}
