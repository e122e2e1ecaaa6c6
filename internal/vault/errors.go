package vault

import "errors"

var (
	// ErrInvalidState rejects a callback whose state is unknown, expired,
	// forged, or already consumed. The user must restart the connect flow.
	ErrInvalidState = errors.New("invalid or expired authorization state")

	// ErrExchangeFailed means the provider rejected the authorization code.
	// No connection is created; the flow restarts.
	ErrExchangeFailed = errors.New("provider rejected the authorization code")

	// ErrNeedsReauth means the stored refresh token is dead or the
	// connection was already flagged. Terminal until the user reconnects;
	// never auto-retried.
	ErrNeedsReauth = errors.New("connection requires re-authorization")

	// ErrNotConnected means no connection exists for the tuple at all.
	ErrNotConnected = errors.New("no connection for this provider")

	// ErrProviderUnavailable means the provider's circuit breaker is open;
	// callers should retry later instead of queuing behind a doomed lock.
	ErrProviderUnavailable = errors.New("provider temporarily unavailable")
)
