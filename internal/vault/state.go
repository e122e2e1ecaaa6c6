package vault

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateClaims is the payload of the signed state parameter. The random jti
// makes each state unique; the signature lets the callback reject forged
// states before touching the database.
type stateClaims struct {
	TenantID string `json:"tid"`
	UserID   string `json:"uid"`
	Provider string `json:"prv"`
	jwt.RegisteredClaims
}

// signState mints an HS256-signed state parameter with the pending-request
// TTL as its expiry.
func signState(secret []byte, tenantID, userID, provider string, ttl time.Duration, now time.Time) (string, error) {
	claims := stateClaims{
		TenantID: tenantID,
		UserID:   userID,
		Provider: provider,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// verifyState checks the state signature and expiry. A valid signature does
// not consume the state; single use is enforced by the pending store.
func verifyState(secret []byte, state string) (*stateClaims, error) {
	var claims stateClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("state verification failed: %w", err)
	}
	return &claims, nil
}
