package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the identity the upstream identity provider signs for us.
// The user is the standard sub claim. Tier is read-only from this service's
// point of view.
type AccessClaims struct {
	Tier     string `json:"tier"`
	Timezone string `json:"tz,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secret []byte
	issuer string
	expiry time.Duration
}

func NewJWTManager(secret, issuer string, expiry time.Duration) *JWTManager {
	return &JWTManager{
		secret: []byte(secret),
		issuer: issuer,
		expiry: expiry,
	}
}

// Issue signs an access token. Production tokens come from the identity
// provider; Issue exists for local tooling and tests that share the secret.
func (m *JWTManager) Issue(userID, tier, timezone string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Tier:     tier,
		Timezone: timezone,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

func (m *JWTManager) ValidateAccessToken(tokenStr string) (*AccessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AccessClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(m.issuer))
	if err != nil {
		return nil, fmt.Errorf("parsing access token: %w", err)
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("access token has no user id")
	}

	return claims, nil
}
