package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const sessionTokenType = "session"

// TokenConfig holds session token settings.
type TokenConfig struct {
	SecretKey string
	TTL       time.Duration
	Issuer    string
}

// sessionClaims are the claims carried by a session token. The subject is
// the user id.
type sessionClaims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenManager issues and validates HS256 session tokens.
type TokenManager struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokenManager creates a TokenManager.
func NewTokenManager(config TokenConfig) *TokenManager {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "relaychat"
	}
	return &TokenManager{config: config, now: time.Now}
}

// Issue creates a session token for userID.
func (m *TokenManager) Issue(userID string) (string, error) {
	now := m.now()
	claims := sessionClaims{
		TokenType: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.config.Issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(m.config.SecretKey))
}

// Validate checks the token and returns the user id it was issued for.
// Every failure, expiry included, is reported as ErrInvalidToken.
func (m *TokenManager) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(m.config.SecretKey), nil
	},
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", errors.Join(ErrInvalidToken, jwt.ErrTokenExpired)
		}
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(*sessionClaims)
	if !ok || !token.Valid || claims.TokenType != sessionTokenType || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
