package runner

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrToken is returned for any token that doesn't prove the caller runs the
// job it talks about.
var ErrToken = errors.New("invalid runner token")

// Claims bind a runner token to one request of one talk.
type Claims struct {
	Talk      string `json:"talk"`
	RequestID int64  `json:"request_id"`
	Job       string `json:"job"`
	jwt.RegisteredClaims
}

// TokenService signs and checks the tokens a runner calls back with.
type TokenService struct {
	secretKey []byte
	// TokenDuration bounds how long a job may report back.
	TokenDuration time.Duration
}

// NewTokenService creates a token service with a 48 hour validity.
func NewTokenService(secretKey string) *TokenService {
	return &TokenService{
		secretKey:     []byte(secretKey),
		TokenDuration: 48 * time.Hour,
	}
}

// Issue signs a token for the job running request id of a talk.
func (ts *TokenService) Issue(talk string, id int64, job string) (string, error) {
	now := time.Now()
	claims := &Claims{
		Talk:      talk,
		RequestID: id,
		Job:       job,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.TokenDuration)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "shipbot",
			Subject:   talk,
			ID:        job,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign runner token: %w", err)
	}
	return signed, nil
}

// Validate checks the signature and expiry of a token and returns its
// claims.
func (ts *TokenService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, jwt.WithIssuer("shipbot"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Talk == "" {
		return nil, ErrToken
	}
	return claims, nil
}
