package auth

import (
	"errors"
	"evgateway/utility"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const DefaultSessionLifetime = time.Hour

var (
	ErrTokenInvalid = errors.New("token invalid")
	ErrTokenExpired = errors.New("token expired")
)

type Claims struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId,omitempty"`
	jwt.RegisteredClaims
}

// SessionToken is issued to a client after a successful login token check.
type SessionToken struct {
	Token     string
	SessionId string
	ExpiresAt time.Time
}

// Verifier checks HMAC signed tokens and issues session tokens with the same secret.
type Verifier struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
	now      func() time.Time
}

func NewVerifier(secret, issuer string, lifetime time.Duration) *Verifier {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		lifetime: lifetime,
		now:      time.Now,
	}
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
	}
	return v.secret, nil
}

// Verify returns the claims of a valid token. Tokens without expiry are rejected.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && v.signatureValid(tokenString) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	return claims, nil
}

// signatureValid tells an expired token apart from a forged one.
func (v *Verifier) signatureValid(tokenString string) bool {
	_, err := jwt.Parse(tokenString, v.keyFunc, jwt.WithoutClaimsValidation())
	return err == nil
}

// IssueSessionToken signs a new session scoped token for the user. An empty
// session id gets a fresh one.
func (v *Verifier) IssueSessionToken(userId, sessionId string) (*SessionToken, error) {
	if userId == "" {
		return nil, utility.Err("user id is empty")
	}
	now := v.now()
	expiresAt := now.Add(v.lifetime)
	if sessionId == "" {
		sessionId = utility.NewUUID()
	}
	claims := &Claims{
		UserID:    userId,
		SessionID: sessionId,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   userId,
			ID:        sessionId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return nil, fmt.Errorf("signing session token: %w", err)
	}
	return &SessionToken{
		Token:     signed,
		SessionId: sessionId,
		ExpiresAt: expiresAt,
	}, nil
}

// Lifetime of the issued session tokens.
func (v *Verifier) Lifetime() time.Duration {
	return v.lifetime
}
