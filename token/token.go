package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long an access token stays valid.
const DefaultTTL = 72 * time.Hour

const usernameClaim = "username"

// Token is an access token as handed out by the auth API.
type Token struct {
	Token string `codec:"token"`
}

// Claims are the parts of a token the client cares about.
type Claims struct {
	Username  string
	ExpiresAt time.Time
}

// Expired reports whether the token is past its expiry at now. Tokens without
// an expiry never expire.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: DefaultTTL, now: time.Now}
}

func (i *Issuer) CreateToken(username string) (*Token, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		usernameClaim: username,
		"iat":         i.now().Unix(),
		"exp":         i.now().Add(i.ttl).Unix(),
	})

	tokenString, err := token.SignedString(i.secret)
	if err != nil {
		return nil, SigningError{err}
	}
	return &Token{Token: tokenString}, nil
}

// Validate verifies the signature and expiry of raw and returns the username
// it was issued to.
func (i *Issuer) Validate(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", InvalidTokenError{err}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", InvalidTokenError{fmt.Errorf("unexpected claims")}
	}
	username, _ := claims[usernameClaim].(string)
	if username == "" {
		return "", MissingClaimError{usernameClaim}
	}
	return username, nil
}

// Claims reads the claims of t without verifying its signature. The client
// has no signing key; it only needs to know who it is and when to log in
// again.
func (t *Token) Claims() (*Claims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(t.Token, claims); err != nil {
		return nil, InvalidTokenError{err}
	}

	username, _ := claims[usernameClaim].(string)
	if username == "" {
		return nil, MissingClaimError{usernameClaim}
	}
	out := &Claims{Username: username}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return nil, InvalidTokenError{err}
	}
	if exp != nil {
		out.ExpiresAt = exp.Time
	}
	return out, nil
}
