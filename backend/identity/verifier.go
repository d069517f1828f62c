package identity

import (
	"errors"
	"time"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 24 * time.Hour
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrNoSecret     = errors.New("token secret is not configured")
)

// Claims follows the payload issued by the platform's auth service:
// {"user": {"id": ..., "name": ...}}. The registered subject is used
// when the user object carries no id.
type Claims struct {
	User struct {
		ID   string `json:"id"`
		Name string `json:"name,omitempty"`
	} `json:"user"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		ttl:    defaultTokenTTL,
	}
}

// Verify checks the token signature and expiry and returns the identity it carries.
func (v *Verifier) Verify(tokenString string) (model.Identity, error) {
	if len(v.secret) == 0 {
		return model.Identity{}, ErrNoSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return model.Identity{}, ErrExpiredToken
		}
		return model.Identity{}, errors.Join(ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return model.Identity{}, ErrInvalidToken
	}
	id := claims.User.ID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return model.Identity{}, ErrInvalidToken
	}
	return model.Identity{ID: id, Name: claims.User.Name}, nil
}

// Issue signs a token for the user. The relay never issues tokens to clients;
// this exists for local development and tests.
func (v *Verifier) Issue(userID, name string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	claims.User.ID = userID
	claims.User.Name = name

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
