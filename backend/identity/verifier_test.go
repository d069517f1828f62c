package identity

import (
	"testing"
	"time"

	"github.com/adwski/studygroup-relay/backend/model"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestIssueAndVerify(t *testing.T) {
	v := NewVerifier("secret")

	token, err := v.Issue("u1", "Una")
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, model.Identity{ID: "u1", Name: "Una"}, id)
}

func TestVerify_SubjectFallback(t *testing.T) {
	v := NewVerifier("secret")
	token := sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.RegisteredClaims{
		Subject:   "u2",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u2", id.ID)
	assert.Empty(t, id.Name)
}

func TestVerify_Rejects(t *testing.T) {
	v := NewVerifier("secret")

	tests := []struct {
		name  string
		token string
		err   error
	}{
		{
			name:  "garbage",
			token: "not-a-token",
			err:   ErrInvalidToken,
		},
		{
			name: "wrong secret",
			token: sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.RegisteredClaims{
				Subject: "u1",
			}),
			err: ErrInvalidToken,
		},
		{
			name: "expired",
			token: sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.RegisteredClaims{
				Subject:   "u1",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			}),
			err: ErrExpiredToken,
		},
		{
			name:  "no user",
			token: sign(t, jwt.SigningMethodHS256, []byte("secret"), jwt.RegisteredClaims{}),
			err:   ErrInvalidToken,
		},
		{
			name:  "unsigned",
			token: sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.RegisteredClaims{Subject: "u1"}),
			err:   ErrInvalidToken,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, id.Anonymous())
		})
	}
}

func TestNoSecret(t *testing.T) {
	v := NewVerifier("")

	_, err := v.Issue("u1", "")
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = v.Verify("whatever")
	assert.ErrorIs(t, err, ErrNoSecret)
}
