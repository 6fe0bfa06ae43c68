package api

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionToken_RoundTrip(t *testing.T) {
	id := uuid.NewString()
	token, expires, err := generateSessionToken(id, "investigator", []byte(testSecret), time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	claims, err := validateSessionToken(token, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, id, claims.SessionID())
	assert.Equal(t, "investigator", claims.Username)
}

func TestSessionToken_Rejected(t *testing.T) {
	id := uuid.NewString()
	valid, _, err := generateSessionToken(id, "", []byte(testSecret), time.Hour)
	require.NoError(t, err)
	expired, _, err := generateSessionToken(id, "", []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	badID, _, err := generateSessionToken("../../etc", "", []byte(testSecret), time.Hour)
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        id,
		Issuer:    sessionIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret string
	}{
		{"wrong secret", valid, "another-secret-of-sufficient-length!"},
		{"expired", expired, testSecret},
		{"not a uuid", badID, testSecret},
		{"unsigned", unsigned, testSecret},
		{"garbage", "abc.def.ghi", testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateSessionToken(tt.token, []byte(tt.secret))
			assert.Error(t, err)
		})
	}
}
