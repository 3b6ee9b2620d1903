package livesync

import (
	"testing"

	"github.com/go-playground/assert/v2"
	gojwt "github.com/golang-jwt/jwt/v5"
)

func TestParseByJwtUnverified(t *testing.T) {
	userId := NewId()
	clientId := NewId()

	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":   userId.String(),
		"user_name": "parlor_person",
		"client_id": clientId.String(),
	})
	byJwtStr, err := token.SignedString([]byte("test-signing-key"))
	assert.Equal(t, err, nil)

	byJwt, err := ParseByJwtUnverified(byJwtStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, userId, byJwt.UserId)
	assert.Equal(t, "parlor_person", byJwt.UserName)
	assert.Equal(t, clientId, byJwt.ClientId)

	_, err = ParseByJwtUnverified("not a jwt")
	assert.NotEqual(t, err, nil)
}

func TestParseByJwtUnverifiedBadClaimTypes(t *testing.T) {
	// a well formed token whose identity claims are not strings
	// degrades to zero values instead of failing
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"user_id":   42,
		"user_name": 42,
		"client_id": []string{"a", "b"},
	})
	byJwtStr, err := token.SignedString([]byte("test-signing-key"))
	assert.Equal(t, err, nil)

	byJwt, err := ParseByJwtUnverified(byJwtStr)
	assert.Equal(t, err, nil)
	assert.Equal(t, Id{}, byJwt.UserId)
	assert.Equal(t, "", byJwt.UserName)
	assert.Equal(t, Id{}, byJwt.ClientId)
}
