package utils

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken  = errors.New("authorization token missing")
	ErrInvalidHeader = errors.New("invalid authorization header format")
	ErrRoomMismatch  = errors.New("token is not valid for this room")
	errSigningMethod = errors.New("unexpected signing method")
)

// RoomTokenClaims represents the claims in a room access token
type RoomTokenClaims struct {
	ProjectId string `json:"projectId"`
	UserId    string `json:"userId"`
	jwt.RegisteredClaims
}

// ValidateRoomToken validates a JWT token against secret and returns the claims
func ValidateRoomToken(secret []byte, tokenString string) (*RoomTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &RoomTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	return token.Claims.(*RoomTokenClaims), nil
}

// SignRoomToken issues an HS256 room token. Used by syncctl and tests.
func SignRoomToken(secret []byte, projectID, userID string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &RoomTokenClaims{
		ProjectId: projectID,
		UserId:    userID,
	}).SignedString(secret)
}

// ExtractTokenFromHeader extracts the token from the Authorization header
func ExtractTokenFromHeader(authHeader string) (string, error) {
	if authHeader == "" {
		return "", ErrMissingToken
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", ErrInvalidHeader
	}
	return token, nil
}

// CheckRoom reports ErrRoomMismatch when the token was issued for another room.
func (c *RoomTokenClaims) CheckRoom(roomID string) error {
	if c.ProjectId != "" && c.ProjectId != roomID {
		return ErrRoomMismatch
	}
	return nil
}
