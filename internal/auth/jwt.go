package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenTTL is how long an operator token stays valid.
const AccessTokenTTL = 15 * time.Minute

type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresAt   int64  `json:"expiresAt"`
}

func GenerateAccessToken(subject, secret string) (*TokenResponse, error) {
	exp := time.Now().Add(AccessTokenTTL)
	claims := jwt.MapClaims{
		"sub": subject,
		"exp": exp.Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &TokenResponse{AccessToken: signed, ExpiresAt: exp.Unix()}, nil
}

// Subject returns the subject of the token jwtware stored in the context.
func Subject(token *jwt.Token) string {
	sub, _ := token.Claims.GetSubject()
	return sub
}
