package remote

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const engineSubject = "engine"

// EngineToken signs the short lived token the engine presents when it
// opens the link. The shared key is the HMAC secret.
func EngineToken(key string) (string, error) {
	claims := jwt.MapClaims{
		"sub": engineSubject,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Minute).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(key))
}

// verifyEngineToken checks a token made by EngineToken.
func verifyEngineToken(tokenStr, key string) error {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(key), nil
	})
	if err != nil {
		return err
	}
	if !token.Valid {
		return fmt.Errorf("invalid token")
	}
	sub, _ := token.Claims.GetSubject()
	if sub != engineSubject {
		return fmt.Errorf("unexpected subject %q", sub)
	}
	return nil
}
