package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
}

// signingKey binds a token to the user's current session token, so rotating
// the session invalidates every token issued before.
func signingKey(secret []byte, sessionToken string) []byte {
	key := make([]byte, 0, len(secret)+len(sessionToken))
	key = append(key, secret...)
	return append(key, sessionToken...)
}

func signToken(secret []byte, userID, sessionToken string, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(signingKey(secret, sessionToken))
}

// subjectOf reads the subject without checking the signature. The caller
// must verify the token against the subject's key before trusting it.
func subjectOf(token string) (string, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

func verifyToken(token string, secret []byte, sessionToken, userID string) error {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return signingKey(secret, sessionToken), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return err
	}
	if !parsed.Valid || claims.Subject != userID {
		return errors.New("invalid token")
	}
	return nil
}
