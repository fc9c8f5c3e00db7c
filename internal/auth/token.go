// Package auth issues and verifies the compact HMAC-signed session
// tokens used by the API, plus the hashing applied to refresh tokens
// and portal access keys before they touch storage.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Claims carries the session identity. Org is the tenant scope every
// downstream query is filtered by.
type Claims struct {
	Sub  string `json:"sub"`
	Name string `json:"name"`
	Org  string `json:"org"`
	Role string `json:"role"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

var encoding = base64.RawURLEncoding

// IssueToken serializes the claims and appends an HMAC-SHA256 signature.
// The result is payload.signature, both base64url without padding.
func IssueToken(secret []byte, claims Claims) (string, error) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := encoding.EncodeToString(raw)
	return payload + "." + sign(secret, payload), nil
}

// ParseToken verifies the signature and expiry and returns the claims.
// The signature is checked before anything is decoded.
func ParseToken(secret []byte, token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(sign(secret, payload))) {
		return Claims{}, ErrInvalidToken
	}

	raw, err := encoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(raw, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.Org == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(payload))
	return encoding.EncodeToString(mac.Sum(nil))
}

// HashToken is the storage form of refresh tokens and portal access
// keys. A plain SHA-256 suffices: the inputs are long random strings,
// and lookups need a deterministic digest.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
