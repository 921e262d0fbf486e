// Package auth signs and verifies the bearer tokens that identify callers
// of the HTTP surface.
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

	"chronicle/collab/internal/rbac"
)

type Claims struct {
	UserID    string    `json:"sub"`
	Role      rbac.Role `json:"role"`
	ExpiresAt int64     `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

type Signer struct {
	secret []byte
	now    func() time.Time
}

func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret, now: time.Now}
}

// Issue returns a token for userID that expires after ttl.
func (s *Signer) Issue(userID string, role rbac.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	claims := Claims{UserID: userID, Role: role, ExpiresAt: s.now().Add(ttl).Unix()}
	body, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(body)
	return payload + "." + s.sign(payload), nil
}

// Parse verifies the signature and expiry. Unknown roles fall back to viewer.
func (s *Signer) Parse(token string) (Claims, error) {
	payload, signature, ok := strings.Cut(token, ".")
	if !ok || strings.Contains(signature, ".") {
		return Claims{}, ErrInvalidToken
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(payload))) {
		return Claims{}, ErrInvalidToken
	}
	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.UserID == "" || claims.ExpiresAt == 0 {
		return Claims{}, ErrInvalidToken
	}
	if s.now().Unix() >= claims.ExpiresAt {
		return Claims{}, ErrExpiredToken
	}
	claims.Role = rbac.Normalize(string(claims.Role))
	return claims, nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
