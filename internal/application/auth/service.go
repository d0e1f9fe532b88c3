package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// KeyStore provides the HMAC keys operator tokens are signed with. Signing
// always uses the current default key; verification resolves the key id the
// token carries, so rotated-out keys keep validating old tokens.
type KeyStore interface {
	SigningKey() (keyID string, key []byte, err error)
	KeyByID(keyID string) ([]byte, error)
}

// Service issues and verifies the two credentials the engine's surfaces
// need: short-lived JWTs for operator consoles and opaque per-order tokens
// for customers. Operator identity management itself lives elsewhere; this
// service only checks the configured console credential.
type Service struct {
	keys             KeyStore
	tokenTTL         time.Duration
	operatorUsername string
	operatorPassHash string
	logger           zerolog.Logger
}

// NewService creates an auth service.
func NewService(keys KeyStore, tokenTTL time.Duration, operatorUsername, operatorPasswordHash string, logger zerolog.Logger) *Service {
	return &Service{
		keys:             keys,
		tokenTTL:         tokenTTL,
		operatorUsername: operatorUsername,
		operatorPassHash: operatorPasswordHash,
		logger:           logger.With().Str("service", "auth").Logger(),
	}
}

// OperatorLogin checks the console credential and returns a signed JWT.
func (s *Service) OperatorLogin(username, password string) (string, error) {
	if s.operatorUsername == "" || username != s.operatorUsername {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.operatorPassHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	keyID, key, err := s.keys.SigningKey()
	if err != nil {
		return "", fmt.Errorf("resolve signing key: %w", err)
	}
	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  username,
		"role": "operator",
		"iat":  now.Unix(),
		"exp":  now.Add(s.tokenTTL).Unix(),
	})
	token.Header["kid"] = keyID
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	s.logger.Info().Str("username", username).Msg("operator login")
	return signed, nil
}

// VerifyOperator validates an operator JWT and returns the username.
func (s *Service) VerifyOperator(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", ErrInvalidToken
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if keyID, ok := t.Header["kid"].(string); ok && keyID != "" {
			return s.keys.KeyByID(keyID)
		}
		_, key, err := s.keys.SigningKey()
		return key, err
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if role, _ := claims["role"].(string); role != "operator" {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// IssueOrderToken mints an opaque customer token and its stored hash.
// Only the hash is persisted; the raw token goes back to the browser once.
func (s *Service) IssueOrderToken() (token string, hash string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashOrderToken(token), nil
}

// HashOrderToken returns the stored form of a customer token.
func HashOrderToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
