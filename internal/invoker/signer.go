package invoker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints short-lived HS256 tokens binding each outbound request to
// its method, path, and body digest. Stage agents verify the token against
// the shared key; replaying it for a different payload fails the digest
// check.
type Signer struct {
	key      []byte
	issuer   string
	tokenTTL time.Duration
	now      func() time.Time
}

// NewSigner creates a signer with the given key material. The key comes
// from the environment at startup, never a literal in source or config.
func NewSigner(key []byte, issuer string, tokenTTL time.Duration) (*Signer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("signer: empty signing key")
	}
	if tokenTTL <= 0 {
		tokenTTL = 2 * time.Minute
	}
	return &Signer{
		key:      key,
		issuer:   issuer,
		tokenTTL: tokenTTL,
		now:      time.Now,
	}, nil
}

// Sign returns the Authorization header value for a request with the given
// method, path, and body.
func (s *Signer) Sign(method, path string, body []byte, correlationID string) (string, error) {
	digest := sha256.Sum256(body)
	now := s.now()

	claims := jwt.MapClaims{
		"iss":            s.issuer,
		"iat":            now.Unix(),
		"exp":            now.Add(s.tokenTTL).Unix(),
		"method":         method,
		"path":           path,
		"body_sha256":    hex.EncodeToString(digest[:]),
		"correlation_id": correlationID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("signer: sign request: %w", err)
	}
	return "Bearer " + signed, nil
}

// Verify parses and validates a token produced by Sign, checking that it
// binds the given method, path, and body. Exposed for tests and for agents
// sharing this module.
func (s *Signer) Verify(authorization, method, path string, body []byte) error {
	const prefix = "Bearer "
	if len(authorization) <= len(prefix) || authorization[:len(prefix)] != prefix {
		return fmt.Errorf("signer: malformed authorization header")
	}

	token, err := jwt.Parse(authorization[len(prefix):],
		func(*jwt.Token) (any, error) { return s.key, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("signer: invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return fmt.Errorf("signer: invalid token claims")
	}

	digest := sha256.Sum256(body)
	if claims["method"] != method || claims["path"] != path {
		return fmt.Errorf("signer: token bound to different request")
	}
	if claims["body_sha256"] != hex.EncodeToString(digest[:]) {
		return fmt.Errorf("signer: body digest mismatch")
	}
	return nil
}
