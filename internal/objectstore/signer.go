package objectstore

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

var (
	// ErrTokenExpired is returned when an upload token's deadline has passed.
	ErrTokenExpired = errors.New("objectstore: upload token expired")
	// ErrTokenInvalid is returned when a token fails signature or shape checks.
	ErrTokenInvalid = errors.New("objectstore: upload token invalid")
)

// UploadToken is the signed payload embedded in a pre-authorized upload URL.
// It binds one object key and bucket to a deadline so the bearer can PUT that
// single object and nothing else.
type UploadToken struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Signer mints and verifies upload tokens with an HMAC-SHA256 keyed hash.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner returns a Signer using the given shared secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign returns an opaque token authorizing one upload of the given object.
func (s *Signer) Sign(bucket, key string, ttl time.Duration) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	tok := UploadToken{Bucket: bucket, Key: key, ExpiresAt: s.now().Add(ttl).UTC()}
	payload, err := json.Marshal(tok)
	if err != nil {
		return "", fmt.Errorf("encode upload token: %w", err)
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + s.signature(body), nil
}

// Verify checks the token's signature and deadline and returns its payload.
func (s *Signer) Verify(token string) (*UploadToken, error) {
	body, sig, found := strings.Cut(token, ".")
	if !found {
		return nil, ErrTokenInvalid
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(body))) {
		return nil, ErrTokenInvalid
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	var tok UploadToken
	if err := json.Unmarshal(payload, &tok); err != nil {
		return nil, ErrTokenInvalid
	}
	if s.now().After(tok.ExpiresAt) {
		return nil, ErrTokenExpired
	}
	return &tok, nil
}

func (s *Signer) signature(body string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(body))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
