package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// URLSigner creates and validates download tokens for stored exports, so the
// download endpoint can stay unauthenticated without exposing the directory.
type URLSigner struct {
	secret []byte
	ttl    time.Duration
}

// NewURLSigner constructs a signer with the provided secret and token TTL.
func NewURLSigner(secret string, ttl time.Duration) *URLSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &URLSigner{secret: []byte(secret), ttl: ttl}
}

// Generate returns a signed token referencing the stored file name.
func (s *URLSigner) Generate(name string) (string, time.Time, error) {
	if name == "" {
		return "", time.Time{}, fmt.Errorf("file name required")
	}
	if len(s.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("signing secret missing")
	}
	expiresAt := time.Now().Add(s.ttl)
	encodedName := base64.RawURLEncoding.EncodeToString([]byte(name))
	payload := fmt.Sprintf("%d|%s", expiresAt.Unix(), encodedName)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))
	token := strings.Join([]string{strconv.FormatInt(expiresAt.Unix(), 10), encodedName, signature}, ".")
	return token, expiresAt, nil
}

// Parse validates a token and returns the embedded file name.
func (s *URLSigner) Parse(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid token format")
	}
	ts, encodedName, signature := parts[0], parts[1], parts[2]

	payload := fmt.Sprintf("%s|%s", ts, encodedName)
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write([]byte(payload))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return "", fmt.Errorf("invalid token signature")
	}

	expUnix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid timestamp")
	}
	if time.Now().After(time.Unix(expUnix, 0)) {
		return "", fmt.Errorf("token expired")
	}

	rawName, err := base64.RawURLEncoding.DecodeString(encodedName)
	if err != nil {
		return "", fmt.Errorf("decode file name: %w", err)
	}
	return string(rawName), nil
}
