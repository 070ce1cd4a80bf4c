package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	ErrBadSignature     = errors.New("bad signature")
	ErrSignatureExpired = errors.New("signature expired")
)

// TimestampSigner issues value:timestamp:signature tokens signed with
// HMAC-SHA256. The salt namespaces signatures so a token minted for one
// purpose (email confirmation) cannot be replayed for another (invites).
type TimestampSigner struct {
	key  []byte
	salt string
}

func NewTimestampSigner(secretKey, salt string) *TimestampSigner {
	return &TimestampSigner{key: []byte(secretKey), salt: salt}
}

func (s *TimestampSigner) Sign(value string) string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	payload := value + ":" + ts
	return payload + ":" + s.signature(payload)
}

// Unsign verifies the signature and the token age, returning the original
// value.
func (s *TimestampSigner) Unsign(token string, maxAge time.Duration) (string, error) {
	idx := strings.LastIndexByte(token, ':')
	if idx < 0 {
		return "", ErrBadSignature
	}
	payload, sig := token[:idx], token[idx+1:]
	if !hmac.Equal([]byte(sig), []byte(s.signature(payload))) {
		return "", ErrBadSignature
	}

	idx = strings.LastIndexByte(payload, ':')
	if idx < 0 {
		return "", ErrBadSignature
	}
	value, rawTS := payload[:idx], payload[idx+1:]
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return "", ErrBadSignature
	}
	if time.Since(time.Unix(ts, 0)) > maxAge {
		return "", ErrSignatureExpired
	}
	return value, nil
}

func (s *TimestampSigner) signature(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%s", s.salt, payload)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

const emailConfirmationSalt = "auth.email-confirmation"

// EmailConfirmationMaxAge bounds how long a confirmation link stays valid.
const EmailConfirmationMaxAge = 48 * time.Hour

// MakeEmailConfirmationToken signs the user id for the activation link.
func MakeEmailConfirmationToken(secretKey string, userID int64) string {
	signer := NewTimestampSigner(secretKey, emailConfirmationSalt)
	return signer.Sign(strconv.FormatInt(userID, 10))
}

// VerifyEmailConfirmationToken checks signature and age and returns the
// user id the token was minted for.
func VerifyEmailConfirmationToken(secretKey, token string) (int64, error) {
	signer := NewTimestampSigner(secretKey, emailConfirmationSalt)
	raw, err := signer.Unsign(token, EmailConfirmationMaxAge)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrBadSignature
	}
	return id, nil
}
