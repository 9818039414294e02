// Package token generates and validates the opaque, time-bound correlation
// strings that bridge multi-step role provisioning flows.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	autherrors "github.com/jrsteele09/iiif-auth-server/internal/errors"
)

const (
	randomLength    = 16 // 128 bits
	timestampLength = 8
	tokenLength     = randomLength + timestampLength

	// DefaultValidFor is the window used when callers have no configured value.
	DefaultValidFor = 300 * time.Second
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// GenerateNewToken returns a new opaque token stamped with timestamp, which
// must be in UTC.
func GenerateNewToken(timestamp time.Time) (string, error) {
	if timestamp.Location() != time.UTC {
		return "", errors.Wrap(autherrors.ErrInvalidArgument, "[GenerateNewToken] timestamp must be UTC")
	}

	buf := make([]byte, tokenLength)
	if _, err := rand.Read(buf[:randomLength]); err != nil {
		return "", errors.Wrap(err, "[GenerateNewToken] rand.Read")
	}
	binary.BigEndian.PutUint64(buf[randomLength:], uint64(timestamp.UnixNano()))
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HasExpired reports whether token is older than validFor. Tokens that cannot
// be decoded are always treated as expired.
func HasExpired(token string, validFor time.Duration) bool {
	return HasExpiredAt(token, validFor, NowTimeFunc())
}

// HasExpiredAt is HasExpired evaluated at now.
func HasExpiredAt(token string, validFor time.Duration, now time.Time) bool {
	created, ok := decodeTimestamp(token)
	if !ok {
		return true
	}
	return now.UTC().Sub(created) > validFor
}

func decodeTimestamp(token string) (time.Time, bool) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenLength {
		return time.Time{}, false
	}
	nanos := int64(binary.BigEndian.Uint64(raw[randomLength:]))
	if nanos <= 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
