// Package identity allocates opaque identifiers, bearer secrets and numeric
// room codes.
package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

const (
	SessionIDLength   = 12
	HostTokenLength   = 32
	JoinTokenLength   = 24
	ChallengeIDLength = 10
	AttemptIDLength   = 12
)

// NewID returns a random base58 string of exactly n characters.
func NewID(n int) string {
	if n <= 0 {
		return ""
	}
	var sb strings.Builder
	for sb.Len() < n {
		buf := make([]byte, n)
		if _, err := rand.Read(buf); err != nil {
			panic("identity: crypto/rand failed: " + err.Error())
		}
		sb.WriteString(base58.Encode(buf))
	}
	return sb.String()[:n]
}

// NewSecret returns a bearer secret of n characters.
func NewSecret(n int) string {
	return NewID(n)
}

// NewEventID identifies envelopes and connections that arrive without a
// client-supplied id.
func NewEventID() string {
	return uuid.NewString()
}

// NewRoomCode returns a string of size uniformly random decimal digits.
func NewRoomCode(size int) string {
	out := make([]byte, size)
	ten := big.NewInt(10)
	for i := range out {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			panic("identity: crypto/rand failed: " + err.Error())
		}
		out[i] = byte('0' + n.Int64())
	}
	return string(out)
}

// Equal compares a presented token against a stored secret in constant time.
// An empty presented token never matches.
func Equal(presented, stored string) bool {
	if presented == "" || stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
