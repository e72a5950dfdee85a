// Package auth holds the credential primitives: password hashing, signed
// identity tokens and password reset tokens.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/dmitrijs2005/gatekeeper/internal/common"
)

// ErrPasswordTooLong is returned when the hasher cannot accept the input.
var ErrPasswordTooLong = errors.New("password too long")

// PasswordHasher turns plaintext passwords into salted slow hashes.
// Verify never fails loudly: a malformed hash is simply a mismatch.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) bool
}

// NewPasswordHasher returns the hasher named by kind ("bcrypt" or
// "argon2id") with the given work factor.
func NewPasswordHasher(kind string, cost int) (PasswordHasher, error) {
	switch kind {
	case "", "bcrypt":
		return NewBcryptHasher(cost), nil
	case "argon2id":
		if cost < 1 || cost > Argon2MaxTime {
			return nil, fmt.Errorf("argon2id cost must be between 1 and %d", Argon2MaxTime)
		}
		return NewArgon2Hasher(uint32(cost)), nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", kind)
	}
}

type BcryptHasher struct {
	cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

const (
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	argon2SaltLen = 16

	// Stored parameters above these bounds are treated as corrupt.
	argon2MaxMemory = 1024 * 1024
	argon2MaxKeyLen = 128
	Argon2MaxTime   = 16
)

// Argon2Hasher produces PHC strings:
// $argon2id$v=19$m=65536,t=<time>,p=4$<salt>$<key>
type Argon2Hasher struct {
	time uint32
}

func NewArgon2Hasher(time uint32) *Argon2Hasher {
	if time == 0 {
		time = 1
	}
	return &Argon2Hasher{time: time}
}

func (h *Argon2Hasher) Hash(password string) (string, error) {
	salt := common.GenerateRandByteArray(argon2SaltLen)
	key := argon2.IDKey([]byte(password), salt, h.time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, h.time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

func (h *Argon2Hasher) Verify(password, hash string) bool {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}
	if memory == 0 || time == 0 || threads == 0 ||
		memory > argon2MaxMemory || time > Argon2MaxTime {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(want) == 0 || len(want) > argon2MaxKeyLen {
		return false
	}

	got := argon2.IDKey([]byte(password), salt, time, memory, threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}
