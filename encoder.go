package accounts

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	EncoderArgon2id = "argon2id"
	EncoderPBKDF2   = "pbkdf2"
)

// saltBytes is the size of generated salts
const saltBytes = 16

// PasswordEncoder turns a plaintext secret and a salt into the stored hash.
// Implementations must be deterministic per (plain, salt) and one way.
type PasswordEncoder interface {
	Hash(plain, salt string) (string, error)
}

// PasswordEncoderFunc adapts a function to PasswordEncoder
type PasswordEncoderFunc func(plain, salt string) (string, error)

// Hash implements PasswordEncoder.
func (f PasswordEncoderFunc) Hash(plain, salt string) (string, error) {
	return f(plain, salt)
}

// Argon2Encoder hashes with argon2id
type Argon2Encoder struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
}

// NewArgon2Encoder returns an encoder with the default cost parameters.
func NewArgon2Encoder() Argon2Encoder {
	return Argon2Encoder{
		Time:    1,
		Memory:  64 * 1024,
		Threads: 4,
		KeyLen:  32,
	}
}

// Hash implements PasswordEncoder.
func (e Argon2Encoder) Hash(plain, salt string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	key := argon2.IDKey([]byte(plain), []byte(salt), e.Time, e.Memory, e.Threads, e.KeyLen)
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// PBKDF2Encoder hashes with PBKDF2-SHA512
type PBKDF2Encoder struct {
	Iterations int
	KeyLen     int
}

// NewPBKDF2Encoder returns an encoder with the default cost parameters.
func NewPBKDF2Encoder() PBKDF2Encoder {
	return PBKDF2Encoder{
		Iterations: 210000,
		KeyLen:     64,
	}
}

// Hash implements PasswordEncoder.
func (e PBKDF2Encoder) Hash(plain, salt string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	key := pbkdf2.Key([]byte(plain), []byte(salt), e.Iterations, e.KeyLen, sha512.New)
	return base64.RawStdEncoding.EncodeToString(key), nil
}

// NewPasswordEncoder resolves an encoder by its configuration name.
func NewPasswordEncoder(name string) (PasswordEncoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncoderArgon2id:
		return NewArgon2Encoder(), nil
	case EncoderPBKDF2:
		return NewPBKDF2Encoder(), nil
	}
	return nil, ErrUnknownEncoder.Clone().WithMetadata(map[string]any{
		"encoder": name,
	})
}

// GenerateSalt returns a random hex encoded salt.
func GenerateSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate password salt")
	}
	return hex.EncodeToString(buf), nil
}

// PasswordMatches hashes plain with salt and compares it to hash in
// constant time.
func PasswordMatches(encoder PasswordEncoder, plain, salt, hash string) (bool, error) {
	if encoder == nil {
		return false, ErrUnknownEncoder
	}
	if plain == "" || hash == "" {
		return false, nil
	}
	computed, err := encoder.Hash(plain, salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(hash)) == 1, nil
}
