package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonMemory      = 32 * 1024 // 32 MiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLen      = 32
	saltLen          = 16
)

const hashPrefix = "$argon2id$"

func HashPassword(pw string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(pw), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// IsHashed reports whether v looks like an encoded Argon2id hash rather than a raw secret.
func IsHashed(v string) bool {
	return strings.HasPrefix(v, hashPrefix) && strings.Count(v, "$") == 5
}

// Bounds accepted for stored hashes. Values outside them come from bad
// imports and would stall or crash argon2.
const (
	maxMemory     = 1024 * 1024 // 1 GiB
	maxIterations = 64
	minSaltLen    = 8
	minKeyLen     = 16
	maxKeyLen     = 128
)

type encodedHash struct {
	mem  uint32
	it   uint32
	par  uint8
	salt []byte
	key  []byte
}

func decodeHash(encoded string) (encodedHash, error) {
	var h encodedHash
	if !IsHashed(encoded) {
		return h, fmt.Errorf("not an argon2id hash")
	}
	parts := strings.Split(encoded, "$")
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return h, fmt.Errorf("unsupported argon2 version")
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.mem, &h.it, &h.par); err != nil {
		return h, fmt.Errorf("parse parameters: %w", err)
	}
	if h.par == 0 || h.it == 0 || h.it > maxIterations || h.mem < 8*uint32(h.par) || h.mem > maxMemory {
		return h, fmt.Errorf("argon2 parameters out of range")
	}
	var err error
	if h.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil || len(h.salt) < minSaltLen {
		return h, fmt.Errorf("bad salt")
	}
	if h.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(h.key) < minKeyLen || len(h.key) > maxKeyLen {
		return h, fmt.Errorf("bad key")
	}
	return h, nil
}

// ValidHash reports whether encoded is an Argon2id hash VerifyPassword can check.
func ValidHash(encoded string) bool {
	_, err := decodeHash(encoded)
	return err == nil
}

// VerifyPassword compares pw against an encoded hash. Empty, malformed or
// out-of-range hashes never match.
func VerifyPassword(encoded, pw string) bool {
	h, err := decodeHash(encoded)
	if err != nil {
		return false
	}
	other := argon2.IDKey([]byte(pw), h.salt, h.it, h.mem, h.par, uint32(len(h.key)))
	return subtle.ConstantTimeCompare(h.key, other) == 1
}
