// Package auth implements the salted-password / nonce challenge-response
// scheme used to authenticate a session: the server never sees a password
// twice, and a captured response can't be replayed against a later login.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. Tuned for an interactive login (sub-100ms on modest
// hardware), not for a high-security vault — raising Time/Memory trades
// login latency for brute-force cost if the stored hash is ever needed.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32

	saltLen  = 16
	nonceLen = 16
)

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(err) // crypto/rand failing means the system entropy source is broken
	}
	return b
}

// GenerateSalt returns a fresh random salt for a newly created account.
func GenerateSalt() []byte { return randomBytes(saltLen) }

// GenerateNonce returns a fresh random nonce for one login challenge. A
// nonce is used exactly once and discarded whether or not the login
// succeeds.
func GenerateNonce() []byte { return randomBytes(nonceLen) }

// HashPassword derives the credential stored alongside an account: the
// password salted and run through Argon2id. This value, not the password
// itself, is what Respond folds the challenge nonce into.
func HashPassword(password string, salt []byte) []byte {
	return argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// Respond computes the value a client sends back for a login challenge:
// SHA-256(passwordHash || nonce). Binding the nonce in means a response
// observed on the wire cannot be replayed once that nonce is retired.
func Respond(passwordHash, nonce []byte) []byte {
	h := sha256.New()
	h.Write(passwordHash)
	h.Write(nonce)
	return h.Sum(nil)
}

// VerifyResponse reports whether response is the correct answer to the
// challenge (passwordHash, nonce), in constant time.
func VerifyResponse(passwordHash, nonce, response []byte) bool {
	want := Respond(passwordHash, nonce)
	return subtle.ConstantTimeCompare(want, response) == 1
}
