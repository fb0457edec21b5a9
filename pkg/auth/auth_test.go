package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPasswordDeterministicForSameSalt(t *testing.T) {
	salt := GenerateSalt()
	a := HashPassword("hunter2", salt)
	b := HashPassword("hunter2", salt)
	assert.Equal(t, a, b)
}

func TestHashPasswordDiffersAcrossSalts(t *testing.T) {
	a := HashPassword("hunter2", GenerateSalt())
	b := HashPassword("hunter2", GenerateSalt())
	assert.NotEqual(t, a, b)
}

func TestVerifyResponseAcceptsCorrectAnswer(t *testing.T) {
	salt := GenerateSalt()
	hash := HashPassword("hunter2", salt)
	nonce := GenerateNonce()

	response := Respond(hash, nonce)
	assert.True(t, VerifyResponse(hash, nonce, response))
}

func TestVerifyResponseRejectsWrongPassword(t *testing.T) {
	salt := GenerateSalt()
	hash := HashPassword("hunter2", salt)
	nonce := GenerateNonce()

	wrongHash := HashPassword("wrong", salt)
	response := Respond(wrongHash, nonce)
	assert.False(t, VerifyResponse(hash, nonce, response))
}

func TestVerifyResponseRejectsReplayedResponse(t *testing.T) {
	salt := GenerateSalt()
	hash := HashPassword("hunter2", salt)

	firstNonce := GenerateNonce()
	response := Respond(hash, firstNonce)

	secondNonce := GenerateNonce()
	assert.False(t, VerifyResponse(hash, secondNonce, response), "a response to an earlier nonce must not verify against a new one")
}
