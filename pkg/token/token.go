// Package token implements the connection-token codec and invite-code
// generation. A connection token is the single string an operator hands to a
// client: it carries the server host, port, and an invite code, encoded as
// URL-safe base64 (no padding) of canonical JSON.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"unicode/utf8"
)

// ConnectionToken is the decoded form of a connection token.
type ConnectionToken struct {
	Host       string `json:"host"`
	Port       uint16 `json:"port"`
	InviteCode string `json:"invite_code"`
}

// InviteCodeLength is the number of characters in a generated invite code.
const InviteCodeLength = 8

const (
	inviteAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	secretAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// Encode serializes a ConnectionToken to its wire string.
// Complexity: O(n) where n is the JSON size.
func Encode(t ConnectionToken) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("token: marshal: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a wire string back into a ConnectionToken.
// It fails with a descriptive error on invalid base64, invalid UTF-8,
// or invalid JSON structure.
func Decode(encoded string) (ConnectionToken, error) {
	var t ConnectionToken

	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return t, fmt.Errorf("token: invalid base64: %w", err)
	}
	if !utf8.Valid(data) {
		return t, fmt.Errorf("token: invalid UTF-8 payload")
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("token: invalid token JSON: %w", err)
	}
	return t, nil
}

// GenerateInviteCode returns a random 8-character lowercase alphanumeric
// invite code.
func GenerateInviteCode() string {
	return randomString(inviteAlphabet, InviteCodeLength)
}

// GenerateSecret returns a random mixed-case alphanumeric string, used for
// federation shared secrets.
func GenerateSecret(length int) string {
	return randomString(secretAlphabet, length)
}

func randomString(alphabet string, length int) string {
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails if the OS entropy source is broken.
			panic(fmt.Sprintf("token: random source unavailable: %v", err))
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}
