// internal/utils/crypto.go
package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math/big"
	"strings"
)

// Crockford base32: no I, L, O or U, so codes survive being read aloud.
const verificationCodeCharset = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// VerificationCodeLength symbols of 5 bits each give 50 bits of entropy.
const VerificationCodeLength = 10

func GenerateRandomString(length int, charset string) (string, error) {
	b := make([]byte, length)

	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		b[i] = charset[n.Int64()]
	}

	return string(b), nil
}

// GenerateVerificationCode returns a code formatted as XXXXX-XXXXX.
func GenerateVerificationCode() (string, error) {
	raw, err := GenerateRandomString(VerificationCodeLength, verificationCodeCharset)
	if err != nil {
		return "", err
	}
	return raw[:VerificationCodeLength/2] + "-" + raw[VerificationCodeLength/2:], nil
}

// NormalizeVerificationCode uppercases, strips separators and maps the
// characters Crockford treats as aliases.
func NormalizeVerificationCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	replacer := strings.NewReplacer("-", "", " ", "", "O", "0", "I", "1", "L", "1")
	code = replacer.Replace(code)
	if len(code) != VerificationCodeLength {
		return code
	}
	return code[:VerificationCodeLength/2] + "-" + code[VerificationCodeLength/2:]
}

func HashString(input string) string {
	hasher := sha256.New()
	hasher.Write([]byte(input))
	return hex.EncodeToString(hasher.Sum(nil))
}
