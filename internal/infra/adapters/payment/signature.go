package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"hash"
	"strings"

	"saas-plan-payments/internal/domain"
)

type HashAlg int

const (
	SHA256 HashAlg = iota
	SHA512
)

type Encoding int

const (
	Hex Encoding = iota
	Base64
)

func (a HashAlg) new() func() hash.Hash {
	if a == SHA512 {
		return sha512.New
	}
	return sha256.New
}

// Sign returns the encoded HMAC of msg under secret.
func Sign(alg HashAlg, enc Encoding, secret, msg []byte) string {
	mac := hmac.New(alg.new(), secret)
	_, _ = mac.Write(msg)
	sum := mac.Sum(nil)
	if enc == Base64 {
		return base64.StdEncoding.EncodeToString(sum)
	}
	return hex.EncodeToString(sum)
}

// VerifySignature compares got against the HMAC of msg in constant time. Hex
// signatures are compared case-insensitively.
func VerifySignature(alg HashAlg, enc Encoding, secret, msg []byte, got string) error {
	got = strings.TrimSpace(got)
	if got == "" || len(secret) == 0 {
		return domain.VerificationError(domain.ErrInvalidSignature, "missing signature or secret")
	}
	want := Sign(alg, enc, secret, msg)
	if enc == Hex {
		got = strings.ToLower(got)
	}
	if !hmac.Equal([]byte(want), []byte(got)) {
		return domain.VerificationError(domain.ErrInvalidSignature, "")
	}
	return nil
}
