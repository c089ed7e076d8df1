package receipt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/enact-dev/enact/pkg/canonical"
	"github.com/enact-dev/enact/pkg/contracts"
)

// MinSecretLen is the enforced minimum signing-secret length.
const MinSecretLen = 32

// Signer computes and checks HMAC-SHA256 receipt signatures. The HMAC
// input is always the RFC 8785 canonical JSON of the receipt's signable
// fields; the signature field itself is excluded.
type Signer struct {
	secret []byte
}

// NewSigner validates the secret and returns a Signer. There is no
// default secret: an empty one is an error. allowInsecure waives the
// length check for dev and test setups only.
func NewSigner(secret string, allowInsecure bool) (*Signer, error) {
	if secret == "" {
		return nil, contracts.ErrMissingSecret
	}
	if len(secret) < MinSecretLen && !allowInsecure {
		return nil, contracts.ErrSecretTooShort
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign computes the signature over r's canonical signable form and
// stores the hex digest in r.Signature.
func (s *Signer) Sign(r *contracts.Receipt) error {
	sig, err := s.compute(r)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Verify recomputes the canonical form and compares in constant time
// against the stored signature. A false return means tampering or a
// different secret; the error return is reserved for unsigned receipts
// and canonicalization failures.
func (s *Signer) Verify(r *contracts.Receipt) (bool, error) {
	if r.Signature == "" {
		return false, contracts.ErrUnsigned
	}
	want, err := s.compute(r)
	if err != nil {
		return false, err
	}
	return hmac.Equal([]byte(want), []byte(r.Signature)), nil
}

func (s *Signer) compute(r *contracts.Receipt) (string, error) {
	payload, err := canonical.SignableReceipt(r)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}
