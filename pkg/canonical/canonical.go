// Package canonical produces the RFC 8785 (JCS) canonical JSON form of
// receipts. The canonical bytes are the exclusive input to HMAC
// signing: keys sorted lexicographically at every nesting level, no
// insignificant whitespace, no HTML escaping, shortest round-trip
// numbers, UTF-8.
package canonical

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/enact-dev/enact/pkg/contracts"
)

// Canonicalize returns the RFC 8785 canonical JSON encoding of v.
func Canonicalize(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return nil, fmt.Errorf("canonical: transform failed: %w", err)
	}
	return out, nil
}

// SignableReceipt returns the canonical bytes of r with the signature
// field excluded. Absent optional fields (originalRunID,
// userAttributes) are omitted, not encoded as null, so logically equal
// receipts canonicalize identically.
func SignableReceipt(r *contracts.Receipt) ([]byte, error) {
	signable := *r
	signable.Signature = ""
	return Canonicalize(&signable)
}
