package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// RefPrefix marks a content reference's digest algorithm.
const RefPrefix = "sha256:"

var canonicalMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("audit: invalid canonical cbor options: %v", err))
	}
	return em
}()

// Canonical returns the deterministic CBOR encoding of v. Map keys are
// sorted, so equal values always encode to equal bytes.
func Canonical(v any) ([]byte, error) {
	b, err := canonicalMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// ContentRef computes the content-addressed reference of an artifact:
// "sha256:" followed by the hex digest of its canonical encoding.
func ContentRef(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return RefPrefix + hex.EncodeToString(sum[:]), nil
}
