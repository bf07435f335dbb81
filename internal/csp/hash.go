package csp

import (
	"context"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
)

// Digester produces a fixed-length digest of a byte sequence. A nil Digester
// means the digest capability is unavailable.
type Digester interface {
	// Algorithm is the CSP hash-source prefix, e.g. "sha256".
	Algorithm() string
	Digest(ctx context.Context, data []byte) ([]byte, error)
}

// SupportedAlgorithms lists the hash algorithms CSP accepts.
var SupportedAlgorithms = []string{"sha256", "sha384", "sha512"}

type shaDigester struct {
	algo    string
	newHash func() hash.Hash
}

// NewDigester returns a Digester for sha256, sha384 or sha512.
func NewDigester(algo string) (Digester, error) {
	switch algo {
	case "sha256", "":
		return shaDigester{algo: "sha256", newHash: sha256.New}, nil
	case "sha384":
		return shaDigester{algo: "sha384", newHash: sha512.New384}, nil
	case "sha512":
		return shaDigester{algo: "sha512", newHash: sha512.New}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q (use sha256, sha384 or sha512)", algo)
	}
}

func (d shaDigester) Algorithm() string {
	return d.algo
}

func (d shaDigester) Digest(ctx context.Context, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := d.newHash()
	h.Write(data) //nolint:errcheck // hash.Hash writes never fail
	return h.Sum(nil), nil
}

// HashSource computes the hash-source token for an inline body. The content
// is hashed exactly as it appears in the element, so identical bodies map to
// the same token regardless of which element carried them.
func HashSource(ctx context.Context, d Digester, content string) (Token, error) {
	sum, err := d.Digest(ctx, []byte(content))
	if err != nil {
		return "", fmt.Errorf("digesting inline content: %w", err)
	}
	return HashToken(d.Algorithm(), base64.StdEncoding.EncodeToString(sum)), nil
}
