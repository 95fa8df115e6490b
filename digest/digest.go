// Package digest provides the content-addressing hash capability used by
// contentstore, per spec section 3 ("digest is a trait/capability
// parameter, not fixed to one algorithm").
package digest

import "crypto/sha256"

// Func computes a 32-byte content digest for a blob of bytes. Any two
// Store instances that are meant to interoperate on the same on-disk
// directory must agree on the same Func: the digest is part of the
// content-address, not an internal implementation detail.
type Func func([]byte) [32]byte

// SHA256 is the default digest: stdlib SHA-256.
var SHA256 Func = sha256.Sum256
