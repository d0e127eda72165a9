// Package digest implements the digest & fixity service: computing digests
// over files and byte buffers, a streaming fixity-check reader, and the
// DigestMap structure used to represent an inventory's manifest, fixity,
// and per-version state.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// Canonical OCFL algorithm names.
const (
	SHA512  = Alg("sha512")
	SHA256  = Alg("sha256")
	SHA1    = Alg("sha1")
	MD5     = Alg("md5")
	BLAKE2B = Alg("blake2b-512")
)

// Builtin lists the algorithms registered by default.
var Builtin = []Alg{SHA512, SHA256, SHA1, MD5, BLAKE2B}

var builtinDigesters = map[Alg]func() Digester{
	SHA512:  func() Digester { return &hashDigester{Hash: sha512.New()} },
	SHA256:  func() Digester { return &hashDigester{Hash: sha256.New()} },
	SHA1:    func() Digester { return &hashDigester{Hash: sha1.New()} },
	MD5:     func() Digester { return &hashDigester{Hash: md5.New()} },
	BLAKE2B: func() Digester { return &hashDigester{Hash: mustBlake2b512()} },
}

// Alg is a built-in digest algorithm identified by its canonical OCFL name.
type Alg string

// ID returns the algorithm's canonical name.
func (a Alg) ID() string { return string(a) }

// New returns a new Digester for the algorithm, or nil if the algorithm
// isn't registered as a builtin.
func (a Alg) New() Digester {
	if fn := builtinDigesters[a]; fn != nil {
		return fn()
	}
	return nil
}

// Digester accumulates bytes written to it and reports their hex digest.
type Digester interface {
	Write(p []byte) (int, error)
	// String returns the hex digest of all bytes written so far.
	String() string
}

type hashDigester struct {
	hash.Hash
}

func (h hashDigester) String() string { return hex.EncodeToString(h.Sum(nil)) }

func mustBlake2b512() hash.Hash {
	h, err := blake2b.New512(nil)
	if err != nil {
		// blake2b.New512 only errors when a non-nil key exceeds 64 bytes;
		// we never pass a key, so this is unreachable.
		panic("digest: blake2b-512 construction failed: " + err.Error())
	}
	return h
}
