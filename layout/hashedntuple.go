package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LayoutHashedNTuple implements hashed-n-tuple: the objectId is hashed
// under DigestAlgorithm, the hex digest is partitioned into NumberOfTuples
// segments of TupleSize characters each, and the full hex digest is
// appended as a final encapsulation directory (dropped when
// ShortObjectRoot is true).
//
// As a special case, TupleSize == 0 and NumberOfTuples == 0 means "no
// hashing, full digest as the only directory name": the digest is computed
// but not partitioned, and is used directly as the object root path.
type LayoutHashedNTuple struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	NumberOfTuples  int    `json:"numberOfTuples"`
	ShortObjectRoot bool   `json:"shortObjectRoot"`
}

var _ Layout = (*LayoutHashedNTuple)(nil)

// NewLayoutHashedNTuple returns a hashed-n-tuple layout with the
// extension's documented defaults.
func NewLayoutHashedNTuple() *LayoutHashedNTuple {
	return &LayoutHashedNTuple{
		DigestAlgorithm: "sha256",
		TupleSize:       3,
		NumberOfTuples:  3,
		ShortObjectRoot: false,
	}
}

func (*LayoutHashedNTuple) Name() string { return HashedNTuple }

func (l *LayoutHashedNTuple) Resolve(id string) (string, error) {
	if id == "" {
		return "", ErrInvalidID
	}
	if l.TupleSize == 0 && l.NumberOfTuples != 0 {
		return "", errors.New("numberOfTuples must be 0 if tupleSize is 0")
	}
	if l.NumberOfTuples == 0 && l.TupleSize != 0 {
		return "", errors.New("tupleSize must be 0 if numberOfTuples is 0")
	}
	hexDigest, err := hashHex(l.DigestAlgorithm, []byte(id))
	if err != nil {
		return "", err
	}
	if l.TupleSize == 0 && l.NumberOfTuples == 0 {
		// no hashing structure: full digest is the object root path
		return hexDigest, nil
	}
	need := l.TupleSize * l.NumberOfTuples
	if need > len(hexDigest) {
		return "", fmt.Errorf("product of tupleSize and numberOfTuples exceeds digest length for %s", l.DigestAlgorithm)
	}
	tuples := make([]string, 0, l.NumberOfTuples+1)
	for i := 0; i < l.NumberOfTuples; i++ {
		tuples = append(tuples, hexDigest[i*l.TupleSize:(i+1)*l.TupleSize])
	}
	if !l.ShortObjectRoot {
		tuples = append(tuples, hexDigest)
	}
	return strings.Join(tuples, "/"), nil
}

func (l *LayoutHashedNTuple) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"extensionName":   HashedNTuple,
		"digestAlgorithm": l.DigestAlgorithm,
		"tupleSize":       l.TupleSize,
		"numberOfTuples":  l.NumberOfTuples,
		"shortObjectRoot": l.ShortObjectRoot,
	})
}
