package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// LayoutHashedNTupleID implements hashed-n-tuple-id: like
// LayoutHashedNTuple, except the encapsulation directory is the
// percent-escaped objectId rather than the full hex digest, truncated to
// 100 characters with the hex digest appended (separated by "-") when
// truncation occurs.
type LayoutHashedNTupleID struct {
	DigestAlgorithm string `json:"digestAlgorithm"`
	TupleSize       int    `json:"tupleSize"`
	NumberOfTuples  int    `json:"numberOfTuples"`
}

var _ Layout = (*LayoutHashedNTupleID)(nil)

const maxEncapsulationLen = 100

// NewLayoutHashedNTupleID returns a hashed-n-tuple-id layout with the
// extension's documented defaults.
func NewLayoutHashedNTupleID() *LayoutHashedNTupleID {
	return &LayoutHashedNTupleID{
		DigestAlgorithm: "sha256",
		TupleSize:       3,
		NumberOfTuples:  3,
	}
}

func (*LayoutHashedNTupleID) Name() string { return HashedNTupleID }

func (l *LayoutHashedNTupleID) Resolve(id string) (string, error) {
	encID := percentEncode(id)
	if encID == "" {
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
	need := l.TupleSize * l.NumberOfTuples
	if need > len(hexDigest) {
		return "", fmt.Errorf("product of tupleSize and numberOfTuples exceeds digest length for %s", l.DigestAlgorithm)
	}
	if len(encID) > maxEncapsulationLen {
		encID = encID[:maxEncapsulationLen] + "-" + hexDigest
	}
	if l.TupleSize == 0 && l.NumberOfTuples == 0 {
		return encID, nil
	}
	tuples := make([]string, 0, l.NumberOfTuples+1)
	for i := 0; i < l.NumberOfTuples; i++ {
		tuples = append(tuples, hexDigest[i*l.TupleSize:(i+1)*l.TupleSize])
	}
	tuples = append(tuples, encID)
	return strings.Join(tuples, "/"), nil
}

func (l *LayoutHashedNTupleID) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]any{
		"extensionName":   HashedNTupleID,
		"digestAlgorithm": l.DigestAlgorithm,
		"tupleSize":       l.TupleSize,
		"numberOfTuples":  l.NumberOfTuples,
	})
}
