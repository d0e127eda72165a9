package inventory

import (
	"encoding"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

var (
	ErrVNumInvalid = errors.New("invalid version number")
	ErrVNumPadding = errors.New("inconsistent version padding in version sequence")
	ErrVNumMissing = errors.New("missing version in version sequence")
	ErrVNumEmpty   = errors.New("no versions found")

	// Head is the zero value VNum, used by some functions to mean "the
	// most recent version".
	Head = VNum{}
)

// VNum is an OCFL version number ("v1", "v002", ...): a sequence number
// plus an optional zero-padding width.
type VNum struct {
	num     int
	padding int
}

// V constructs a VNum from a sequence number and optional padding width.
func V(num int, padding ...int) VNum {
	v := VNum{num: num}
	if len(padding) > 0 {
		v.padding = padding[0]
	}
	return v
}

// ParseVNum parses s ("v1", "v002", ...) into *vn.
func ParseVNum(s string, vn *VNum) error {
	var n, p int
	var nonzero bool
	if len(s) < 2 || s[0] != 'v' {
		return fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	if s[1] == '0' {
		p = len(s) - 1
	}
	for i := 1; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("%s: %w", s, ErrVNumInvalid)
		}
		if s[i] != '0' {
			nonzero = true
		}
	}
	if !nonzero {
		return fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	var err error
	if n, err = strconv.Atoi(s[1:]); err != nil {
		return fmt.Errorf("%s: %w", s, ErrVNumInvalid)
	}
	vn.num, vn.padding = n, p
	return nil
}

// MustParseVNum parses s, panicking on error. Intended for literals.
func MustParseVNum(s string) VNum {
	var v VNum
	if err := ParseVNum(s, &v); err != nil {
		panic(err)
	}
	return v
}

func (v VNum) Num() int     { return v.num }
func (v VNum) Padding() int { return v.padding }
func (v VNum) IsZero() bool { return v == Head }
func (v VNum) First() bool  { return v.num == 1 }

// Next returns the version after v with the same padding.
func (v VNum) Next() (VNum, error) {
	next := VNum{num: v.num + 1, padding: v.padding}
	if next.paddingOverflow() {
		return VNum{}, fmt.Errorf("next version: %w: padding overflow", ErrVNumInvalid)
	}
	return next, nil
}

// Prev returns the version before v. Fails for v1.
func (v VNum) Prev() (VNum, error) {
	if v.num <= 1 {
		return VNum{}, errors.New("no previous version")
	}
	return VNum{num: v.num - 1, padding: v.padding}, nil
}

func (v VNum) String() string {
	return fmt.Sprintf("v%0*d", v.padding, v.num)
}

// Valid reports whether v is a well-formed, in-range version number.
func (v VNum) Valid() error {
	if v.num <= 0 || v.paddingOverflow() {
		return fmt.Errorf("%w: num=%d padding=%d", ErrVNumInvalid, v.num, v.padding)
	}
	return nil
}

func (v VNum) paddingOverflow() bool {
	return v.padding > 0 && v.num >= int(math.Pow10(v.padding-1))
}

var (
	_ encoding.TextMarshaler   = VNum{}
	_ encoding.TextUnmarshaler = (*VNum)(nil)
)

func (v *VNum) UnmarshalText(text []byte) error {
	return ParseVNum(string(text), v)
}

func (v VNum) MarshalText() ([]byte, error) {
	if err := v.Valid(); err != nil {
		return nil, err
	}
	return []byte(v.String()), nil
}

// VNums is a sortable slice of VNum.
type VNums []VNum

// Valid reports whether vs is a contiguous v1..head sequence with
// consistent padding.
func (vs VNums) Valid() error {
	if len(vs) == 0 {
		return ErrVNumEmpty
	}
	cp := append(VNums(nil), vs...)
	sort.Sort(cp)
	padding := cp[0].padding
	for i := range cp {
		if cp[i].num != i+1 {
			return fmt.Errorf("%w: %s", ErrVNumMissing, V(i+1, padding))
		}
		if cp[i].padding != padding {
			return ErrVNumPadding
		}
	}
	return cp.Head().Valid()
}

func (vs VNums) Head() VNum {
	if len(vs) == 0 {
		return VNum{}
	}
	return vs[len(vs)-1]
}

func (vs VNums) Padding() int {
	if len(vs) == 0 {
		return 0
	}
	return vs[0].Padding()
}

var _ sort.Interface = VNums(nil)

func (vs VNums) Len() int           { return len(vs) }
func (vs VNums) Less(i, j int) bool { return vs[i].num < vs[j].num }
func (vs VNums) Swap(i, j int)      { vs[i], vs[j] = vs[j], vs[i] }
