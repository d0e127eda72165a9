package layout

import (
	"fmt"

	"github.com/dcsio/ocflcore/digest"
)

// hashHex hashes data under the named digest algorithm and returns the
// hex digest, reusing the digest package's algorithm registry rather than
// importing crypto/hash packages directly here.
func hashHex(algName string, data []byte) (string, error) {
	alg := digest.Alg(algName)
	d := alg.New()
	if d == nil {
		return "", fmt.Errorf("unknown digest algorithm: %q", algName)
	}
	if _, err := d.Write(data); err != nil {
		return "", err
	}
	return d.String(), nil
}

const lowerhex = "0123456789abcdef"

// percentEncode percent-escapes bytes outside [A-Za-z0-9_-], matching the
// escaping used by the hashed-n-tuple-id layout for the encapsulation
// directory name.
func percentEncode(in string) string {
	shouldEscape := func(c byte) bool {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9', c == '-', c == '_':
			return false
		default:
			return true
		}
	}
	var numEscape int
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			numEscape++
		}
	}
	if numEscape == 0 {
		return in
	}
	out := make([]byte, len(in)+2*numEscape)
	j := 0
	for i := 0; i < len(in); i++ {
		if shouldEscape(in[i]) {
			out[j] = '%'
			out[j+1] = lowerhex[in[i]>>4]
			out[j+2] = lowerhex[in[i]&0xf]
			j += 3
			continue
		}
		out[j] = in[i]
		j++
	}
	return string(out)
}
