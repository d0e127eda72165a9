package digest

import (
	"io"
)

// MultiDigester computes several digests over a single stream in one pass.
type MultiDigester struct {
	io.Writer
	digesters map[string]Digester
}

// NewMultiDigester returns a MultiDigester for the given algorithms.
func NewMultiDigester(algs ...Alg) *MultiDigester {
	writers := make([]io.Writer, 0, len(algs))
	digesters := make(map[string]Digester, len(algs))
	for _, a := range algs {
		d := a.New()
		if d == nil {
			continue
		}
		digesters[a.ID()] = d
		writers = append(writers, d)
	}
	return &MultiDigester{
		Writer:    io.MultiWriter(writers...),
		digesters: digesters,
	}
}

// Sum returns the hex digest for alg, or "" if alg wasn't configured.
func (md *MultiDigester) Sum(alg string) string {
	if d := md.digesters[alg]; d != nil {
		return d.String()
	}
	return ""
}

// Sums returns all computed digests keyed by algorithm ID.
func (md *MultiDigester) Sums() map[string]string {
	out := make(map[string]string, len(md.digesters))
	for alg, d := range md.digesters {
		out[alg] = d.String()
	}
	return out
}

// Compute streams r through alg and returns the hex digest.
func Compute(r io.Reader, alg Alg) (string, error) {
	d := alg.New()
	if d == nil {
		return "", ErrUnknownAlg
	}
	if _, err := io.Copy(d, r); err != nil {
		return "", err
	}
	return d.String(), nil
}

// FixityReader wraps an io.Reader, accumulating a digest over every byte
// read. Call CheckFixity after the stream is fully drained (EOF reached or
// the consumer is done reading) to compare the accumulated digest against
// the expected value. Within this module it checks content read back out
// of the object root during version reconstruction; content moved into
// the object root by StoreNewVersion is not stream-checked.
type FixityReader struct {
	r        io.Reader
	digester *MultiDigester
	alg      Alg
	expected string
}

// NewFixityReader returns a FixityReader that checks r's bytes against
// expected under alg as they are consumed, plus any additional algorithms
// (e.g. configured fixity algs) whose sums are available via Sums after
// the stream is drained.
func NewFixityReader(r io.Reader, alg Alg, expected string, extra ...Alg) *FixityReader {
	algs := make([]Alg, 0, 1+len(extra))
	algs = append(algs, alg)
	algs = append(algs, extra...)
	md := NewMultiDigester(algs...)
	return &FixityReader{
		r:        io.TeeReader(r, md),
		digester: md,
		alg:      alg,
		expected: expected,
	}
}

// Read implements io.Reader, updating the running digest as bytes pass
// through.
func (f *FixityReader) Read(p []byte) (int, error) {
	return f.r.Read(p)
}

// CheckFixity compares the digest accumulated so far against the expected
// value. It must be called only after the stream has been fully read;
// calling it early will under-report the digest and may falsely pass or
// fail.
func (f *FixityReader) CheckFixity() error {
	got := f.digester.Sum(f.alg.ID())
	if got != f.expected {
		return &MismatchError{Alg: f.alg.ID(), Got: got, Expected: f.expected}
	}
	return nil
}

// Sums returns all digests computed over the stream so far, keyed by
// algorithm ID. Used to pick up fixity-algorithm values alongside the
// primary digest in a single pass.
func (f *FixityReader) Sums() map[string]string {
	return f.digester.Sums()
}
