package cmd

import (
	"bytes"
	"io"
)

// prefixWriter starts every output line with a fixed prefix.  Lines may
// arrive split across writes.
type prefixWriter struct {
	w           io.Writer
	prefix      []byte
	atLineStart bool
}

func newPrefixWriter(w io.Writer, prefix string) *prefixWriter {
	return &prefixWriter{w: w, prefix: []byte(prefix), atLineStart: true}
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	n := len(b)
	var buf bytes.Buffer
	for len(b) > 0 {
		if p.atLineStart {
			buf.Write(p.prefix)
			p.atLineStart = false
		}
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			buf.Write(b)
			break
		}
		buf.Write(b[:i+1])
		b = b[i+1:]
		p.atLineStart = true
	}
	if _, err := p.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return n, nil
}
