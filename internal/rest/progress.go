package rest

import "io"

// ProgressReader wraps an io.Reader and reports the cumulative byte count to
// a callback after every read. The callback runs on the reading goroutine
// and must not block on further I/O.
type ProgressReader struct {
	R     io.Reader
	Fn    func(bytesSoFar int64)
	Bytes int64
}

// Read implements io.Reader.
func (p *ProgressReader) Read(buf []byte) (int, error) {
	n, err := p.R.Read(buf)
	if n > 0 {
		p.Bytes += int64(n)
		if p.Fn != nil {
			p.Fn(p.Bytes)
		}
	}
	return n, err
}

// ProgressWriter mirrors ProgressReader for write paths.
type ProgressWriter struct {
	W     io.Writer
	Fn    func(bytesSoFar int64)
	Bytes int64
}

// Write implements io.Writer.
func (p *ProgressWriter) Write(buf []byte) (int, error) {
	n, err := p.W.Write(buf)
	if n > 0 {
		p.Bytes += int64(n)
		if p.Fn != nil {
			p.Fn(p.Bytes)
		}
	}
	return n, err
}
