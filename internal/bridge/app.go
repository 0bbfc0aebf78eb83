package bridge

import (
	"io"
)

// Header is one response header field. Order is preserved end to end.
type Header struct {
	Name  string
	Value string
}

// StartResponse records the status line and headers of the response and
// returns a writer appending directly to the response body. It may be called
// more than once; the most recent call wins.
type StartResponse func(status string, headers []Header) io.Writer

// Application is the calling convention an embedded application implements.
// Handle is called exactly once per request. The returned producer may be
// nil when the whole body was written through the StartResponse writer.
type Application interface {
	Handle(env Environ, start StartResponse) (BodyProducer, error)
}

// ApplicationFunc adapts a function to the Application interface.
type ApplicationFunc func(env Environ, start StartResponse) (BodyProducer, error)

func (f ApplicationFunc) Handle(env Environ, start StartResponse) (BodyProducer, error) {
	return f(env, start)
}

// BodyProducer is a lazy, finite, single pass sequence of body chunks.
// Next returns io.EOF once the sequence is exhausted. Release is called by
// the bridge exactly once, after draining, on every exit path.
type BodyProducer interface {
	Next() ([]byte, error)
	Release() error
}

type sliceProducer struct {
	chunks   [][]byte
	pos      int
	released bool
}

// Chunks returns a producer yielding the given chunks in order.
func Chunks(chunks ...[]byte) BodyProducer {
	return &sliceProducer{chunks: chunks}
}

// Empty returns a producer with no chunks.
func Empty() BodyProducer {
	return &sliceProducer{}
}

func (p *sliceProducer) Next() ([]byte, error) {
	if p.released || p.pos >= len(p.chunks) {
		return nil, io.EOF
	}
	c := p.chunks[p.pos]
	p.pos++
	return c, nil
}

func (p *sliceProducer) Release() error {
	p.released = true
	p.chunks = nil
	return nil
}

type funcProducer struct {
	next    func() ([]byte, error)
	release func() error
	done    bool
}

// Produce builds a producer from a next function and an optional release
// function. After next returns an error it is not called again.
func Produce(next func() ([]byte, error), release func() error) BodyProducer {
	return &funcProducer{next: next, release: release}
}

func (p *funcProducer) Next() ([]byte, error) {
	if p.done {
		return nil, io.EOF
	}
	b, err := p.next()
	if err != nil {
		p.done = true
	}
	return b, err
}

func (p *funcProducer) Release() error {
	p.done = true
	if p.release == nil {
		return nil
	}
	return p.release()
}

type readerProducer struct {
	r    io.ReadCloser
	buf  []byte
	done bool
}

// FromReader streams r in chunks of size bytes; Release closes r.
func FromReader(r io.ReadCloser, size int) BodyProducer {
	if size <= 0 {
		size = 4 << 10
	}
	return &readerProducer{r: r, buf: make([]byte, size)}
}

func (p *readerProducer) Next() ([]byte, error) {
	if p.done {
		return nil, io.EOF
	}
	n, err := p.r.Read(p.buf)
	if err == io.EOF {
		p.done = true
		if n == 0 {
			return nil, io.EOF
		}
		err = nil
	}
	if err != nil {
		p.done = true
		return nil, err
	}
	return p.buf[:n], nil
}

func (p *readerProducer) Release() error {
	p.done = true
	return p.r.Close()
}
