package multipart

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"appbridge/internal/shared"
)

type state int

const (
	stateSeekBoundary state = iota
	stateReadHeaders
	stateReadBody
	stateTerminated
)

func (s state) String() string {
	switch s {
	case stateSeekBoundary:
		return "seek_boundary"
	case stateReadHeaders:
		return "read_part_headers"
	case stateReadBody:
		return "read_part_body"
	case stateTerminated:
		return "terminated"
	}
	return "unknown"
}

type delimiter int

type openedSink struct {
	sink Sink
	part int
}

const (
	notDelimiter delimiter = iota
	partDelimiter
	finalDelimiter
)

var (
	crlf = []byte("\r\n")
	lf   = []byte("\n")
	cr   = []byte("\r")
)

var errDecoderUsed = errors.New("decoder already used")

// BoundaryFromContentType extracts and validates the boundary parameter of a
// multipart content type.
func BoundaryFromContentType(contentType string) (string, error) {
	if contentType == "" {
		return "", &shared.DecodeError{Err: shared.ErrMissingBoundary}
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", &shared.DecodeError{Err: fmt.Errorf("%w: %w", shared.ErrInvalidBoundary, err)}
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", &shared.DecodeError{Err: fmt.Errorf("%w: content type %q is not multipart", shared.ErrMissingBoundary, mediaType)}
	}
	boundary, ok := params["boundary"]
	if !ok {
		return "", &shared.DecodeError{Err: shared.ErrMissingBoundary}
	}
	if err := validBoundary(boundary); err != nil {
		return "", err
	}
	return boundary, nil
}

// validBoundary checks RFC 2046 boundary syntax: 1 to 70 characters, not
// ending in a space.
func validBoundary(b string) error {
	if b == "" {
		return &shared.DecodeError{Err: shared.ErrMissingBoundary}
	}
	if len(b) > shared.MaxBoundaryLength || b[len(b)-1] == ' ' || strings.ContainsAny(b, "\r\n") {
		return &shared.DecodeError{Err: shared.ErrInvalidBoundary}
	}
	return nil
}

// Decoder is a single use state machine over one multipart body:
// seek_boundary -> read_part_headers -> read_part_body -> (read_part_headers
// | terminated). Boundaries are only recognised at the start of a line.
type Decoder struct {
	r     *bufio.Reader
	delim []byte
	cfg   Config
	used  bool

	state       state
	seen        int
	atLineStart bool
	parts       []*Part
	cur         *Part
	header      textproto.MIMEHeader
	lastKey     string

	sink    Sink
	opened  []openedSink
	chunk   []byte
	value   bytes.Buffer
	pending []byte
}

func NewDecoder(r io.Reader, boundary string, cfg Config) (*Decoder, error) {
	if err := validBoundary(boundary); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	window := max(cfg.ChunkSize, 2*(len(boundary)+8), 512)
	return &Decoder{
		r:     bufio.NewReaderSize(r, window),
		delim: []byte("--" + boundary),
		cfg:   cfg,
		chunk: make([]byte, 0, cfg.ChunkSize),
	}, nil
}

// Decode consumes the body up to the terminal boundary and returns the parts
// in order of appearance. File sinks are committed only when the whole body
// decoded; on error every sink opened so far is aborted.
func (d *Decoder) Decode(ctx context.Context) (parts []*Part, err error) {
	if d.used {
		return nil, &shared.DecodeError{Err: errDecoderUsed}
	}
	d.used = true
	d.atLineStart = true

	defer func() {
		if err != nil {
			abortErr := d.abort()
			var de *shared.DecodeError
			if !errors.As(err, &de) {
				de = &shared.DecodeError{Part: d.seen, Err: err}
				err = de
			}
			if abortErr != nil {
				de.Err = errors.Join(de.Err, abortErr)
			}
		}
	}()

	for d.state != stateTerminated {
		line, rerr := d.r.ReadSlice('\n')
		eof := false
		switch {
		case rerr == nil, errors.Is(rerr, bufio.ErrBufferFull):
		case errors.Is(rerr, io.EOF):
			eof = true
		default:
			return nil, fmt.Errorf("reading body: %w", rerr)
		}
		if eof && len(line) == 0 {
			return nil, d.truncated()
		}

		lineStart := d.atLineStart
		complete := line[len(line)-1] == '\n'
		d.atLineStart = complete
		kind := notDelimiter
		if lineStart && (complete || eof) {
			kind = d.delimiterKind(line)
		}

		switch d.state {
		case stateSeekBoundary:
			// preamble is ignored
			if err := d.onDelimiter(kind); err != nil {
				return nil, err
			}
		case stateReadHeaders:
			if eof {
				return nil, d.truncated()
			}
			if !complete {
				return nil, shared.ErrHeaderTooLong
			}
			if err := d.headerLine(ctx, line); err != nil {
				return nil, err
			}
		case stateReadBody:
			if kind != notDelimiter {
				if err := d.endPart(); err != nil {
					return nil, err
				}
				if err := d.onDelimiter(kind); err != nil {
					return nil, err
				}
				continue
			}
			if err := d.bodyLine(line, complete); err != nil {
				return nil, err
			}
		}
		if eof && d.state != stateTerminated {
			return nil, d.truncated()
		}
	}

	if err := d.commit(); err != nil {
		return nil, err
	}
	return d.parts, nil
}

func (d *Decoder) truncated() error {
	return fmt.Errorf("%w (in %s)", shared.ErrTruncated, d.state)
}

func (d *Decoder) delimiterKind(line []byte) delimiter {
	line = bytes.TrimSuffix(line, lf)
	line = bytes.TrimSuffix(line, cr)
	line = bytes.TrimRight(line, " \t")
	if !bytes.HasPrefix(line, d.delim) {
		return notDelimiter
	}
	switch rest := line[len(d.delim):]; {
	case len(rest) == 0:
		return partDelimiter
	case string(rest) == "--":
		return finalDelimiter
	}
	return notDelimiter
}

func (d *Decoder) onDelimiter(kind delimiter) error {
	switch kind {
	case partDelimiter:
		d.state = stateReadHeaders
		d.seen++
		d.header = textproto.MIMEHeader{}
		d.lastKey = ""
	case finalDelimiter:
		d.state = stateTerminated
	}
	return nil
}

func (d *Decoder) headerLine(ctx context.Context, line []byte) error {
	text := strings.TrimRight(string(line), "\r\n")
	if text == "" {
		return d.beginPart(ctx)
	}
	if text[0] == ' ' || text[0] == '\t' {
		// obsolete line folding
		if d.lastKey == "" {
			return shared.ErrMalformedHeader
		}
		vals := d.header[d.lastKey]
		vals[len(vals)-1] += " " + strings.TrimSpace(text)
		return nil
	}
	name, value, ok := strings.Cut(text, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("%w: %q", shared.ErrMalformedHeader, text)
	}
	key := textproto.CanonicalMIMEHeaderKey(name)
	d.header.Add(key, strings.TrimSpace(value))
	d.lastKey = key
	return nil
}

func (d *Decoder) beginPart(ctx context.Context) error {
	part := &Part{
		Index:       d.seen,
		Header:      d.header,
		ContentType: d.header.Get("Content-Type"),
	}
	d.parts = append(d.parts, part)
	if part.ContentType == "" {
		part.ContentType = shared.DefaultContentType
	}

	disposition := d.header.Get("Content-Disposition")
	if disposition == "" {
		return shared.ErrMissingFieldName
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return fmt.Errorf("%w: %w", shared.ErrMalformedHeader, err)
	}
	part.Name = params["name"]
	if part.Name == "" {
		return shared.ErrMissingFieldName
	}
	part.Filename, part.File = params["filename"]

	d.cur = part
	d.pending = nil
	d.value.Reset()
	d.chunk = d.chunk[:0]
	d.state = stateReadBody

	if !part.File {
		return nil
	}
	if d.cfg.Sinks == nil {
		return shared.ErrNoSinks
	}
	sink, err := d.cfg.Sinks.Open(ctx, PartInfo{
		Index:       part.Index,
		Name:        part.Name,
		Filename:    part.Filename,
		ContentType: part.ContentType,
		Header:      part.Header,
	})
	if err != nil {
		return fmt.Errorf("opening sink: %w", err)
	}
	d.sink = sink
	d.opened = append(d.opened, openedSink{sink: sink, part: part.Index})
	return nil
}

// bodyLine emits one line or line fragment. The end of line is held back
// until the next line is known not to be a delimiter, since the CRLF before a
// delimiter belongs to the delimiter.
func (d *Decoder) bodyLine(line []byte, complete bool) error {
	if len(d.pending) == 1 && d.pending[0] == '\r' && string(line) == "\n" {
		// CRLF split across two reads
		d.pending = crlf
		return nil
	}
	if err := d.emit(d.pending); err != nil {
		return err
	}
	d.pending = nil
	switch {
	case complete && bytes.HasSuffix(line, crlf):
		d.pending = crlf
		line = line[:len(line)-2]
	case complete:
		d.pending = lf
		line = line[:len(line)-1]
	case line[len(line)-1] == '\r':
		d.pending = cr
		line = line[:len(line)-1]
	}
	return d.emit(line)
}

func (d *Decoder) emit(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if !d.cur.File {
		if d.value.Len()+len(p) > d.cfg.MaxValueBytes {
			return shared.ErrValueTooLarge
		}
		d.value.Write(p)
		return nil
	}
	for len(p) > 0 {
		n := min(cap(d.chunk)-len(d.chunk), len(p))
		d.chunk = append(d.chunk, p[:n]...)
		p = p[n:]
		if len(d.chunk) == cap(d.chunk) {
			if err := d.flushChunk(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *Decoder) flushChunk() error {
	if len(d.chunk) == 0 {
		return nil
	}
	n, err := d.sink.Write(d.chunk)
	d.cur.Size += int64(n)
	d.chunk = d.chunk[:0]
	if err != nil {
		return fmt.Errorf("writing sink: %w", err)
	}
	return nil
}

func (d *Decoder) endPart() error {
	part := d.cur
	d.pending = nil
	if part.File {
		if err := d.flushChunk(); err != nil {
			return err
		}
		part.Location = d.sink.Location()
		d.sink = nil
	} else {
		part.Value = bytes.Clone(d.value.Bytes())
		if part.Value == nil {
			part.Value = []byte{}
		}
	}
	d.cur = nil
	return nil
}

// commit publishes every sink in order. When one fails, the sinks already
// published are rolled back and the rest are left for abort, so a failed body
// never leaves any of its uploads behind.
func (d *Decoder) commit() error {
	for i, o := range d.opened {
		err := o.sink.Commit()
		if err == nil {
			continue
		}
		errs := []error{fmt.Errorf("committing sink %s: %w", o.sink.Location(), err)}
		for _, done := range d.opened[:i] {
			if rerr := done.sink.Rollback(); rerr != nil {
				errs = append(errs, fmt.Errorf("rolling back sink %s: %w", done.sink.Location(), rerr))
			}
		}
		d.opened = d.opened[i:]
		return &shared.DecodeError{Part: o.part, Err: errors.Join(errs...)}
	}
	d.opened = nil
	return nil
}

func (d *Decoder) abort() error {
	var errs []error
	for _, o := range d.opened {
		if err := o.sink.Abort(); err != nil {
			errs = append(errs, fmt.Errorf("aborting sink %s: %w", o.sink.Location(), err))
		}
	}
	d.opened = nil
	d.sink = nil
	return errors.Join(errs...)
}
