// Package multipart decodes streamed multipart/form-data bodies into value
// and file parts. File payloads are written through to caller supplied sinks
// in fixed size chunks and are never buffered whole.
package multipart

import (
	"context"
	"io"
	"net/textproto"

	"appbridge/internal/shared"
)

// Part is one decoded section of a multipart body.
type Part struct {
	// Index is the 1-based position of the part in the body.
	Index       int
	Name        string
	Filename    string
	File        bool
	ContentType string
	Header      textproto.MIMEHeader

	// Value holds the payload of value parts.
	Value []byte

	// Size and Location describe the committed payload of file parts.
	Size     int64
	Location string
}

// Text returns the value decoded as UTF-8.
func (p *Part) Text() string {
	return shared.Text(p.Value)
}

// PartInfo is handed to a SinkFactory when a file part begins.
type PartInfo struct {
	Index       int
	Name        string
	Filename    string
	ContentType string
	Header      textproto.MIMEHeader
}

// Sink receives the payload of one file part. Nothing written to a sink is
// visible until Commit; Abort discards everything written so far. Rollback
// withdraws a committed payload when a later part of the same body fails to
// commit; it is a no-op on a sink that was never committed.
type Sink interface {
	io.Writer
	Location() string
	Commit() error
	Abort() error
	Rollback() error
}

// SinkFactory opens a sink for each file part.
type SinkFactory interface {
	Open(ctx context.Context, info PartInfo) (Sink, error)
}

// SinkFactoryFunc adapts a function to the SinkFactory interface.
type SinkFactoryFunc func(ctx context.Context, info PartInfo) (Sink, error)

func (f SinkFactoryFunc) Open(ctx context.Context, info PartInfo) (Sink, error) {
	return f(ctx, info)
}

type Config struct {
	// Sinks receives file parts. A file part with no factory configured is a
	// decode error.
	Sinks SinkFactory
	// ChunkSize is the size of sink writes and of the read window.
	ChunkSize int
	// MaxValueBytes bounds the memory held by one value part.
	MaxValueBytes int
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = shared.DefaultChunkSize
	}
	if c.MaxValueBytes <= 0 {
		c.MaxValueBytes = shared.DefaultMaxValueBytes
	}
	return c
}
