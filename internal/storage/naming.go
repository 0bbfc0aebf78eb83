// Package storage provides the upload sinks multipart file parts are written
// through to, and the naming policies deciding where they land.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"

	"appbridge/internal/multipart"
	"appbridge/internal/shared"

	"github.com/aidarkhanov/nanoid"
)

var ErrUnsafeName = errors.New("unsafe upload name")

// NamePolicy decides the destination name of an uploaded file part. Names are
// always reduced to a single safe path element by the stores.
type NamePolicy func(info multipart.PartInfo) (string, error)

// RandomNames names uploads with a random id, keeping a sanitized extension
// of the client supplied filename.
func RandomNames() NamePolicy {
	return func(info multipart.PartInfo) (string, error) {
		id, err := nanoid.Generate(shared.UploadNameAlphabet, shared.UploadNameLength)
		if err != nil {
			return "", err
		}
		return id + sanitize(filepath.Ext(baseName(info.Filename))), nil
	}
}

// SequentialNames names uploads prefix-1, prefix-2, ... for the lifetime of the
// policy. The counter is shared by concurrent requests.
func SequentialNames(prefix string) NamePolicy {
	var n atomic.Uint64
	return func(multipart.PartInfo) (string, error) {
		return fmt.Sprintf("%s-%d", prefix, n.Add(1)), nil
	}
}

// OriginalNames keeps the sanitized client supplied filename.
func OriginalNames() NamePolicy {
	return func(info multipart.PartInfo) (string, error) {
		name := strings.TrimLeft(sanitize(baseName(info.Filename)), ".")
		if name == "" {
			return "", fmt.Errorf("%w: %q", ErrUnsafeName, info.Filename)
		}
		return name, nil
	}
}

// baseName strips any directory component, whichever separator the client
// used.
func baseName(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func sanitize(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 255 {
		out = out[:255]
	}
	return out
}

// safeName validates a policy result as a single path element.
func safeName(name string) (string, error) {
	clean := sanitize(baseName(name))
	if clean == "" || clean[0] == '.' || clean != name {
		return "", fmt.Errorf("%w: %q", ErrUnsafeName, name)
	}
	return clean, nil
}
