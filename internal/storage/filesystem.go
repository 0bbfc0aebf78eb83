package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"appbridge/internal/metrics"
	"appbridge/internal/multipart"

	"go.uber.org/zap"
)

// FileStore writes uploads into a directory. Payloads go to a hidden partial
// file first and are linked to their final name on commit, so an aborted or
// colliding upload never leaves a half-written file under a real name.
type FileStore struct {
	dir  string
	name NamePolicy
	log  *zap.SugaredLogger
}

func NewFileStore(dir string, policy NamePolicy, log *zap.SugaredLogger) (*FileStore, error) {
	if policy == nil {
		policy = RandomNames()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}
	return &FileStore{dir: dir, name: policy, log: log}, nil
}

func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) Open(_ context.Context, info multipart.PartInfo) (multipart.Sink, error) {
	name, err := s.name(info)
	if err != nil {
		return nil, err
	}
	name, err = safeName(name)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return nil, fmt.Errorf("creating partial file: %w", err)
	}
	return &fileSink{f: f, final: filepath.Join(s.dir, name), log: s.log}, nil
}

type fileSink struct {
	f       *os.File
	final   string
	written   int64
	done      bool
	committed bool
	log       *zap.SugaredLogger
}

func (s *fileSink) Write(p []byte) (int, error) {
	n, err := s.f.Write(p)
	s.written += int64(n)
	return n, err
}

func (s *fileSink) Location() string {
	return s.final
}

func (s *fileSink) Commit() error {
	if s.done {
		return errors.New("sink already finished")
	}
	s.done = true
	tmp := s.f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	// link instead of rename so an existing upload is never replaced
	if err := os.Link(tmp, s.final); err != nil {
		return fmt.Errorf("publishing upload: %w", err)
	}
	s.committed = true
	metrics.UploadBytes.WithLabelValues("filesystem").Add(float64(s.written))
	metrics.Uploads.WithLabelValues("filesystem", "committed").Inc()
	s.log.Debugw("Committed upload", "path", s.final, "bytes", s.written)
	return nil
}

func (s *fileSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	_ = s.f.Close()
	metrics.Uploads.WithLabelValues("filesystem", "aborted").Inc()
	if err := os.Remove(s.f.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing partial upload: %w", err)
	}
	return nil
}

func (s *fileSink) Rollback() error {
	if !s.committed {
		return nil
	}
	s.committed = false
	metrics.Uploads.WithLabelValues("filesystem", "rolled_back").Inc()
	if err := os.Remove(s.final); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("withdrawing upload: %w", err)
	}
	s.log.Debugw("Rolled back upload", "path", s.final)
	return nil
}
